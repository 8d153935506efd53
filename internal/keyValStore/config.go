package keyValStore

import (
	"errors"
	"os"
	"time"

	"github.com/i5heu/seedgate/pkg/auth"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
)

const DefaultTTL = 30 * time.Minute

type StoreConfig struct {
	Path             string // empty keeps everything in memory
	MinimumFreeSpace int    // in GB
	EncryptionKey    []byte // 32 bytes; a random key is generated when empty
	TTL              time.Duration
	Clock            auth.Clock
	Logger           *logrus.Logger
}

func (sc *StoreConfig) checkConfig() error {
	if sc.TTL <= 0 {
		sc.TTL = DefaultTTL
	}
	if sc.Clock == nil {
		sc.Clock = auth.SystemClock
	}

	if len(sc.EncryptionKey) != 0 && len(sc.EncryptionKey) != chacha20poly1305.KeySize {
		return errors.New("encryption key must be 32 bytes")
	}

	if sc.Path == "" {
		return nil
	}

	info, err := os.Stat(sc.Path)
	if os.IsNotExist(err) {
		return errors.New("path does not exist")
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("path is not a directory")
	}

	free, err := freeSpaceInGB(sc.Path)
	if err != nil {
		return err
	}
	if free < uint64(sc.MinimumFreeSpace) {
		return errors.New("not enough space available on disk")
	}

	return nil
}
