// Package keyValStore is the encrypted session store behind the
// authentication handshake. Entries expire after a sliding TTL: every
// successful read pushes the expiry forward.
package keyValStore

import (
	"context"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

type KeyValStore struct {
	config       StoreConfig
	badgerDB     *badger.DB
	aead         cipher.AEAD
	macKey       []byte
	log          *logrus.Logger
	stripes      [keyStripes]sync.Mutex
	readCounter  uint64
	writeCounter uint64
}

const (
	keyStripes = 64
	// maxConflictRetries bounds retries of a transaction that lost a
	// conflict against another process sharing the store.
	maxConflictRetries = 8
)

// record is the plaintext of a stored entry.
type record struct {
	Value     string `json:"v"`
	ExpiresAt int64  `json:"e"` // unix nanoseconds
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
		config.Logger.SetLevel(logrus.WarnLevel)
	}

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	masterKey := config.EncryptionKey
	if len(masterKey) == 0 {
		masterKey = make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(masterKey); err != nil {
			return nil, fmt.Errorf("generate session encryption key: %w", err)
		}
	}
	encKey, macKey, err := splitKey(masterKey)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, fmt.Errorf("session cipher: %w", err)
	}

	opts := badger.DefaultOptions(config.Path)
	if config.Path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts.ValueLogFileSize = 1024 * 1024 * 16
		opts.SyncWrites = true
	}
	opts.Logger = config.Logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	if config.Path != "" {
		if err := displayDiskUsage(config.Logger, config.Path); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &KeyValStore{
		config:   config,
		badgerDB: db,
		aead:     aead,
		macKey:   macKey,
		log:      config.Logger,
	}, nil
}

// Set stores value under key with a fresh expiry.
func (k *KeyValStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	atomic.AddUint64(&k.writeCounter, 1)

	dbKey := k.storageKey(key)
	unlock := k.lock(dbKey)
	defer unlock()
	return k.update(func(txn *badger.Txn) error {
		return k.put(txn, dbKey, value)
	})
}

// Get returns the value under key and refreshes its expiry in the same
// transaction. Expired entries are removed and reported as absent.
func (k *KeyValStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	atomic.AddUint64(&k.readCounter, 1)

	dbKey := k.storageKey(key)
	unlock := k.lock(dbKey)
	defer unlock()

	var (
		value string
		found bool
	)
	err := k.update(func(txn *badger.Txn) error {
		value, found = "", false
		item, err := txn.Get(dbKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		sealed, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		rec, err := k.open(dbKey, sealed)
		if err != nil {
			return err
		}
		if k.config.Clock.Now().UnixNano() >= rec.ExpiresAt {
			return txn.Delete(dbKey)
		}
		value, found = rec.Value, true
		return k.put(txn, dbKey, rec.Value)
	})
	if err != nil {
		return "", false, fmt.Errorf("read session entry: %w", err)
	}
	return value, found, nil
}

// Remove deletes key. Removing an absent key is not an error.
func (k *KeyValStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	atomic.AddUint64(&k.writeCounter, 1)

	dbKey := k.storageKey(key)
	unlock := k.lock(dbKey)
	defer unlock()
	return k.update(func(txn *badger.Txn) error {
		return txn.Delete(dbKey)
	})
}

// lock serializes read-then-extend on one storage key. Keys share a
// fixed set of stripes.
func (k *KeyValStore) lock(dbKey []byte) func() {
	m := &k.stripes[dbKey[0]%keyStripes]
	m.Lock()
	return m.Unlock
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (k *KeyValStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = k.badgerDB.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		k.log.WithField("attempt", attempt+1).Debug("session store transaction conflict, retrying")
	}
	return err
}

// Counters returns the number of reads and writes since start.
func (k *KeyValStore) Counters() (reads, writes uint64) {
	return atomic.LoadUint64(&k.readCounter), atomic.LoadUint64(&k.writeCounter)
}

// StartMaintenance runs value log garbage collection every interval until
// ctx is done.
func (k *KeyValStore) StartMaintenance(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reads, writes := k.Counters()
				k.log.WithFields(logrus.Fields{
					"reads":  reads,
					"writes": writes,
				}).Debug("session store maintenance")
				if err := k.Clean(); err != nil {
					k.log.Warnf("session store cleanup: %v", err)
				}
			}
		}
	}()
}

func (k *KeyValStore) Close() error {
	return k.badgerDB.Close()
}

func (k *KeyValStore) Clean() error {
	if k.config.Path == "" {
		return nil
	}

	err := k.badgerDB.Sync()
	if err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	err = k.badgerDB.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("error cleaning db: %w", err)
	}

	return nil
}

func (k *KeyValStore) put(txn *badger.Txn, dbKey []byte, value string) error {
	rec := record{
		Value:     value,
		ExpiresAt: k.config.Clock.Now().Add(k.config.TTL).UnixNano(),
	}
	sealed, err := k.seal(dbKey, rec)
	if err != nil {
		return err
	}
	// badger's own TTL only reclaims space; expiry is decided by the clock
	e := badger.NewEntry(dbKey, sealed).WithTTL(2 * k.config.TTL)
	return txn.SetEntry(e)
}

// storageKey hides the caller's key, which may itself be a secret token.
func (k *KeyValStore) storageKey(key string) []byte {
	m := hmac.New(sha256.New, k.macKey)
	m.Write([]byte(key))
	return m.Sum(nil)
}

func (k *KeyValStore) seal(dbKey []byte, rec record) ([]byte, error) {
	plain, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, k.aead.NonceSize(), k.aead.NonceSize()+len(plain)+k.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return k.aead.Seal(nonce, nonce, plain, dbKey), nil
}

func (k *KeyValStore) open(dbKey, sealed []byte) (record, error) {
	var rec record
	if len(sealed) < k.aead.NonceSize() {
		return rec, errors.New("session entry is truncated")
	}
	plain, err := k.aead.Open(nil, sealed[:k.aead.NonceSize()], sealed[k.aead.NonceSize():], dbKey)
	if err != nil {
		return rec, fmt.Errorf("session entry failed authentication: %w", err)
	}
	err = json.Unmarshal(plain, &rec)
	return rec, err
}

func splitKey(master []byte) (encKey, macKey []byte, err error) {
	r := hkdf.New(sha256.New, master, nil, []byte("seedgate/v1/session-store"))
	encKey = make([]byte, chacha20poly1305.KeySize)
	macKey = make([]byte, 32)
	if _, err := io.ReadFull(r, encKey); err != nil {
		return nil, nil, fmt.Errorf("derive session keys: %w", err)
	}
	if _, err := io.ReadFull(r, macKey); err != nil {
		return nil, nil, fmt.Errorf("derive session keys: %w", err)
	}
	return encKey, macKey, nil
}
