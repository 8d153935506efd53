package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/i5heu/seedgate/pkg/diceKey"
	"github.com/i5heu/seedgate/pkg/seedAccessor"
)

const sessionKeySize = 32

// fileKeyLoader reads the physical key from path on every request, so the
// key is only in memory while a command runs.
func fileKeyLoader(path string) seedAccessor.KeyLoader {
	return seedAccessor.KeyLoaderFunc(func(ctx context.Context) (diceKey.Key, error) {
		if err := ctx.Err(); err != nil {
			return diceKey.Key{}, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return diceKey.Key{}, fmt.Errorf("read key file: %w", err)
		}
		key, err := diceKey.ParseHumanReadable(string(data))
		if err != nil {
			return diceKey.Key{}, fmt.Errorf("parse key file: %w", err)
		}
		return key, nil
	})
}

// loadOrCreateSessionKey returns the session store key kept at path,
// creating it when missing. An empty path gives a key for this process only.
func loadOrCreateSessionKey(path string, logger *slog.Logger) ([]byte, error) {
	if path == "" {
		return nil, nil
	}

	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != sessionKeySize {
			return nil, fmt.Errorf("session key %s must be %d bytes, got %d", path, sessionKeySize, len(key))
		}
		logger.Debug("loaded session key", logKeyKeyFile, path)
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read session key: %w", err)
	}

	key = make([]byte, sessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create session key directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("save session key: %w", err)
	}
	logger.Info("created session key", logKeyKeyFile, path)
	return key, nil
}
