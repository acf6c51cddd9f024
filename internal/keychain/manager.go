// Copyright (c) 2025 Quest
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package keychain stores connection strings in the OS keychain/credential store.
// Each saved connection has one entry keyed by its name; the config file only keeps the
// names, so passwords never touch the filesystem in clear text.
//
// macOS uses the native security command when available and falls back to the keyring
// library (Keychain, then pass). Windows uses Credential Manager and Linux the Secret
// Service, KWallet or pass.
package keychain

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

// ServiceName identifies our keychain/credential store namespace.
const ServiceName = "quest"

// keyPrefix namespaces connection entries inside the service.
const keyPrefix = "conn/"

// ErrNotFound is returned when no DSN is stored under a connection name.
var ErrNotFound = errors.New("no stored connection with that name")

// Manager provides thread-safe operations for the OS keychain.
type Manager struct {
	mu      sync.RWMutex
	backend keychainBackend
}

// keychainBackend defines the interface for keychain operations.
type keychainBackend interface {
	Set(key, value string) error
	Get(key string) (string, error)
	Delete(key string) error
}

// NewManager creates a new keychain manager with the OS keyring initialized.
func NewManager(logger *slog.Logger) (*Manager, error) {
	// Try native security backend first on macOS
	if runtime.GOOS == "darwin" {
		backend, err := newSecurityBackend(logger)
		if err == nil {
			return &Manager{backend: backend}, nil
		}
		logger.Debug("security command unavailable, using keyring", "err", err)
	}

	ring, err := openRing()
	if err != nil {
		return nil, err
	}
	return NewWithKeyring(ring), nil
}

// NewWithKeyring creates a manager over an already opened keyring.
func NewWithKeyring(ring keyring.Keyring) *Manager {
	return &Manager{backend: ringBackend{ring: ring}}
}

// openRing opens the OS keyring using native platform backends only. There is no
// file fallback.
func openRing() (keyring.Keyring, error) {
	var allowedBackends []keyring.BackendType
	switch runtime.GOOS {
	case "darwin":
		// Pass requires 'pass' utility installed: brew install pass
		allowedBackends = []keyring.BackendType{keyring.KeychainBackend, keyring.PassBackend}
	case "windows":
		allowedBackends = []keyring.BackendType{keyring.WinCredBackend}
	case "linux", "freebsd", "openbsd":
		allowedBackends = []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.PassBackend,
		}
	default:
		return nil, fmt.Errorf("secure storage not supported on %s", runtime.GOOS)
	}

	cfg := keyring.Config{
		ServiceName:     ServiceName,
		AllowedBackends: allowedBackends,
		PassPrefix:      ServiceName,
		WinCredPrefix:   ServiceName,
	}

	ring, err := keyring.Open(cfg)
	if err != nil {
		if runtime.GOOS == "darwin" {
			return nil, errors.New("macOS Keychain unavailable. On macOS 26.0+, install 'pass': brew install pass gnupg && gpg --generate-key && pass init <gpg-key-id>")
		}
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return ring, nil
}

func dsnKey(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("connection name is empty")
	}
	return keyPrefix + name, nil
}

// SaveDSN stores the DSN of the named connection, replacing any previous value.
func (m *Manager) SaveDSN(name, dsn string) error {
	key, err := dsnKey(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.Set(key, dsn)
}

// LoadDSN retrieves the DSN of the named connection. It returns ErrNotFound when the
// entry is missing or empty.
func (m *Manager) LoadDSN(name string) (string, error) {
	key, err := dsnKey(name)
	if err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	dsn, err := m.backend.Get(key)
	if err != nil {
		return "", err
	}
	if dsn == "" {
		return "", ErrNotFound
	}
	return dsn, nil
}

// DeleteDSN removes the named connection. Missing entries are not an error.
func (m *Manager) DeleteDSN(name string) error {
	key, err := dsnKey(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.backend.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// ringBackend adapts keyring.Keyring to keychainBackend.
type ringBackend struct {
	ring keyring.Keyring
}

func (r ringBackend) Set(key, value string) error {
	return r.ring.Set(keyring.Item{Key: key, Label: ServiceName + " " + key, Data: []byte(value)})
}

func (r ringBackend) Get(key string) (string, error) {
	it, err := r.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(it.Data), nil
}

func (r ringBackend) Delete(key string) error {
	if err := r.ring.Remove(key); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}
