package credentials

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// ErrKeyringNotAvailable is returned when no OS keyring service can be reached
var ErrKeyringNotAvailable = errors.New("system keyring not available")

// ErrNotFound is returned when the keyring holds no secret for the account
var ErrNotFound = errors.New("secret not found in keyring")

// systemKeyring stores secrets in the OS keyring (Secret Service, Keychain, Credential Manager)
type systemKeyring struct{}

func (systemKeyring) Set(service, account, secret string) error {
	return keyringError(keyring.Set(service, account, secret))
}

func (systemKeyring) Get(service, account string) (string, error) {
	secret, err := keyring.Get(service, account)
	return secret, keyringError(err)
}

func (systemKeyring) Delete(service, account string) error {
	return keyringError(keyring.Delete(service, account))
}

// keyringError maps go-keyring errors onto the package errors
func keyringError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, keyring.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, keyring.ErrSetDataTooBig):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrKeyringNotAvailable, err)
	}
}

// MemoryKeyring is an in-process Keyring for tests and headless setups
type MemoryKeyring struct {
	mu    sync.RWMutex
	store map[string]map[string]string // service -> account -> secret
}

// NewMemoryKeyring creates an empty in-memory keyring
func NewMemoryKeyring() *MemoryKeyring {
	return &MemoryKeyring{
		store: make(map[string]map[string]string),
	}
}

// Set stores a secret
func (m *MemoryKeyring) Set(service, account, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store[service] == nil {
		m.store[service] = make(map[string]string)
	}
	m.store[service][account] = secret
	return nil
}

// Get retrieves a secret
func (m *MemoryKeyring) Get(service, account string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if secret, ok := m.store[service][account]; ok {
		return secret, nil
	}
	return "", ErrNotFound
}

// Delete removes a secret
func (m *MemoryKeyring) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.store[service][account]; !ok {
		return ErrNotFound
	}
	delete(m.store[service], account)
	return nil
}
