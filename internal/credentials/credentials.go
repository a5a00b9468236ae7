// Package credentials stores the API keys of milista stores in the OS
// keyring, with fallback to environment variables.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"milista/internal/utils"
)

// Account is the keyring account under which API keys are stored
const Account = "api-key"

// OverrideEnv takes precedence over every other source
const OverrideEnv = "MILISTA_API_KEY"

// Source indicates where a key was retrieved from
type Source string

const (
	SourceOverride    Source = "override"
	SourceKeyring     Source = "keyring"
	SourceEnvironment Source = "environment"
	SourceNone        Source = "none"
)

// KeyInfo describes the API key found for a store
type KeyInfo struct {
	Store  string
	Source Source
	Key    string
	Found  bool
}

// JSON serializes the key info to JSON (key excluded)
func (k *KeyInfo) JSON() ([]byte, error) {
	output := struct {
		Store  string `json:"store"`
		Source string `json:"source"`
		Found  bool   `json:"found"`
	}{
		Store:  k.Store,
		Source: string(k.Source),
		Found:  k.Found,
	}
	return json.Marshal(output)
}

// Keyring is the interface for keyring operations
type Keyring interface {
	Set(service, account, secret string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// Manager handles credential operations
type Manager struct {
	keyring Keyring
	getenv  func(string) string
}

// ManagerOption is a functional option for Manager
type ManagerOption func(*Manager)

// WithKeyring sets a custom keyring implementation
func WithKeyring(k Keyring) ManagerOption {
	return func(m *Manager) {
		m.keyring = k
	}
}

// WithGetenv replaces the environment lookup
func WithGetenv(getenv func(string) string) ManagerOption {
	return func(m *Manager) {
		m.getenv = getenv
	}
}

// NewManager creates a new credential manager
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		keyring: systemKeyring{},
		getenv:  os.Getenv,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func normalizeStore(store string) string {
	return strings.ToLower(strings.TrimSpace(store))
}

// ServiceName returns the keyring service name for a store
func ServiceName(store string) string {
	return "milista-" + normalizeStore(store)
}

// EnvName returns the environment variable holding a store's key
func EnvName(store string) string {
	upper := strings.ToUpper(normalizeStore(store))
	return "MILISTA_" + strings.ReplaceAll(upper, "-", "_") + "_API_KEY"
}

// Set stores a key in the keyring
func (m *Manager) Set(ctx context.Context, store, key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("api key is empty")
	}
	return m.keyring.Set(ServiceName(store), Account, key)
}

// Get looks the key up in the override variable, the keyring and the
// store's environment variable, in that order. An unreachable keyring is
// treated like an empty one.
func (m *Manager) Get(ctx context.Context, store string) (*KeyInfo, error) {
	store = normalizeStore(store)
	info := &KeyInfo{Store: store, Source: SourceNone}

	if key := m.getenv(OverrideEnv); key != "" {
		info.Source, info.Key, info.Found = SourceOverride, key, true
		return info, nil
	}

	key, err := m.keyring.Get(ServiceName(store), Account)
	switch {
	case err == nil && key != "":
		info.Source, info.Key, info.Found = SourceKeyring, key, true
		return info, nil
	case err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrKeyringNotAvailable):
		return nil, fmt.Errorf("read keyring: %w", err)
	}

	if key := m.getenv(EnvName(store)); key != "" {
		info.Source, info.Key, info.Found = SourceEnvironment, key, true
	}
	return info, nil
}

// Delete removes a key from the keyring. Deleting a missing key is not an error.
func (m *Manager) Delete(ctx context.Context, store string) error {
	err := m.keyring.Delete(ServiceName(store), Account)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// PromptAPIKey asks for a key. Input is not echoed when reader is a terminal.
func PromptAPIKey(reader io.Reader, writer io.Writer, store string) (string, error) {
	_, _ = fmt.Fprintf(writer, "Enter API key for %s: ", store)

	if f, ok := reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		key, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(writer)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(key)), nil
	}

	key, err := utils.ReadStringWithReader(reader)
	if err != nil {
		return "", fmt.Errorf("no input received")
	}
	return key, nil
}
