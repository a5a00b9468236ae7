package credentials

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// CLIHandler handles CLI commands for credential management
type CLIHandler struct {
	manager *Manager
	stdin   io.Reader
	stdout  io.Writer
}

// NewCLIHandler creates a new CLI handler for credential commands
func NewCLIHandler(manager *Manager, stdin io.Reader, stdout io.Writer) *CLIHandler {
	return &CLIHandler{
		manager: manager,
		stdin:   stdin,
		stdout:  stdout,
	}
}

// Set prompts for a key and stores it in the keyring
func (h *CLIHandler) Set(ctx context.Context, store string) error {
	key, err := PromptAPIKey(h.stdin, h.stdout, store)
	if err != nil {
		return fmt.Errorf("failed to read api key: %w", err)
	}

	if err := h.manager.Set(ctx, store, key); err != nil {
		if errors.Is(err, ErrKeyringNotAvailable) {
			return h.keyringNotAvailableError(store)
		}
		return fmt.Errorf("failed to store api key: %w", err)
	}

	_, _ = fmt.Fprintf(h.stdout, "API key for %s stored in system keyring\n", store)
	return nil
}

func (h *CLIHandler) keyringNotAvailableError(store string) error {
	return fmt.Errorf(`system keyring not available

Set the key through the environment instead:
  export %s="your-api-key"
or, for any store:
  export %s="your-api-key"`, EnvName(store), OverrideEnv)
}

// Get reports where the key of a store comes from. The key itself is never printed.
func (h *CLIHandler) Get(ctx context.Context, store string, jsonOutput bool) error {
	info, err := h.manager.Get(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to get api key: %w", err)
	}

	if jsonOutput {
		data, err := info.JSON()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(h.stdout, string(data))
		return nil
	}

	if !info.Found {
		_, _ = fmt.Fprintf(h.stdout, "No API key found for %s\n", info.Store)
		_, _ = fmt.Fprintf(h.stdout, "Searched:\n")
		_, _ = fmt.Fprintf(h.stdout, "  - %s\n", OverrideEnv)
		_, _ = fmt.Fprintf(h.stdout, "  - System keyring (%s)\n", ServiceName(info.Store))
		_, _ = fmt.Fprintf(h.stdout, "  - %s\n", EnvName(info.Store))
		_, _ = fmt.Fprintf(h.stdout, "\nSuggestion: Run 'milista credentials set %s'\n", info.Store)
		return nil
	}

	_, _ = fmt.Fprintf(h.stdout, "Store: %s\n", info.Store)
	_, _ = fmt.Fprintf(h.stdout, "Source: %s\n", info.Source)
	_, _ = fmt.Fprintf(h.stdout, "API key: ******** (hidden)\n")
	return nil
}

// Delete removes the key of a store from the keyring
func (h *CLIHandler) Delete(ctx context.Context, store string) error {
	if err := h.manager.Delete(ctx, store); err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}

	_, _ = fmt.Fprintf(h.stdout, "API key for %s removed from system keyring\n", store)
	return nil
}
