package utils

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a user-friendly suggestion.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// GetSuggestion returns the suggestion text.
func (e *ErrorWithSuggestion) GetSuggestion() string {
	return e.Suggestion
}

// Unwrap returns the underlying error for error chain support.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// ErrTaskNotFound returns an error for when a task is not found.
func ErrTaskNotFound(searchTerm string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("task not found: %s", searchTerm),
		Suggestion: "Check the search term or use 'milista list' to see all tasks",
	}
}

// ErrAmbiguousTask returns an error when a search term matches several tasks.
func ErrAmbiguousTask(searchTerm string, matches int) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%d tasks match %q", matches, searchTerm),
		Suggestion: "Use the task ID shown by 'milista list' instead",
	}
}

// ErrEmptyTaskText returns an error when a task text is blank.
func ErrEmptyTaskText() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("task text is empty"),
		Suggestion: "Provide some text, e.g. milista add \"Buy milk\"",
	}
}

// ErrStoreNotConfigured returns an error when a store is not configured.
func ErrStoreNotConfigured(name string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("store not configured: %s", name),
		Suggestion: fmt.Sprintf("Add a stores.%s section to your config file", name),
	}
}

// ErrUnknownStore returns an error for an unsupported store name.
func ErrUnknownStore(name string, valid []string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("unknown store: %s", name),
		Suggestion: fmt.Sprintf("Valid options: %s", strings.Join(valid, ", ")),
	}
}

// ErrStoreOffline returns an error when a store is unreachable with smart suggestions.
func ErrStoreOffline(name, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("store %s is offline: %s", name, reason),
		Suggestion: getSmartSuggestion(reason),
	}
}

// getSmartSuggestion returns a context-aware suggestion based on the error reason.
func getSmartSuggestion(reason string) string {
	lowerReason := strings.ToLower(reason)

	if strings.Contains(lowerReason, "no such host") || strings.Contains(lowerReason, "dns") {
		return "Check your DNS settings and internet connection"
	}

	if strings.Contains(lowerReason, "connection refused") {
		return "Check if the server is running and accessible"
	}

	if strings.Contains(lowerReason, "timeout") || strings.Contains(lowerReason, "i/o timeout") {
		return "The server may be slow or unreachable. Try again later"
	}

	return "Check your internet connection and try again"
}

// ErrAPIKeyNotFound returns an error when the API key for a store is missing.
func ErrAPIKeyNotFound(store string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("API key not found for store %s", store),
		Suggestion: fmt.Sprintf("Run 'milista credentials set %s' or export MILISTA_%s_API_KEY", store, strings.ToUpper(store)),
	}
}

// ErrProjectMismatch returns an error when a server serves another project.
func ErrProjectMismatch(store string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("store %s serves a different project", store),
		Suggestion: fmt.Sprintf("Set stores.%s.project to the project the server was started with", store),
	}
}

// ErrAuthenticationFailed returns an error when authentication fails.
func ErrAuthenticationFailed(store string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("authentication failed for %s", store),
		Suggestion: "Verify your API key is correct and has not been revoked",
	}
}
