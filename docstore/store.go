package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrInvalidPath = errors.New("docstore: invalid path")
)

// Store is the set of operations a path-addressed JSON document backend offers.
// A path is a slash separated key into the hierarchy, e.g. "movies" or "movies/-N1x2".
type Store interface {
	// Get returns the raw JSON stored at path. An absent node yields the JSON literal null.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Set writes doc as a new child below path and returns the key the backend assigned to it.
	Set(ctx context.Context, path string, doc any) (string, error)

	// Update merges the fields of doc into the node at path.
	Update(ctx context.Context, path string, doc any) error

	// Delete removes the node at path.
	Delete(ctx context.Context, path string) error
}

// StatusError is returned when the backend answers with a non-2xx status code.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("docstore: %s %s: unexpected status %d", e.Method, e.Path, e.Code)
	}

	return fmt.Sprintf("docstore: %s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, e.Message)
}

// IsEmpty reports whether raw represents an absent or empty node.
func IsEmpty(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))

	return trimmed == "" || trimmed == "null"
}

// CleanPath trims surrounding slashes and validates every segment of path.
func CleanPath(path string) (string, error) {
	cleaned := strings.Trim(path, "/")
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	for _, segment := range strings.Split(cleaned, "/") {
		if err := ValidateKey(segment); err != nil {
			return "", err
		}
	}

	return cleaned, nil
}

// ValidateKey checks a single path segment against the characters the backend refuses in keys.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidPath)
	}

	if len(key) > 768 {
		return fmt.Errorf("%w: key longer than 768 bytes", ErrInvalidPath)
	}

	for _, r := range key {
		if unicode.IsControl(r) || strings.ContainsRune(".$#[]/", r) {
			return fmt.Errorf("%w: key %q contains forbidden character %q", ErrInvalidPath, key, r)
		}
	}

	return nil
}
