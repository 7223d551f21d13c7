// Package secrets resolves API keys for external providers. Lookup order:
// environment variable, OS keyring, JSON file fallback. The fallback exists
// for environments with no system keyring (headless lab machines).
package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned when a key is not present in any backend.
var ErrNotFound = errors.New("secrets: key not found")

const defaultService = "interactive-gym"

// Store resolves named API keys. Names are provider identifiers like
// "openai" or "gemini"; the environment variable form is <NAME>_API_KEY.
type Store struct {
	service      string
	fallbackPath string
	mu           sync.Mutex
}

// NewStore creates a key store. An empty service uses the default namespace;
// an empty fallbackPath disables the file fallback.
func NewStore(service, fallbackPath string) *Store {
	if strings.TrimSpace(service) == "" {
		service = defaultService
	}
	return &Store{service: service, fallbackPath: fallbackPath}
}

// EnvVar returns the environment variable name consulted for a key name.
func EnvVar(name string) string {
	return strings.ToUpper(strings.TrimSpace(name)) + "_API_KEY"
}

// Get resolves a key: env var first, then keyring, then the file fallback.
func (s *Store) Get(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("secrets: key name is required")
	}

	if val := os.Getenv(EnvVar(name)); val != "" {
		return val, nil
	}

	val, err := keyring.Get(s.service, name)
	if err == nil {
		return val, nil
	}
	if !isKeyringUnavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("secrets: keyring get %q: %w", name, err)
	}

	fval, ferr := s.getFallback(name)
	if ferr == nil {
		return fval, nil
	}
	return "", ErrNotFound
}

// Set stores a key, keyring first with the file fallback when the keyring
// is unavailable.
func (s *Store) Set(name, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("secrets: key name is required")
	}

	err := keyring.Set(s.service, name, value)
	if err == nil {
		return nil
	}
	if !isKeyringUnavailable(err) {
		return fmt.Errorf("secrets: keyring set %q: %w", name, err)
	}
	return s.setFallback(name, value)
}

// Delete removes a key from both backends.
func (s *Store) Delete(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("secrets: key name is required")
	}

	kerr := keyring.Delete(s.service, name)
	if kerr != nil && !errors.Is(kerr, keyring.ErrNotFound) && !isKeyringUnavailable(kerr) {
		return fmt.Errorf("secrets: keyring delete %q: %w", name, kerr)
	}
	return s.deleteFallback(name)
}

func isKeyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secret service") ||
		strings.Contains(msg, "dbus") ||
		strings.Contains(msg, "no keychain") ||
		strings.Contains(msg, "keyring backend not available")
}

func (s *Store) getFallback(name string) (string, error) {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return "", ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFallbackUnlocked()
	if err != nil {
		return "", err
	}
	val, ok := data[name]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *Store) setFallback(name, value string) error {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return fmt.Errorf("secrets: keyring unavailable and no fallback path configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFallbackUnlocked()
	if err != nil {
		return err
	}
	data[name] = value
	return s.writeFallbackUnlocked(data)
}

func (s *Store) deleteFallback(name string) error {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFallbackUnlocked()
	if err != nil {
		return err
	}
	delete(data, name)
	return s.writeFallbackUnlocked(data)
}

func (s *Store) readFallbackUnlocked() (map[string]string, error) {
	out := map[string]string{}
	raw, err := os.ReadFile(s.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("secrets: read fallback file: %w", err)
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("secrets: decode fallback file: %w", err)
	}
	return out, nil
}

func (s *Store) writeFallbackUnlocked(data map[string]string) error {
	dir := filepath.Dir(s.fallbackPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("secrets: mkdir fallback dir: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("secrets: encode fallback file: %w", err)
	}
	if err := os.WriteFile(s.fallbackPath, raw, 0o600); err != nil {
		return fmt.Errorf("secrets: write fallback file: %w", err)
	}
	return nil
}
