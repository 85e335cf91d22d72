package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// storedCredential is the on-disk shape of a saved login.
type storedCredential struct {
	Token   string `yaml:"token"`
	UserID  string `yaml:"user_id,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// FileStore keeps a single credential in a YAML file with 0600
// permissions. It implements CredentialSource.
type FileStore struct {
	path string

	mu     sync.Mutex
	cached *storedCredential
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath is ~/.config/farmpay/credentials.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("user config dir: %w", err)
	}

	return filepath.Join(dir, "farmpay", "credentials.yaml"), nil
}

func (f *FileStore) Credential(context.Context) (string, bool) {
	c, err := f.load()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("read credential file", "path", f.path, "error", err)
		}

		return "", false
	}

	return c.Token, c.Token != ""
}

// UserID returns the subject stored with the credential, if any.
func (f *FileStore) UserID() string {
	c, err := f.load()
	if err != nil {
		return ""
	}

	return c.UserID
}

// Save persists a credential, replacing any previous one.
func (f *FileStore) Save(token, userID, baseURL string) error {
	c := &storedCredential{Token: token, UserID: userID, BaseURL: baseURL}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	err = os.MkdirAll(filepath.Dir(f.path), 0o700)
	if err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	err = os.WriteFile(f.path, data, 0o600)
	if err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}

	f.mu.Lock()
	f.cached = c
	f.mu.Unlock()

	return nil
}

// Clear removes the stored credential (logout).
func (f *FileStore) Clear() error {
	f.mu.Lock()
	f.cached = nil
	f.mu.Unlock()

	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credential file: %w", err)
	}

	return nil
}

func (f *FileStore) load() (*storedCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != nil {
		return f.cached, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	var c storedCredential

	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}

	f.cached = &c

	return &c, nil
}
