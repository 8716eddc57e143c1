package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// CredentialStore persists a single credential record.
type CredentialStore interface {
	Save(*StoredCredentials) error
	Load() (*StoredCredentials, error)
	Clear() error
}

// Store keeps credentials in one JSON file readable only by the owner.
type Store struct {
	path string
}

// NewStore returns a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Save replaces the file atomically so a crash never leaves a partial record.
func (s *Store) Save(creds *StoredCredentials) error {
	if creds == nil {
		return fmt.Errorf("save credentials: nil record")
	}
	if err := creds.Auth.Validate(); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating credential directory %s: %w", dir, err)
	}
	file, err := os.CreateTemp(dir, ".auth-*.json")
	if err != nil {
		return fmt.Errorf("creating temporary credential file: %w", err)
	}
	temporaryPath := file.Name()
	if err := file.Chmod(0o600); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("restricting credential file permissions: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary credential file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary credential file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary credential file: %w", err)
	}
	if err := os.Rename(temporaryPath, s.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("replacing credential file %s: %w", s.path, err)
	}
	return nil
}

// Load returns nil, nil when no credential file exists.
func (s *Store) Load() (*StoredCredentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading credential file %s: %w", s.path, err)
	}
	var creds StoredCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptCredentials, s.path, err)
	}
	if err := creds.Auth.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptCredentials, s.path, err)
	}
	return &creds, nil
}

// Clear removes the credential file. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing credential file %s: %w", s.path, err)
	}
	return nil
}
