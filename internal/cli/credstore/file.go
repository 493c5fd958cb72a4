package credstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	configDirName       = "financas"
	credentialsFileName = "credentials.json"
)

type fileEntry struct {
	AccessToken    string `json:"access_token,omitempty"`
	ActingAsUserID string `json:"act_as_user_id,omitempty"`
}

// fileContents maps an API base URL to its credential
type fileContents struct {
	Servers map[string]fileEntry `json:"servers"`
}

// FileStore keeps credentials in a 0600 JSON file, for machines without a keychain
type FileStore struct {
	mu    sync.Mutex
	path  string
	scope string
}

// DefaultFilePath returns ~/.config/financas/credentials.json
func DefaultFilePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", configDirName, credentialsFileName), nil
}

// NewFileStore creates a file-backed store. The scope is set with Scoped;
// an unscoped store uses the empty key.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Scoped returns a store over the same file keyed by baseURL
func (f *FileStore) Scoped(baseURL string) *FileStore {
	return &FileStore{path: f.path, scope: baseURL}
}

// Path returns the backing file path
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) read() (*fileContents, error) {
	contents := &fileContents{Servers: map[string]fileEntry{}}

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return contents, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	if err := json.Unmarshal(data, contents); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if contents.Servers == nil {
		contents.Servers = map[string]fileEntry{}
	}
	return contents, nil
}

func (f *FileStore) write(contents *fileContents) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := os.WriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

func (f *FileStore) update(fn func(*fileEntry)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.read()
	if err != nil {
		return err
	}

	entry := contents.Servers[f.scope]
	fn(&entry)
	if entry == (fileEntry{}) {
		delete(contents.Servers, f.scope)
	} else {
		contents.Servers[f.scope] = entry
	}

	return f.write(contents)
}

func (f *FileStore) Get() (Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.read()
	if err != nil {
		return Credential{}, err
	}
	entry := contents.Servers[f.scope]
	return Credential{AccessToken: entry.AccessToken, ActingAsUserID: entry.ActingAsUserID}, nil
}

func (f *FileStore) SetToken(token string) error {
	return f.update(func(e *fileEntry) { e.AccessToken = token })
}

func (f *FileStore) SetActingAs(userID string) error {
	return f.update(func(e *fileEntry) { e.ActingAsUserID = userID })
}

func (f *FileStore) Clear() error {
	return f.update(func(e *fileEntry) { *e = fileEntry{} })
}
