package credstore

import "sync"

// MemoryStore is a process-local store
type MemoryStore struct {
	mu   sync.RWMutex
	cred Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get() (Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred, nil
}

func (m *MemoryStore) SetToken(token string) error {
	m.mu.Lock()
	m.cred.AccessToken = token
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) SetActingAs(userID string) error {
	m.mu.Lock()
	m.cred.ActingAsUserID = userID
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	m.cred = Credential{}
	m.mu.Unlock()
	return nil
}
