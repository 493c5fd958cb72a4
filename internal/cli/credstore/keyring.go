package credstore

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	service = "financas-cli"

	tokenKey = "access_token"
	actAsKey = "act_as_user_id"
)

// KeyringStore keeps credentials in the OS keychain/credential manager
type KeyringStore struct {
	scope string
}

// NewKeyringStore creates a keyring-backed store scoped to one API base URL
func NewKeyringStore(baseURL string) *KeyringStore {
	return &KeyringStore{scope: baseURL}
}

// keyFor returns a unique keyring user name per entry and server
func (s *KeyringStore) keyFor(name string) string {
	return fmt.Sprintf("%s@%s", name, s.scope)
}

func (s *KeyringStore) load(name string) (string, error) {
	value, err := keyring.Get(service, s.keyFor(name))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load %s: %w", name, err)
	}
	return value, nil
}

func (s *KeyringStore) save(name, value string) error {
	if value == "" {
		return s.delete(name)
	}
	if err := keyring.Set(service, s.keyFor(name), value); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	return nil
}

func (s *KeyringStore) delete(name string) error {
	if err := keyring.Delete(service, s.keyFor(name)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

// Get retrieves the stored credential; missing entries read as empty
func (s *KeyringStore) Get() (Credential, error) {
	token, err := s.load(tokenKey)
	if err != nil {
		return Credential{}, err
	}
	actAs, err := s.load(actAsKey)
	if err != nil {
		return Credential{}, err
	}
	return Credential{AccessToken: token, ActingAsUserID: actAs}, nil
}

// SetToken persists the access token
func (s *KeyringStore) SetToken(token string) error {
	return s.save(tokenKey, token)
}

// SetActingAs persists or removes the acting-as user id
func (s *KeyringStore) SetActingAs(userID string) error {
	return s.save(actAsKey, userID)
}

// Clear removes both entries, attempting each even if the first fails
func (s *KeyringStore) Clear() error {
	return errors.Join(s.delete(tokenKey), s.delete(actAsKey))
}
