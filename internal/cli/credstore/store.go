package credstore

import (
	"fmt"
	"strings"
)

// Credential is the persisted part of a session. Empty strings mean absent.
type Credential struct {
	AccessToken    string
	ActingAsUserID string
}

// HasToken reports whether an access token is stored
func (c Credential) HasToken() bool {
	return c.AccessToken != ""
}

// Store persists the access token and the acting-as user id across runs.
// Writes are visible to the next Get on the same store.
type Store interface {
	Get() (Credential, error)
	SetToken(token string) error
	// SetActingAs sets the delegation context; an empty id removes it.
	SetActingAs(userID string) error
	// Clear removes both entries. Clearing an empty store is not an error.
	Clear() error
}

// Kind names a Store implementation in configuration
type Kind string

const (
	KindKeyring Kind = "keyring"
	KindFile    Kind = "file"
	KindMemory  Kind = "memory"
)

// ParseKind validates a configured store kind
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindKeyring, KindFile, KindMemory:
		return k, nil
	case "":
		return KindKeyring, nil
	default:
		return "", fmt.Errorf("invalid credential store %q, must be one of: keyring, file, memory", s)
	}
}

// Open returns the store selected by kind. Keyring entries are scoped by
// baseURL so credentials for different API servers never mix; path is only
// used by the file store.
func Open(kind Kind, baseURL, path string) (Store, error) {
	switch kind {
	case KindKeyring, "":
		return NewKeyringStore(baseURL), nil
	case KindFile:
		if path == "" {
			p, err := DefaultFilePath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return NewFileStore(path).Scoped(baseURL), nil
	case KindMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown credential store %q", kind)
	}
}
