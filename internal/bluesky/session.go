package bluesky

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bluesky-social/indigo/xrpc"
)

// Session is the authenticated state of the client. Export/ImportSession
// turn it into the opaque token persisted between runs.
type Session xrpc.AuthInfo

// Export serialises the session into an opaque token.
func (s Session) Export() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("export session: %w", err)
	}
	return string(b), nil
}

// ImportSession parses a token produced by Export.
func ImportSession(token string) (Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(token), &s); err != nil {
		return Session{}, fmt.Errorf("import session: %w", err)
	}
	if s.Did == "" || s.RefreshJwt == "" {
		return Session{}, errors.New("import session: token is incomplete")
	}
	return s, nil
}

// SessionStore loads and saves the exported session token.
type SessionStore interface {
	// Load returns "" with no error when nothing was saved yet.
	Load() (string, error)
	Save(token string) error
}

// FileSessionStore keeps the token in a single file.
type FileSessionStore struct {
	Path string
}

func (f FileSessionStore) Load() (string, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (f FileSessionStore) Save(token string) error {
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}
	if err := os.WriteFile(f.Path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}
