package credentials

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/psadmin/internal/models"
	"github.com/wolfeidau/psadmin/internal/session"
)

const sessionFile = "session.json"

// ErrInvalidSession is returned when the session file cannot be parsed.
var ErrInvalidSession = errors.New("invalid session file")

// SessionFile is the on-disk form of a persisted session.
type SessionFile struct {
	Version     int          `json:"version"`
	User        *models.User `json:"user,omitempty"`
	Token       string       `json:"token,omitempty"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	SavedAt     time.Time    `json:"saved_at"`
}

// Store persists the logged-in user and bearer token on the local filesystem.
type Store struct {
	baseDir string
}

var _ session.Storage = (*Store)(nil)

// NewStore creates a new session store.
// If baseDir is empty, uses ~/.psadmin/session/
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".psadmin", "session")
	}

	// Create directory with 0700 permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	log.Debug().Str("baseDir", baseDir).Msg("session store initialized")

	return &Store{baseDir: baseDir}, nil
}

// Path returns the location of the session file.
func (s *Store) Path() string {
	return filepath.Join(s.baseDir, sessionFile)
}

// Load returns the persisted user and token, or session.ErrNoSession when
// nothing is stored.
func (s *Store) Load() (*models.User, string, error) {
	sf, err := s.Read()
	if err != nil {
		return nil, "", err
	}
	return sf.User, sf.Token, nil
}

// Read returns the whole session file.
func (s *Store) Read() (*SessionFile, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, session.ErrNoSession
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sf SessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	if sf.User == nil && sf.Token == "" {
		return nil, session.ErrNoSession
	}

	return &sf, nil
}

// Save writes the user and token atomically with 0600 permissions.
func (s *Store) Save(user *models.User, token string) error {
	sf := &SessionFile{
		Version:     1,
		User:        user,
		Token:       token,
		Fingerprint: Fingerprint(token),
		SavedAt:     time.Now().UTC(),
	}

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Write to temp file first
	sessionPath := s.Path()
	tempPath := sessionPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save session: %w", err)
	}

	log.Debug().
		Str("path", sessionPath).
		Str("fingerprint", sf.Fingerprint).
		Msg("session saved")

	return nil
}

// Clear removes the session file. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session: %w", err)
	}

	// leftover from an interrupted save
	os.Remove(s.Path() + ".tmp")

	log.Debug().Str("path", s.Path()).Msg("session cleared")

	return nil
}

// Fingerprint identifies a token in logs and output without revealing it.
// It is the Base58-encoded SHA256 of the token.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(token))
	return base58.Encode(hash[:])
}
