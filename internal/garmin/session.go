package garmin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var ErrTokenExpired = errors.New("garmin oauth token expired")

// Session holds the OAuth2 bearer token obtained by the external login
// helper. The token file lives in the token store directory and is
// refreshed out of band, so it only gets read here.
type Session struct {
	tokenPath string

	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at"`
}

func LoadSession(tokenStorePath string) (*Session, error) {
	tokenPath := filepath.Join(tokenStorePath, "oauth2_token.json")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	s := &Session{tokenPath: tokenPath}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("unmarshal token file: %w", err)
	}
	if s.AccessToken == "" {
		return nil, errors.New("token file has no access token")
	}
	return s, nil
}

// Reload re-reads the token file, picking up tokens refreshed by the
// login helper while the service runs.
func (s *Session) Reload() error {
	fresh, err := LoadSession(filepath.Dir(s.tokenPath))
	if err != nil {
		return err
	}
	s.AccessToken = fresh.AccessToken
	s.TokenType = fresh.TokenType
	s.ExpiresAt = fresh.ExpiresAt
	return nil
}

func (s *Session) Expired() bool {
	return s.ExpiresAt > 0 && time.Now().Unix() >= s.ExpiresAt
}

func (s *Session) AuthHeader() string {
	tokenType := s.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return fmt.Sprintf("%s %s", tokenType, s.AccessToken)
}
