package incident

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/honeykey/internal/config"
)

// Credential matches bearer tokens against the planted honeypot key.
// Only a bcrypt hash of the key is kept in memory.
type Credential struct {
	hash []byte
}

// NewCredential builds a Credential from either the plaintext key or its bcrypt hash.
// With neither configured the Credential never matches.
func NewCredential(cfg config.HoneypotConfig) (*Credential, error) {
	switch {
	case cfg.Key != "":
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Key), bcrypt.MinCost)
		if err != nil {
			return nil, fmt.Errorf("hash honeypot key: %w", err)
		}
		return &Credential{hash: hash}, nil
	case cfg.KeyHash != "":
		if _, err := bcrypt.Cost([]byte(cfg.KeyHash)); err != nil {
			return nil, fmt.Errorf("parse HONEYPOT_KEY_HASH: %w", err)
		}
		return &Credential{hash: []byte(cfg.KeyHash)}, nil
	}
	return &Credential{}, nil
}

// Enabled reports whether a honeypot key is configured.
func (c *Credential) Enabled() bool {
	return c != nil && len(c.hash) > 0
}

// Matches reports whether token is the honeypot key. Empty tokens never match.
func (c *Credential) Matches(token string) bool {
	if !c.Enabled() || token == "" || len(token) > 72 {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.hash, []byte(token)) == nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
// The scheme is case-insensitive; anything other than exactly two fields yields "".
func BearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
