package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidOperatorKey = errors.New("invalid operator key")

// OperatorGuard verifies the shared front-desk key that authorizes manual
// payment entry. Only the bcrypt hash of the key is ever configured.
type OperatorGuard struct {
	keyHash []byte
}

func NewOperatorGuard(keyHash string) *OperatorGuard {
	return &OperatorGuard{keyHash: []byte(keyHash)}
}

// Enabled reports whether a key hash is configured at all. With no hash
// configured, manual entry is disabled rather than open.
func (g *OperatorGuard) Enabled() bool {
	return len(g.keyHash) > 0
}

func (g *OperatorGuard) Verify(key string) error {
	if !g.Enabled() || key == "" {
		return ErrInvalidOperatorKey
	}
	if err := bcrypt.CompareHashAndPassword(g.keyHash, []byte(key)); err != nil {
		return ErrInvalidOperatorKey
	}
	return nil
}

// HashOperatorKey produces the bcrypt hash to configure for a new key.
func HashOperatorKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
