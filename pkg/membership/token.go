package membership

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// JoinToken gates a new node's admission through the leader's Join
// RPC; registration in the ZooKeeper membership directory does not
// check it. There is no role attached: every node that joins this
// cluster joins as the same kind of participant, a voter candidate.
type JoinToken struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TokenManager issues and validates the tokens required before a node
// is admitted to the cluster. Enforcement is sticky: once any token
// has been minted, every subsequent admission must present a valid
// one. A cluster whose operator never mints a token runs open.
type TokenManager struct {
	mu        sync.RWMutex
	tokens    map[string]*JoinToken
	enforcing bool
}

// NewTokenManager returns an empty token manager.
func NewTokenManager() *TokenManager {
	return &TokenManager{tokens: make(map[string]*JoinToken)}
}

// GenerateToken mints a new token valid for ttl.
func (m *TokenManager) GenerateToken(ttl time.Duration) (*JoinToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate join token: %w", err)
	}
	now := time.Now()
	tok := &JoinToken{
		Token:     hex.EncodeToString(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	m.mu.Lock()
	m.tokens[tok.Token] = tok
	m.enforcing = true
	m.mu.Unlock()
	return tok, nil
}

// Enforcing reports whether admission requires a token, i.e. whether
// any token has ever been minted by this manager.
func (m *TokenManager) Enforcing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enforcing
}

// ValidateToken reports whether token is known and unexpired.
func (m *TokenManager) ValidateToken(token string) error {
	m.mu.RLock()
	tok, ok := m.tokens[token]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("join token not recognized")
	}
	if time.Now().After(tok.ExpiresAt) {
		return fmt.Errorf("join token expired")
	}
	return nil
}

// RevokeToken removes a token, e.g. once it has been consumed.
func (m *TokenManager) RevokeToken(token string) {
	m.mu.Lock()
	delete(m.tokens, token)
	m.mu.Unlock()
}

// CleanupExpiredTokens drops every token past its expiry. Intended to
// be called periodically by the node that owns this manager.
func (m *TokenManager) CleanupExpiredTokens() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, tok := range m.tokens {
		if now.After(tok.ExpiresAt) {
			delete(m.tokens, k)
		}
	}
}
