// Package token keeps per-(user, provider) access tokens valid without
// user interaction. It is the only component that sees plaintext tokens.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	shared "github.com/tracklink/server/pkg"
	"github.com/tracklink/server/pkg/infrastructure/crypto"
	"github.com/tracklink/server/pkg/models"
	"github.com/tracklink/server/pkg/provider"
)

// expiryMargin is the safety window: a token expiring within it is
// treated as already expired.
const expiryMargin = 60 * time.Second

// Manager resolves a currently-valid access token, refreshing and
// persisting rotated tokens transparently. Refreshes for the same
// (user, provider) pair are single-flight: concurrent callers racing
// past an expired token serialize on a per-pair mutex and the losers
// re-read the rotated credential instead of refreshing again.
type Manager struct {
	db       shared.Database
	registry *provider.Registry
	cipher   *crypto.TokenCipher
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(db shared.Database, registry *provider.Registry, cipher *crypto.TokenCipher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		db:       db,
		registry: registry,
		cipher:   cipher,
		logger:   logger.With("component", "token-manager"),
		locks:    map[string]*sync.Mutex{},
	}
}

// ValidAccessToken returns an access token guaranteed to be valid for
// at least the expiry margin. Refresh failures propagate unchanged so
// callers can distinguish credential problems from transport ones.
func (m *Manager) ValidAccessToken(ctx context.Context, userID, providerName string) (string, error) {
	integration, err := m.registry.Get(providerName)
	if err != nil {
		return "", err
	}

	lock := m.pairLock(userID, providerName)
	lock.Lock()
	defer lock.Unlock()

	conn, err := m.db.GetConnection(ctx, userID, providerName)
	if errors.Is(err, shared.ErrNotFound) {
		return "", &provider.TokenMissingError{UserID: userID, Provider: providerName}
	}
	if err != nil {
		return "", fmt.Errorf("load connection: %w", err)
	}

	if time.Now().Add(expiryMargin).Before(conn.TokenExpiresAt) {
		return m.cipher.DecryptString(conn.AccessTokenCipher)
	}

	refreshToken, err := m.cipher.DecryptString(conn.RefreshTokenCipher)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	m.logger.Info("Refreshing expired access token", "user_id", userID, "provider", providerName)

	set, err := integration.OAuth.Refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	if err := m.persistRotation(ctx, conn, set); err != nil {
		return "", err
	}
	return set.AccessToken, nil
}

// persistRotation writes the rotated tokens back, keeping the previous
// refresh token when the provider did not return a new one.
func (m *Manager) persistRotation(ctx context.Context, conn *models.ProviderConnection, set *provider.TokenSet) error {
	accessCipher, err := m.cipher.EncryptString(set.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}

	updates := map[string]interface{}{
		"access_token_cipher": accessCipher,
		"token_expires_at":    set.ExpiresAt,
		"updated_at":          time.Now().UTC(),
	}
	if set.RefreshToken != "" {
		refreshCipher, err := m.cipher.EncryptString(set.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		updates["refresh_token_cipher"] = refreshCipher
	}

	if err := m.db.UpdateConnection(ctx, conn.UserID, conn.Provider, updates); err != nil {
		return fmt.Errorf("persist rotated tokens: %w", err)
	}
	return nil
}

func (m *Manager) pairLock(userID, providerName string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "/" + providerName
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}
