package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service validates API keys and manages their lifecycle against the
// memory core's KVStore Postgres pool. JWT issuance/validation lives in
// JWTManager; Service only needs the DB for API-key lookups, since JWTs are
// self-contained.
type Service struct {
	db         *sql.DB
	logger     *zap.Logger
	jwtManager *JWTManager
}

// NewService creates a new authentication service. db is expected to be
// opened against the jackc/pgx/v5/stdlib driver, the same pool used for
// internal/store's KVStore so the process holds a single Postgres pool.
func NewService(db *sql.DB, logger *zap.Logger, jwtSecret string) *Service {
	return &Service{
		db:     db,
		logger: logger,
		jwtManager: NewJWTManager(
			jwtSecret,
			30*time.Minute,
			7*24*time.Hour,
		),
	}
}

// ValidateAPIKey validates an API key and returns the user context it
// resolves to.
func (s *Service) ValidateAPIKey(ctx context.Context, apiKey string) (*UserContext, error) {
	if len(apiKey) < 8 {
		return nil, errors.New("invalid API key format")
	}
	keyPrefix := apiKey[:8]
	keyHash := hashToken(apiKey)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key_hash, user_id, tenant_id, scopes, expires_at, is_active
		 FROM auth.api_keys WHERE key_prefix = $1 AND is_active = true`, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("query API keys: %w", err)
	}
	defer rows.Close()

	var match *APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.KeyHash, &k.UserID, &k.TenantID, &k.Scopes, &k.ExpiresAt, &k.IsActive); err != nil {
			return nil, fmt.Errorf("scan API key: %w", err)
		}
		if compareTokenHash(k.KeyHash, keyHash) {
			match = &k
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if match == nil {
		return nil, errors.New("invalid API key")
	}
	if match.ExpiresAt != nil && match.ExpiresAt.Before(time.Now()) {
		return nil, errors.New("API key expired")
	}

	go func() {
		if _, err := s.db.Exec(`UPDATE auth.api_keys SET last_used = NOW() WHERE id = $1`, match.ID); err != nil {
			s.logger.Warn("failed to update API key last_used", zap.Error(err))
		}
	}()

	var user User
	err = s.db.QueryRowContext(ctx,
		`SELECT id, username, role, tenant_id FROM auth.users WHERE id = $1`, match.UserID).
		Scan(&user.ID, &user.Username, &user.Role, &user.TenantID)
	if err != nil {
		return nil, fmt.Errorf("get user for API key: %w", err)
	}

	return &UserContext{
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Username:  user.Username,
		Role:      user.Role,
		Scopes:    match.Scopes,
		IsAPIKey:  true,
		TokenType: "api_key",
		APIKeyID:  match.ID,
	}, nil
}

// CreateAPIKey creates a new API key for a user.
func (s *Service) CreateAPIKey(ctx context.Context, userID uuid.UUID, req *CreateAPIKeyRequest) (string, *APIKey, error) {
	var tenantID uuid.UUID
	err := s.db.QueryRowContext(ctx, `SELECT tenant_id FROM auth.users WHERE id = $1`, userID).Scan(&tenantID)
	if err != nil {
		return "", nil, fmt.Errorf("get user: %w", err)
	}

	apiKey, keyHash, keyPrefix, err := generateAPIKey()
	if err != nil {
		return "", nil, fmt.Errorf("generate API key: %w", err)
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = []string{ScopeMemoryRead, ScopeMemoryWrite}
	}

	key := &APIKey{
		ID:               uuid.New(),
		KeyHash:          keyHash,
		KeyPrefix:        keyPrefix,
		UserID:           userID,
		TenantID:         tenantID,
		Name:             req.Name,
		Description:      req.Description,
		Scopes:           scopes,
		RateLimitPerHour: 1000,
		ExpiresAt:        req.ExpiresAt,
		IsActive:         true,
		CreatedAt:        time.Now(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO auth.api_keys
		 (id, key_hash, key_prefix, user_id, tenant_id, name, description, scopes, rate_limit_per_hour, expires_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		key.ID, key.KeyHash, key.KeyPrefix, key.UserID, key.TenantID,
		key.Name, key.Description, key.Scopes, key.RateLimitPerHour, key.ExpiresAt, key.IsActive)
	if err != nil {
		return "", nil, fmt.Errorf("create API key: %w", err)
	}

	s.logger.Info("API key created",
		zap.String("key_id", key.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("name", key.Name))

	return apiKey, key, nil
}

func generateAPIKey() (key, hash, prefix string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("generate random bytes: %w", err)
	}
	key = "sk_" + hex.EncodeToString(b)
	hash = hashToken(key)
	prefix = key[:8]
	return key, hash, prefix, nil
}
