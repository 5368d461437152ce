package auth

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JSONMap handles JSON database columns
type JSONMap map[string]interface{}

// Scan implements sql.Scanner interface
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Value implements driver.Valuer interface
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	return json.Marshal(j)
}

// StringArray scans/writes a Postgres text[] column without pulling in
// lib/pq (the store's driver is jackc/pgx/v5/stdlib). Value writes a
// Postgres array literal with every element double-quoted:
// {"elem","elem",...}. Scan splits on every comma and trims surrounding
// quotes, so an element that itself contains a comma is not read back intact.
type StringArray []string

// Scan implements sql.Scanner
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("auth: cannot scan %T into StringArray", value)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" {
		*a = StringArray{}
		return nil
	}
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	parts := strings.Split(raw, ",")
	out := make(StringArray, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"`)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	*a = out
	return nil
}

// Value implements driver.Valuer
func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	quoted := make([]string, len(a))
	for i, s := range a {
		quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}", nil
}

// User represents an authenticated user
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	Username     string     `json:"username" db:"username"`
	PasswordHash string     `json:"-" db:"password_hash"`
	FullName     string     `json:"full_name" db:"full_name"`
	TenantID     uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Role         string     `json:"role" db:"role"` // user, admin, owner
	IsActive     bool       `json:"is_active" db:"is_active"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty" db:"last_login"`
	Metadata     JSONMap    `json:"metadata,omitempty" db:"metadata"`
}

// APIKey represents an API key for programmatic access to the memory core
type APIKey struct {
	ID               uuid.UUID   `json:"id" db:"id"`
	KeyHash          string      `json:"-" db:"key_hash"`
	KeyPrefix        string      `json:"key_prefix" db:"key_prefix"`
	UserID           uuid.UUID   `json:"user_id" db:"user_id"`
	TenantID         uuid.UUID   `json:"tenant_id" db:"tenant_id"`
	Name             string      `json:"name" db:"name"`
	Description      string      `json:"description" db:"description"`
	Scopes           StringArray `json:"scopes" db:"scopes"`
	RateLimitPerHour int         `json:"rate_limit_per_hour" db:"rate_limit_per_hour"`
	LastUsed         *time.Time  `json:"last_used,omitempty" db:"last_used"`
	ExpiresAt        *time.Time  `json:"expires_at,omitempty" db:"expires_at"`
	IsActive         bool        `json:"is_active" db:"is_active"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}

// UserContext represents the authenticated context for a request. AuthGate
// (internal/authgate) attaches one of these to every request context; when
// no credential is present it falls back to a UserContext for "default_user".
type UserContext struct {
	UserID    uuid.UUID `json:"user_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Scopes    []string  `json:"scopes"`
	IsAPIKey  bool      `json:"is_api_key"`
	TokenType string    `json:"token_type"` // jwt, api_key, or none (default_user fallback)
	IsRemote  bool      `json:"is_remote"`  // true for non-local (network) callers; gates file_*/dir_*/shell_*/media_open_* tools

	APIKeyID uuid.UUID `json:"api_key_id,omitempty"`
}

// TokenPair represents access and refresh tokens
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

// CreateAPIKeyRequest represents a request to create an API key
type CreateAPIKeyRequest struct {
	Name        string     `json:"name" validate:"required"`
	Description string     `json:"description"`
	Scopes      []string   `json:"scopes"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Scopes for authorization
const (
	ScopeMemoryRead     = "memory:read"
	ScopeMemoryWrite    = "memory:write"
	ScopeMemoryForget   = "memory:forget"
	ScopeGraphRead      = "graph:read"
	ScopeGraphWrite     = "graph:write"
	ScopeCodingWrite    = "coding:write"
	ScopeAPIKeysManage  = "api_keys:manage"
	ScopeToolsDangerous = "tools:dangerous" // required to invoke file_*/dir_*/shell_*/media_open_* tools remotely
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
	RoleOwner = "owner"
)

// DefaultUserID is the fallback identity used when no credential is
// presented, per spec: operations proceed scoped to "default_user" rather
// than being rejected.
const DefaultUserID = "default_user"
