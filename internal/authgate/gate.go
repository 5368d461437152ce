// Package authgate implements AuthGate & tool filter (C12): user
// identification (wrapping teacher's internal/auth JWT/API-key machinery,
// falling back to "default_user" when unauthenticated) plus an is_remote
// capability predicate that gates a denylist of tool names (spec §4.10).
//
// The denylist is data, not code: it is a casbin/casbin/v2 RBAC policy
// (model.conf + in-memory policy, grounded on sentinel-x's
// pkg/auth/pkg/security/authz/casbin wiring) rather than a hand-rolled
// prefix matcher, so adding a denied tool pattern is a policy edit.
package authgate

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/auth"
)

//go:embed model.conf
var modelConf string

// roleLocal and roleRemote are the only two casbin subjects this policy
// distinguishes; every UserContext maps to one or the other via IsRemote.
const (
	roleLocal  = "local"
	roleRemote = "remote"
	actInvoke  = "invoke"
)

// remoteDenylist enumerates the tool-name glob patterns remote callers may
// not invoke (spec §6.1 "Remote denylist").
var remoteDenylist = []string{"file_*", "dir_*", "shell_*", "media_open_*"}

// Gate is AuthGate (C12).
type Gate struct {
	middleware *auth.Middleware
	enforcer   *casbin.Enforcer
	logger     *zap.Logger
}

// New constructs a Gate, loading the embedded casbin model and seeding the
// in-memory policy with the remote tool denylist. Autosave is disabled since
// this enforcer has no persistent adapter — policy changes (there are none
// at runtime today) would otherwise attempt to write through a nil adapter.
func New(middleware *auth.Middleware, logger *zap.Logger) (*Gate, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m, err := model.NewModelFromString(modelConf)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	e.EnableAutoSave(false)
	for _, pattern := range remoteDenylist {
		if _, err := e.AddPolicy(roleRemote, pattern, actInvoke, "deny"); err != nil {
			return nil, err
		}
	}
	return &Gate{middleware: middleware, enforcer: e, logger: logger}, nil
}

// Middleware returns the wrapped auth.Middleware so HTTP transports can call
// its HTTPMiddleware directly, keeping authgate as the single import site
// transports need for both identification and tool filtering.
func (g *Gate) Middleware() *auth.Middleware {
	return g.middleware
}

// Identify extracts the UserContext a prior HTTPMiddleware call attached to
// ctx, defaulting to "default_user" (spec §4.10) when none is present — the
// stdio transport has no HTTP headers to run HTTPMiddleware against, so it
// calls Identify directly instead.
func (g *Gate) Identify(ctx context.Context) *auth.UserContext {
	if uc, err := auth.GetUserContext(ctx); err == nil {
		return uc
	}
	return &auth.UserContext{
		Username:  auth.DefaultUserID,
		Role:      auth.RoleUser,
		Scopes:    []string{auth.ScopeMemoryRead, auth.ScopeMemoryWrite},
		TokenType: "none",
		IsRemote:  true,
	}
}

func role(uc *auth.UserContext) string {
	if uc != nil && uc.IsRemote {
		return roleRemote
	}
	return roleLocal
}

// CanInvoke evaluates is_remote(context) against the tool denylist for a
// single tool name (spec §4.10: "evaluated once per request").
func (g *Gate) CanInvoke(ctx context.Context, toolName string) (bool, error) {
	uc := g.Identify(ctx)
	allowed, err := g.enforcer.Enforce(role(uc), toolName, actInvoke)
	if err != nil {
		g.logger.Warn("authgate enforce failed", zap.String("tool", toolName), zap.Error(err))
		return false, err
	}
	return allowed, nil
}

// FilterTools removes denylisted tool names from names for the calling
// context, so denied tools are never advertised in tools/list to remote
// clients (spec §4.10).
func (g *Gate) FilterTools(ctx context.Context, names []string) ([]string, error) {
	uc := g.Identify(ctx)
	sub := role(uc)
	out := make([]string, 0, len(names))
	for _, name := range names {
		allowed, err := g.enforcer.Enforce(sub, name, actInvoke)
		if err != nil {
			return nil, err
		}
		if allowed {
			out = append(out, name)
		}
	}
	return out, nil
}

// IsDeniedPattern reports whether name matches one of the remote denylist
// glob patterns, regardless of caller identity — used by admin/diagnostic
// surfaces that want to explain a denial rather than just enforce it.
func IsDeniedPattern(name string) bool {
	for _, pattern := range remoteDenylist {
		prefix := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
