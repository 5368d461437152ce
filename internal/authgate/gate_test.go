package authgate

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/shannon-memory/core/internal/auth"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	g, err := New(auth.NewMiddleware(nil, nil, false), zap.NewNop())
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return g
}

func withUser(uc *auth.UserContext) context.Context {
	return context.WithValue(context.Background(), auth.UserContextKey, uc)
}

func TestCanInvokeDeniesFileToolsForRemote(t *testing.T) {
	g := newTestGate(t)
	ctx := withUser(&auth.UserContext{IsRemote: true})
	allowed, err := g.CanInvoke(ctx, "file_read")
	if err != nil {
		t.Fatalf("can invoke: %v", err)
	}
	if allowed {
		t.Fatalf("expected file_read to be denied for a remote caller")
	}
}

func TestCanInvokeAllowsFileToolsForLocal(t *testing.T) {
	g := newTestGate(t)
	ctx := withUser(&auth.UserContext{IsRemote: false})
	allowed, err := g.CanInvoke(ctx, "file_read")
	if err != nil {
		t.Fatalf("can invoke: %v", err)
	}
	if !allowed {
		t.Fatalf("expected file_read to be allowed for a local caller")
	}
}

func TestCanInvokeAllowsMemoryToolsForRemote(t *testing.T) {
	g := newTestGate(t)
	ctx := withUser(&auth.UserContext{IsRemote: true})
	allowed, err := g.CanInvoke(ctx, "memory_recall")
	if err != nil {
		t.Fatalf("can invoke: %v", err)
	}
	if !allowed {
		t.Fatalf("expected memory_recall to be allowed for a remote caller")
	}
}

func TestFilterToolsRemovesDenylistedNamesForRemote(t *testing.T) {
	g := newTestGate(t)
	ctx := withUser(&auth.UserContext{IsRemote: true})
	names := []string{"memory_recall", "file_read", "dir_list", "shell_exec", "media_open_image", "memory_store"}
	filtered, err := g.FilterTools(ctx, names)
	if err != nil {
		t.Fatalf("filter tools: %v", err)
	}
	want := []string{"memory_recall", "memory_store"}
	if len(filtered) != len(want) {
		t.Fatalf("expected %v, got %v", want, filtered)
	}
	for i, name := range want {
		if filtered[i] != name {
			t.Fatalf("expected %v, got %v", want, filtered)
		}
	}
}

func TestIdentifyFallsBackToDefaultUser(t *testing.T) {
	g := newTestGate(t)
	uc := g.Identify(context.Background())
	if uc.Username != auth.DefaultUserID {
		t.Fatalf("expected fallback to default_user, got %q", uc.Username)
	}
}

func TestIsDeniedPattern(t *testing.T) {
	cases := map[string]bool{
		"file_read":        true,
		"dir_list":         true,
		"shell_exec":       true,
		"media_open_image": true,
		"memory_recall":    false,
		"coding_start_session": false,
	}
	for name, want := range cases {
		if got := IsDeniedPattern(name); got != want {
			t.Errorf("IsDeniedPattern(%q) = %v, want %v", name, got, want)
		}
	}
}
