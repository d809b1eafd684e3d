package directory

import (
	"context"
	"errors"
	"testing"

	"wastedesk/backend/internal/domain"
)

type fakeSource struct {
	ops []domain.Operator
	err error
}

func (f fakeSource) ListOperators(context.Context) ([]domain.Operator, error) {
	return f.ops, f.err
}

func TestHandleForMatchesCaseInsensitive(t *testing.T) {
	dir, err := Load(context.Background(), fakeSource{ops: []domain.Operator{
		{Handle: "jcruz", DisplayName: "Jane Cruz"},
		{Handle: "mreyes", DisplayName: "Mark Reyes"},
	}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	handle, err := dir.HandleFor("  jane   CRUZ ")
	if err != nil {
		t.Fatalf("expected handle, got %v", err)
	}
	if handle != "jcruz" {
		t.Fatalf("expected jcruz, got %q", handle)
	}

	if _, err := dir.HandleFor("Nobody"); !errors.Is(err, domain.ErrOperatorNotFound) {
		t.Fatalf("expected ErrOperatorNotFound, got %v", err)
	}
	if _, err := dir.HandleFor(""); !errors.Is(err, domain.ErrOperatorNotFound) {
		t.Fatalf("expected ErrOperatorNotFound for blank name, got %v", err)
	}
}

func TestDisplayNameFallsBackToHandle(t *testing.T) {
	dir := New([]domain.Operator{{Handle: "jcruz", DisplayName: "Jane Cruz"}})

	if got := dir.DisplayNameFor("jcruz"); got != "Jane Cruz" {
		t.Fatalf("expected Jane Cruz, got %q", got)
	}
	if got := dir.DisplayNameFor("ghost"); got != "ghost" {
		t.Fatalf("expected raw handle fallback, got %q", got)
	}
}

func TestLoadDegradesWhenSourceFails(t *testing.T) {
	dir, err := Load(context.Background(), fakeSource{err: errors.New("502 bad gateway")})
	if !errors.Is(err, domain.ErrDirectoryUnavailable) {
		t.Fatalf("expected ErrDirectoryUnavailable, got %v", err)
	}
	if dir == nil || !dir.Degraded() {
		t.Fatalf("expected degraded directory")
	}

	handle, err := dir.HandleFor("jcruz")
	if err != nil || handle != "jcruz" {
		t.Fatalf("degraded directory should echo raw handles, got %q %v", handle, err)
	}
}

func TestOperatorsSortedByDisplayName(t *testing.T) {
	dir := New([]domain.Operator{
		{Handle: "mreyes", DisplayName: "Mark Reyes"},
		{Handle: "asantos", DisplayName: "Ana Santos"},
		{Handle: "  ", DisplayName: "Blank"},
	})
	ops := dir.Operators()
	if len(ops) != 2 {
		t.Fatalf("expected blank handle to be skipped, got %d operators", len(ops))
	}
	if ops[0].Handle != "asantos" {
		t.Fatalf("expected asantos first, got %s", ops[0].Handle)
	}
}
