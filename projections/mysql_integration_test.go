//go:build integration

package projections_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ripkitten-co/tabby"
	"github.com/ripkitten-co/tabby/internal/testutil"
	"github.com/ripkitten-co/tabby/projections"
)

func setupMySQLStore(t *testing.T) *tabby.Store {
	t.Helper()
	dsn := testutil.SetupMySQL(t)
	store, err := tabby.New(context.Background(), tabby.MySQL, dsn)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Provision(context.Background()); err != nil {
		t.Fatalf("provision: %v", err)
	}
	return store
}

func TestMySQL_ProjectorLifecycle(t *testing.T) {
	store := setupMySQLStore(t)
	ctx := context.Background()
	es := newEventStore(t, store)
	m := projections.NewManager(store, es)

	if err := es.Create(ctx, userStream("user-1", 1, 10)); err != nil {
		t.Fatalf("create stream: %v", err)
	}
	if err := es.Create(ctx, userStream("user-2", 1, 5)); err != nil {
		t.Fatalf("create stream: %v", err)
	}

	def := projections.Definition[int]{Source: projections.FromCategory("user"), Any: countAll}
	p, err := projections.NewProjector(m, "mysql_users", def, projections.WithPersistBlockSize(3))
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}
	if err := p.Run(ctx, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	pos, err := m.FetchProjectionStreamPositions(ctx, "mysql_users")
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if pos["user-1"] != 10 || pos["user-2"] != 5 {
		t.Errorf("positions: got %v", pos)
	}
	state, err := projections.FetchProjectionStateAs[int](ctx, m, "mysql_users")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state != 15 {
		t.Errorf("state: got %d, want 15", state)
	}

	// Setting the status it already has still counts as found.
	if err := m.StopProjection(ctx, "mysql_users"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := m.StopProjection(ctx, "mysql_users"); err != nil {
		t.Fatalf("stop again: %v", err)
	}
	if err := p.Run(ctx, true); err != nil {
		t.Fatalf("run with stop request: %v", err)
	}

	cs := m.Checkpoints()
	other, err := projections.NewProjector(m, "mysql_users", def)
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}
	cp, err := cs.Load(ctx, "mysql_users")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cp.LockedUntil != nil {
		t.Errorf("lock held after stop: %v", cp.LockedUntil)
	}
	if err := other.Run(ctx, false); err != nil {
		t.Fatalf("run after stop: %v", err)
	}
	if other.State() != 15 {
		t.Errorf("resumed state: got %d, want 15", other.State())
	}

	if err := m.DeleteProjection(ctx, "mysql_users", false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := other.Run(ctx, true); err != nil {
		t.Fatalf("run with delete request: %v", err)
	}
	if _, err := m.FetchProjectionStatus(ctx, "mysql_users"); !errors.Is(err, tabby.ErrProjectionNotFound) {
		t.Errorf("status after delete: got %v", err)
	}
}
