package migrate

import (
	"context"
	"testing"

	"plazos/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	if v, _ := Version(ctx, conn); v != 0 {
		t.Fatalf("expected fresh db at version 0, got %d", v)
	}
	for i := 0; i < 2; i++ {
		if err := MigrateContext(ctx, conn); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	latest, err := Latest()
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := Version(ctx, conn); v != latest || latest < 1 {
		t.Fatalf("expected version %d, got %d", latest, v)
	}
	if _, err := conn.Exec(`INSERT INTO agenda_events(id,owner_id,source,fingerprint,title,end_iso,end_unix,due_local_day,created_at,updated_at)
VALUES ('e1','o1','bogus','fp','t','2025-06-05T00:00:00Z',0,'2025-06-05','now','now')`); err == nil {
		t.Fatalf("expected source check constraint to reject row")
	}
}
