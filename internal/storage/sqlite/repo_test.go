package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tablesync/internal/storage"
)

func openTestRepo(t *testing.T) storage.Destination {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "sync_test.db")
	repo, err := New(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func customersSpec() storage.TableSpec {
	return storage.TableSpec{
		Name: "customers",
		Columns: []storage.ColumnSpec{
			{Name: "name", Type: "text"},
			{Name: "ghi_chu", Type: "text"},
			{Name: "fat_pct", Type: "numeric(5,3)"},
		},
		Junctions: []string{"customers__orders_links"},
	}
}

func TestUpsertInsertUpdateSkip(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	if err := repo.EnsureTables(ctx, []storage.TableSpec{customersSpec()}); err != nil {
		t.Fatal(err)
	}

	cols := []string{"name", "ghi_chu", "fat_pct"}
	rows := []storage.Row{
		{ExternalID: "rec1", Values: map[string]any{"name": "An", "ghi_chu": nil, "fat_pct": 0.85}},
		{ExternalID: "rec2", Values: map[string]any{"name": "Binh", "ghi_chu": "note", "fat_pct": nil}},
	}

	stats, err := repo.UpsertRows(ctx, "customers", cols, rows)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Inserted != 2 || stats.Updated != 0 || stats.Skipped != 0 {
		t.Fatalf("first run stats = %+v", stats)
	}

	// Re-applying the identical batch is a no-op.
	stats, err = repo.UpsertRows(ctx, "customers", cols, rows)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Inserted != 0 || stats.Updated != 0 || stats.Skipped != 2 {
		t.Fatalf("idempotent run stats = %+v", stats)
	}

	// One changed value: exactly one update.
	rows[1].Values["name"] = "Binh Nguyen"
	stats, err = repo.UpsertRows(ctx, "customers", cols, rows)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Inserted != 0 || stats.Updated != 1 || stats.Skipped != 1 {
		t.Fatalf("changed run stats = %+v", stats)
	}

	n, err := repo.CountRows(ctx, "customers")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestUpsertDoesNotBumpUpdatedAtWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "sync_test.db")
	repo, err := New(ctx, storage.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()

	if err := repo.EnsureTables(ctx, []storage.TableSpec{customersSpec()}); err != nil {
		t.Fatal(err)
	}

	cols := []string{"name", "ghi_chu", "fat_pct"}
	rows := []storage.Row{{ExternalID: "rec1", Values: map[string]any{"name": "An", "ghi_chu": nil, "fat_pct": 0.85}}}

	if _, err := repo.UpsertRows(ctx, "customers", cols, rows); err != nil {
		t.Fatal(err)
	}

	raw := repo.(*Repo)
	var before string
	if err := raw.db.QueryRow("SELECT updated_at FROM customers WHERE external_record_id = 'rec1'").Scan(&before); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := repo.UpsertRows(ctx, "customers", cols, rows); err != nil {
		t.Fatal(err)
	}

	var after string
	if err := raw.db.QueryRow("SELECT updated_at FROM customers WHERE external_record_id = 'rec1'").Scan(&after); err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Fatalf("updated_at changed on identical re-apply: %s -> %s", before, after)
	}
}

func TestReplaceLinks(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	if err := repo.EnsureTables(ctx, []storage.TableSpec{customersSpec()}); err != nil {
		t.Fatal(err)
	}

	junction := "customers__orders_links"
	pairs := []storage.LinkPair{
		{OwnerID: "rec1", ReferencedID: "recA"},
		{OwnerID: "rec1", ReferencedID: "recB"},
		{OwnerID: "rec1", ReferencedID: "recC"},
	}

	n, err := repo.ReplaceLinks(ctx, junction, []string{"rec1"}, pairs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("pairs = %d, want 3", n)
	}

	// Shrinking the link set removes stale pairs.
	n, err = repo.ReplaceLinks(ctx, junction, []string{"rec1"}, pairs[:1])
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pairs = %d, want 1", n)
	}

	count, err := repo.CountRows(ctx, junction)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("junction rows = %d, want 1", count)
	}
}

func TestWatermarkRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	if err := repo.EnsureTables(ctx, nil); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := repo.LoadWatermark(ctx, "customers"); err != nil || ok {
		t.Fatalf("fresh watermark: ok=%v err=%v", ok, err)
	}

	ts := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	if err := repo.SaveWatermark(ctx, "customers", ts); err != nil {
		t.Fatal(err)
	}

	got, ok, err := repo.LoadWatermark(ctx, "customers")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if !got.Equal(ts) {
		t.Fatalf("watermark = %v, want %v", got, ts)
	}

	// Overwrite advances in place.
	ts2 := ts.Add(time.Hour)
	if err := repo.SaveWatermark(ctx, "customers", ts2); err != nil {
		t.Fatal(err)
	}
	got, _, _ = repo.LoadWatermark(ctx, "customers")
	if !got.Equal(ts2) {
		t.Fatalf("watermark = %v, want %v", got, ts2)
	}
}

func TestColumnsCatalog(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	if err := repo.EnsureTables(ctx, []storage.TableSpec{customersSpec()}); err != nil {
		t.Fatal(err)
	}

	cols, err := repo.Columns(ctx, "customers")
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]bool{
		"external_record_id": true, "name": true, "ghi_chu": true,
		"fat_pct": true, "synced_at": true, "updated_at": true,
	}
	if len(cols) != len(want) {
		t.Fatalf("columns = %v", cols)
	}
	for _, c := range cols {
		if !want[c] {
			t.Fatalf("unexpected column %q", c)
		}
	}
}

func TestEqualScalar(t *testing.T) {
	cases := []struct {
		a, b any
		want bool
	}{
		{nil, nil, true},
		{nil, "x", false},
		{int64(1), 1.0, true},
		{0.85, 0.85, true},
		{[]byte("abc"), "abc", true},
		{"a", "b", false},
		{int64(2), 2.5, false},
	}
	for _, c := range cases {
		if got := equalScalar(c.a, c.b); got != c.want {
			t.Errorf("equalScalar(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
