package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MrWong99/auricle/internal/history/sqlite"
	"github.com/MrWong99/auricle/pkg/types"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAssignsID(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	ex := &types.Exchange{Transcript: "what is a goroutine", Reply: "a lightweight thread", Model: "gpt-4o"}
	if err := s.Append(ctx, ex); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ex.ID == 0 {
		t.Fatal("Append did not assign an ID")
	}
	if ex.CreatedAt.IsZero() {
		t.Fatal("Append did not set CreatedAt")
	}
}

func TestRecentNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, tr := range []string{"first", "second", "third"} {
		if err := s.Append(ctx, &types.Exchange{Transcript: tr, Reply: "r"}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d exchanges, want 2", len(got))
	}
	if got[0].Transcript != "third" || got[1].Transcript != "second" {
		t.Fatalf("Recent order wrong: %q, %q", got[0].Transcript, got[1].Transcript)
	}
}

func TestRecentEmptyStore(t *testing.T) {
	s := openStore(t)

	got, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Recent on empty store = %+v", got)
	}
}

func TestRoundTripPreservesFields(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	in := &types.Exchange{Transcript: "q", Reply: "a", Model: "gpt-4o-mini"}
	if err := s.Append(ctx, in); err != nil {
		t.Fatal(err)
	}

	got, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	ex := got[0]
	if ex.ID != in.ID || ex.Transcript != "q" || ex.Reply != "a" || ex.Model != "gpt-4o-mini" {
		t.Fatalf("round trip mismatch: %+v", ex)
	}
	if !ex.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("CreatedAt = %v, want %v", ex.CreatedAt, in.CreatedAt)
	}
}
