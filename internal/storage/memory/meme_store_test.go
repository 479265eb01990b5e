package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

var baseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newMeme(title string, createdAt time.Time) *domain.Meme {
	return &domain.Meme{
		Title:      title,
		ImageURL:   "https://cdn.example/" + title + ".png",
		Blockchain: "solana",
		CreatedBy:  "creator-1",
		CreatedAt:  createdAt,
	}
}

func TestMemeStore_InsertAssignsID(t *testing.T) {
	store := NewMemeStore(nil)
	ctx := context.Background()

	a := newMeme("a", baseTime)
	b := newMeme("b", baseTime)
	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, b); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if a.ID != 1 || b.ID != 2 {
		t.Errorf("IDs: got %d, %d, want 1, 2", a.ID, b.ID)
	}

	got, err := store.GetByID(ctx, 2)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Title != "b" {
		t.Errorf("Title mismatch: got %s, want b", got.Title)
	}

	// Returned copies are detached from the store
	got.Title = "changed"
	again, _ := store.GetByID(ctx, 2)
	if again.Title != "b" {
		t.Errorf("store mutated through returned value")
	}
}

func TestMemeStore_GetByID_NotFound(t *testing.T) {
	store := NewMemeStore(nil)
	_, err := store.GetByID(context.Background(), 99)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemeStore_List_FiltersAndPages(t *testing.T) {
	store := NewMemeStore(nil)
	ctx := context.Background()
	now := baseTime.Add(48 * time.Hour)

	for i := 0; i < 15; i++ {
		m := newMeme("m", baseTime.Add(time.Duration(i)*time.Minute))
		m.Likes = int64(i % 4)
		if err := store.Insert(ctx, m); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	eth := newMeme("eth", baseTime.Add(time.Hour))
	eth.Blockchain = "ethereum"
	_ = store.Insert(ctx, eth)

	future := now.Add(time.Hour)
	hidden := newMeme("hidden", baseTime)
	hidden.TimeUntilListing = &future
	_ = store.Insert(ctx, hidden)

	page0, _ := store.List(ctx, domain.MemeFilter{Blockchain: "solana"}, now)
	if len(page0) != domain.DefaultPageSize {
		t.Fatalf("page 0: got %d memes, want %d", len(page0), domain.DefaultPageSize)
	}
	if page0[0].ID != 15 {
		t.Errorf("newest first: got id %d, want 15", page0[0].ID)
	}

	page1, _ := store.List(ctx, domain.MemeFilter{Blockchain: "solana", Page: 1}, now)
	if len(page1) != 3 {
		t.Errorf("page 1: got %d memes, want 3", len(page1))
	}

	all, _ := store.List(ctx, domain.MemeFilter{PageSize: 100}, now)
	for _, m := range all {
		if m.Title == "hidden" {
			t.Errorf("unlisted meme returned")
		}
	}
	if len(all) != 16 {
		t.Errorf("all: got %d memes, want 16", len(all))
	}

	liked, _ := store.List(ctx, domain.MemeFilter{Sort: domain.SortMostLiked, PageSize: 100}, now)
	for i := 1; i < len(liked); i++ {
		if liked[i].Likes > liked[i-1].Likes {
			t.Fatalf("most_liked order broken at %d", i)
		}
	}

	day := baseTime.Add(-24 * time.Hour)
	none, _ := store.List(ctx, domain.MemeFilter{SelectedDate: &day}, now)
	if len(none) != 0 {
		t.Errorf("selected date: got %d memes, want 0", len(none))
	}
}

func TestMemeStore_FeaturedLifecycle(t *testing.T) {
	var events []string
	store := NewMemeStore(func(table, eventType string, _, _ map[string]any) {
		events = append(events, table+":"+eventType)
	})
	ctx := context.Background()

	a := newMeme("a", baseTime)
	b := newMeme("b", baseTime)
	_ = store.Insert(ctx, a)
	_ = store.Insert(ctx, b)

	if err := store.SetFeatured(ctx, a.ID, baseTime.Add(time.Hour)); err != nil {
		t.Fatalf("SetFeatured failed: %v", err)
	}
	if err := store.SetFeatured(ctx, b.ID, baseTime.Add(24*time.Hour)); err != nil {
		t.Fatalf("SetFeatured failed: %v", err)
	}

	featured, _ := store.ListFeatured(ctx, baseTime)
	if len(featured) != 2 || featured[0].ID != b.ID {
		t.Fatalf("featured order: got %v", featured)
	}

	// a expired but not yet cleared: soft expiry hides it
	later := baseTime.Add(2 * time.Hour)
	featured, _ = store.ListFeatured(ctx, later)
	if len(featured) != 1 || featured[0].ID != b.ID {
		t.Errorf("soft expiry: got %d featured", len(featured))
	}

	cleared, err := store.ClearExpiredFeatures(ctx, later)
	if err != nil {
		t.Fatalf("ClearExpiredFeatures failed: %v", err)
	}
	if cleared != 1 {
		t.Errorf("cleared: got %d, want 1", cleared)
	}
	got, _ := store.GetByID(ctx, a.ID)
	if got.IsFeatured || got.TuzemoonUntil != nil {
		t.Errorf("expired feature not cleared")
	}

	if err := store.SetFeatured(ctx, 404, later); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	want := []string{"memes:INSERT", "memes:INSERT", "memes:UPDATE", "memes:UPDATE", "memes:UPDATE"}
	if len(events) != len(want) {
		t.Fatalf("events: got %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, events[i], want[i])
		}
	}
}
