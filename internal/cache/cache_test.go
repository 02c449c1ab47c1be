package cache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgettracker/internal/models"
)

func newTestCache(t *testing.T) *SnapshotCache {
	t.Helper()
	c, err := New(time.Minute)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func sample(id string) models.Transaction {
	return models.Transaction{
		Base:     models.Base{ID: id},
		UserID:   "owner-1",
		Amount:   decimal.NewFromInt(10),
		Category: "Food",
		Date:     "2024-01-02",
		Type:     models.TransactionTypeExpense,
	}
}

func TestSnapshotCache(t *testing.T) {
	t.Run("set_then_get", func(t *testing.T) {
		c := newTestCache(t)
		c.Set("owner-1", c.Version("owner-1"), []models.Transaction{sample("a")})
		c.Wait()

		got, ok := c.Get("owner-1")
		if !ok {
			t.Fatal("expected cache hit")
		}
		if len(got) != 1 || got[0].ID != "a" {
			t.Errorf("unexpected snapshot: %+v", got)
		}
	})

	t.Run("returned_slice_is_a_copy", func(t *testing.T) {
		c := newTestCache(t)
		c.Set("owner-1", c.Version("owner-1"), []models.Transaction{sample("a")})
		c.Wait()

		got, _ := c.Get("owner-1")
		got[0].ID = "mutated"
		again, ok := c.Get("owner-1")
		if !ok || again[0].ID != "a" {
			t.Errorf("cached snapshot was mutated through a returned slice")
		}
	})

	t.Run("invalidate_drops_snapshot", func(t *testing.T) {
		c := newTestCache(t)
		c.Set("owner-1", c.Version("owner-1"), []models.Transaction{sample("a")})
		c.Wait()
		c.Invalidate("owner-1")
		c.Wait()

		if _, ok := c.Get("owner-1"); ok {
			t.Error("expected miss after invalidate")
		}
	})

	t.Run("stale_load_is_never_served", func(t *testing.T) {
		c := newTestCache(t)
		version := c.Version("owner-1")
		c.Invalidate("owner-1")
		c.Set("owner-1", version, []models.Transaction{sample("stale")})
		c.Wait()

		if _, ok := c.Get("owner-1"); ok {
			t.Error("snapshot loaded before invalidation must not be served")
		}
	})

	t.Run("owners_are_isolated", func(t *testing.T) {
		c := newTestCache(t)
		c.Set("owner-1", c.Version("owner-1"), []models.Transaction{sample("a")})
		c.Wait()

		if _, ok := c.Get("owner-2"); ok {
			t.Error("expected miss for a different owner")
		}
	})

	t.Run("nil_cache_is_disabled", func(t *testing.T) {
		var c *SnapshotCache
		c.Set("owner-1", 0, []models.Transaction{sample("a")})
		c.Invalidate("owner-1")
		if _, ok := c.Get("owner-1"); ok {
			t.Error("nil cache must always miss")
		}
	})
}
