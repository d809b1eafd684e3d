package choices

import (
	"context"
	"errors"
	"testing"
	"time"

	"wastedesk/backend/internal/domain"
)

type countingSource struct {
	calls int
	list  []domain.ProductChoice
	err   error
}

func (s *countingSource) ListProductsSoldInSession(context.Context, int64) ([]domain.ProductChoice, error) {
	s.calls++
	return s.list, s.err
}

type mapCache struct {
	entries map[int64][]domain.ProductChoice
}

func (c *mapCache) Get(_ context.Context, id int64) ([]domain.ProductChoice, bool, error) {
	v, ok := c.entries[id]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, id int64, list []domain.ProductChoice, _ time.Duration) error {
	c.entries[id] = list
	return nil
}

var sample = []domain.ProductChoice{
	{ProductName: "Iced Tea", Category: "Beverages"},
	{ProductName: "Mug", Category: "Merchandise"},
	{ProductName: "Cafe Latte", Category: "Beverages"},
	{ProductName: "Croissant", Category: "Pastries"},
}

func TestCategoriesKeepFirstAppearanceOrder(t *testing.T) {
	got := Categories(sample)
	want := []string{"Beverages", "Merchandise", "Pastries"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestProductsForFiltersByCategory(t *testing.T) {
	got := ProductsFor(sample, "Beverages")
	if len(got) != 2 || got[0].ProductName != "Iced Tea" || got[1].ProductName != "Cafe Latte" {
		t.Fatalf("unexpected beverages: %+v", got)
	}
	if len(ProductsFor(sample, "Soups")) != 0 {
		t.Fatalf("expected no products for unknown category")
	}
}

func TestLoadForCachesOnlyClosedSessions(t *testing.T) {
	src := &countingSource{list: sample}
	c := &mapCache{entries: map[int64][]domain.ProductChoice{}}
	r := NewResolver(src, c, time.Hour, nil)
	ctx := context.Background()

	end := time.Now()
	closed := domain.WorkSession{ID: 1, Start: end.Add(-time.Hour), End: &end}
	for i := 0; i < 2; i++ {
		if _, err := r.LoadFor(ctx, closed); err != nil {
			t.Fatalf("load closed: %v", err)
		}
	}
	if src.calls != 1 {
		t.Fatalf("expected closed session to hit source once, got %d", src.calls)
	}

	open := domain.WorkSession{ID: 2, Start: end}
	for i := 0; i < 2; i++ {
		if _, err := r.LoadFor(ctx, open); err != nil {
			t.Fatalf("load open: %v", err)
		}
	}
	if src.calls != 3 {
		t.Fatalf("expected open session to bypass cache, got %d calls", src.calls)
	}
}

func TestLoadForWrapsFailure(t *testing.T) {
	r := NewResolver(&countingSource{err: errors.New("401 unauthorized")}, nil, 0, nil)
	_, err := r.LoadFor(context.Background(), domain.WorkSession{ID: 4, Start: time.Now()})
	if !errors.Is(err, domain.ErrChoicesUnavailable) {
		t.Fatalf("expected ErrChoicesUnavailable, got %v", err)
	}
}

func TestSetGroupsProductNames(t *testing.T) {
	set := Set(sample)
	if len(set.Categories) != 3 {
		t.Fatalf("expected 3 categories, got %v", set.Categories)
	}
	if got := set.ProductsByCategory["Beverages"]; len(got) != 2 {
		t.Fatalf("expected 2 beverages, got %v", got)
	}
}
