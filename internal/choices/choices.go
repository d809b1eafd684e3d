// Package choices loads the products transacted in a work session, which bound
// what may be logged as spilled against it.
package choices

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wastedesk/backend/internal/cache"
	"wastedesk/backend/internal/domain"
)

type ChoiceSource interface {
	ListProductsSoldInSession(ctx context.Context, sessionID int64) ([]domain.ProductChoice, error)
}

type Resolver struct {
	source   ChoiceSource
	cache    cache.ChoiceCache
	cacheTTL time.Duration
	log      logrus.FieldLogger
}

func NewResolver(source ChoiceSource, cacheStore cache.ChoiceCache, cacheTTL time.Duration, log logrus.FieldLogger) *Resolver {
	if cacheStore == nil {
		cacheStore = cache.NoopChoiceCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 6 * time.Hour
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{source: source, cache: cacheStore, cacheTTL: cacheTTL, log: log}
}

// LoadFor returns the product choices of a session. An empty result is valid.
// Choices of closed sessions cannot change and are served from the cache.
func (r *Resolver) LoadFor(ctx context.Context, session domain.WorkSession) ([]domain.ProductChoice, error) {
	cacheable := !session.IsOpen()
	if cacheable {
		cached, ok, err := r.cache.Get(ctx, session.ID)
		if err != nil {
			r.log.WithField("session_id", session.ID).Warnf("choice cache read failed: %v", err)
		} else if ok {
			return cached, nil
		}
	}

	list, err := r.source.ListProductsSoldInSession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrChoicesUnavailable, err)
	}
	list = normalize(list)

	if cacheable {
		if err := r.cache.Set(ctx, session.ID, list, r.cacheTTL); err != nil {
			r.log.WithField("session_id", session.ID).Warnf("choice cache write failed: %v", err)
		}
	}
	return list, nil
}

// Categories returns distinct categories in order of first appearance.
func Categories(list []domain.ProductChoice) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, c := range list {
		if _, ok := seen[c.Category]; ok {
			continue
		}
		seen[c.Category] = struct{}{}
		out = append(out, c.Category)
	}
	return out
}

func ProductsFor(list []domain.ProductChoice, category string) []domain.ProductChoice {
	out := make([]domain.ProductChoice, 0, len(list))
	for _, c := range list {
		if c.Category == category {
			out = append(out, c)
		}
	}
	return out
}

// Contains reports whether product is offered under category.
func Contains(list []domain.ProductChoice, category string, product string) bool {
	for _, c := range list {
		if c.Category == category && c.ProductName == product {
			return true
		}
	}
	return false
}

// Set builds the category/product view handed to the form UI.
func Set(list []domain.ProductChoice) domain.ChoiceSet {
	set := domain.ChoiceSet{
		Categories:         Categories(list),
		ProductsByCategory: make(map[string][]string),
	}
	for _, category := range set.Categories {
		products := ProductsFor(list, category)
		names := make([]string, 0, len(products))
		for _, p := range products {
			names = append(names, p.ProductName)
		}
		set.ProductsByCategory[category] = names
	}
	return set
}

func normalize(list []domain.ProductChoice) []domain.ProductChoice {
	seen := make(map[domain.ProductChoice]struct{}, len(list))
	out := make([]domain.ProductChoice, 0, len(list))
	for _, c := range list {
		c.ProductName = strings.TrimSpace(c.ProductName)
		c.Category = strings.TrimSpace(c.Category)
		if c.ProductName == "" || c.Category == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
