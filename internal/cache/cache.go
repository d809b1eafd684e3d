package cache

import (
	"context"
	"time"

	"wastedesk/backend/internal/domain"
)

// ChoiceCache stores the products sold in a closed session.
type ChoiceCache interface {
	Get(ctx context.Context, sessionID int64) ([]domain.ProductChoice, bool, error)
	Set(ctx context.Context, sessionID int64, choices []domain.ProductChoice, ttl time.Duration) error
}

type NoopChoiceCache struct{}

func (NoopChoiceCache) Get(_ context.Context, _ int64) ([]domain.ProductChoice, bool, error) {
	return nil, false, nil
}

func (NoopChoiceCache) Set(_ context.Context, _ int64, _ []domain.ProductChoice, _ time.Duration) error {
	return nil
}
