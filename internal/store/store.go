package store

import (
	"context"
	"errors"
	"time"

	"wastedesk/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidRecord     = errors.New("invalid record")
)

// Collaborators is the set of upstream calls the spillage engine consumes.
// The memory store, the postgres store and the upstream REST client all satisfy it.
type Collaborators interface {
	ListOperators(ctx context.Context) ([]domain.Operator, error)
	ListActiveSessions(ctx context.Context) ([]domain.WorkSession, error)
	ListProductsSoldInSession(ctx context.Context, sessionID int64) ([]domain.ProductChoice, error)
	ListSpillage(ctx context.Context, from string, to string) ([]domain.SpillageRecord, error)
	GetSpillage(ctx context.Context, id int64) (*domain.SpillageRecord, error)
	CreateSpillage(ctx context.Context, payload domain.SpillagePayload) (*domain.SpillageRecord, error)
	UpdateSpillage(ctx context.Context, id int64, payload domain.SpillagePayload) (*domain.SpillageRecord, error)
	DeleteSpillage(ctx context.Context, id int64) error
	AdjustInventory(ctx context.Context, subsystem domain.Subsystem, op domain.Operation, payload domain.InventoryPayload) error
}

// Accounts holds the service's own state: login users and the audit trail.
type Accounts interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	Collaborators
	Accounts
}

// ValidPayload reports whether a spillage payload carries every required field.
func ValidPayload(p domain.SpillagePayload) bool {
	if p.SessionID < 1 || p.Quantity < 1 {
		return false
	}
	if p.ProductName == "" || p.Category == "" || p.Reason == "" || p.CashierHandle == "" {
		return false
	}
	if _, err := time.Parse(domain.DateLayout, p.SpillageDate); err != nil {
		return false
	}
	return true
}
