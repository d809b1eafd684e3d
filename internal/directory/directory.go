// Package directory maps operator display names to login handles and back.
package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"wastedesk/backend/internal/domain"
)

type OperatorSource interface {
	ListOperators(ctx context.Context) ([]domain.Operator, error)
}

// Directory is a read-only roster snapshot scoped to one form lifetime.
type Directory struct {
	operators []domain.Operator
	byName    map[string]domain.Operator
	byHandle  map[string]domain.Operator
	degraded  bool
}

// Load fetches the current roster. When the source fails, Load still returns a
// usable degraded directory alongside an ErrDirectoryUnavailable error; in that
// mode display names and handles are treated as the same string.
func Load(ctx context.Context, src OperatorSource) (*Directory, error) {
	ops, err := src.ListOperators(ctx)
	if err != nil {
		return &Directory{degraded: true}, fmt.Errorf("%w: %v", domain.ErrDirectoryUnavailable, err)
	}
	return New(ops), nil
}

func New(ops []domain.Operator) *Directory {
	d := &Directory{
		operators: make([]domain.Operator, 0, len(ops)),
		byName:    make(map[string]domain.Operator, len(ops)),
		byHandle:  make(map[string]domain.Operator, len(ops)),
	}
	for _, op := range ops {
		op.Handle = strings.TrimSpace(op.Handle)
		op.DisplayName = strings.TrimSpace(op.DisplayName)
		if op.Handle == "" {
			continue
		}
		if op.DisplayName == "" {
			op.DisplayName = op.Handle
		}
		d.operators = append(d.operators, op)
		d.byHandle[op.Handle] = op
		if _, taken := d.byName[nameKey(op.DisplayName)]; !taken {
			d.byName[nameKey(op.DisplayName)] = op
		}
	}
	sort.Slice(d.operators, func(i, j int) bool {
		return d.operators[i].DisplayName < d.operators[j].DisplayName
	})
	return d
}

func (d *Directory) Degraded() bool {
	return d.degraded
}

func (d *Directory) Operators() []domain.Operator {
	return append([]domain.Operator(nil), d.operators...)
}

// HandleFor resolves a display name, ignoring case and surrounding space.
func (d *Directory) HandleFor(displayName string) (string, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return "", domain.ErrOperatorNotFound
	}
	if d.degraded {
		return name, nil
	}
	op, ok := d.byName[nameKey(name)]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrOperatorNotFound, name)
	}
	return op.Handle, nil
}

// DisplayNameFor never fails: unknown handles are returned unchanged.
func (d *Directory) DisplayNameFor(handle string) string {
	if op, ok := d.byHandle[strings.TrimSpace(handle)]; ok {
		return op.DisplayName
	}
	return handle
}

func nameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
