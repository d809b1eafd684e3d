// Package sessions answers which work session an operator had open on a calendar day.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"wastedesk/backend/internal/domain"
)

var ErrInvalidDate = errors.New("invalid calendar date")

type SessionSource interface {
	ListActiveSessions(ctx context.Context) ([]domain.WorkSession, error)
}

type HandleResolver interface {
	HandleFor(displayName string) (string, error)
}

type Option func(*Index)

// WithLocation sets the zone in which calendar days are cut. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(ix *Index) {
		if loc != nil {
			ix.loc = loc
		}
	}
}

// WithClock replaces time.Now, which decides the last day of still-open sessions.
func WithClock(now func() time.Time) Option {
	return func(ix *Index) {
		if now != nil {
			ix.now = now
		}
	}
}

// Index is a read-only session snapshot. Sessions are kept ordered by start
// time then id, so the first match of a scan is the earliest-starting one.
type Index struct {
	sessions []domain.WorkSession
	loc      *time.Location
	now      func() time.Time
}

func Load(ctx context.Context, src SessionSource, opts ...Option) (*Index, error) {
	list, err := src.ListActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSessionsUnavailable, err)
	}
	return NewIndex(list, opts...), nil
}

func NewIndex(list []domain.WorkSession, opts ...Option) *Index {
	ix := &Index{
		sessions: append([]domain.WorkSession(nil), list...),
		loc:      time.Local,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(ix)
	}
	sort.SliceStable(ix.sessions, func(i, j int) bool {
		a, b := ix.sessions[i], ix.sessions[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ID < b.ID
	})
	return ix
}

func (ix *Index) Sessions() []domain.WorkSession {
	return append([]domain.WorkSession(nil), ix.sessions...)
}

func (ix *Index) Get(id int64) (domain.WorkSession, bool) {
	for _, s := range ix.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return domain.WorkSession{}, false
}

// ParseDay reads a YYYY-MM-DD date as midnight in the index location.
func (ix *Index) ParseDay(date string) (time.Time, error) {
	day, err := time.ParseInLocation(domain.DateLayout, date, ix.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return day, nil
}

// Resolve finds the session that was open for the named operator on date.
func (ix *Index) Resolve(dir HandleResolver, operatorDisplayName string, date string) (domain.WorkSession, error) {
	handle, err := dir.HandleFor(operatorDisplayName)
	if err != nil {
		return domain.WorkSession{}, err
	}
	day, err := ix.ParseDay(date)
	if err != nil {
		return domain.WorkSession{}, err
	}
	sess, ok := ix.ResolveHandle(handle, day)
	if !ok {
		return domain.WorkSession{}, fmt.Errorf("%w: no session for %s on %s", domain.ErrSessionNotFound, operatorDisplayName, date)
	}
	return sess, nil
}

// ResolveHandle matches when dateOnly(start) <= day <= dateOnly(end or today).
func (ix *Index) ResolveHandle(handle string, day time.Time) (domain.WorkSession, bool) {
	day = ix.dateOnly(day)
	today := ix.dateOnly(ix.now())
	for _, s := range ix.sessions {
		if s.OperatorHandle != handle {
			continue
		}
		startDay := ix.dateOnly(s.Start)
		endDay := today
		if s.End != nil {
			endDay = ix.dateOnly(*s.End)
		}
		if !day.Before(startDay) && !day.After(endDay) {
			return s, true
		}
	}
	return domain.WorkSession{}, false
}

func (ix *Index) dateOnly(t time.Time) time.Time {
	y, m, d := t.In(ix.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ix.loc)
}
