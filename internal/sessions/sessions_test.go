package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"wastedesk/backend/internal/directory"
	"wastedesk/backend/internal/domain"
)

var manila = time.FixedZone("PHT", 8*3600)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02T15:04", value, manila)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return ts
}

func ptr(t time.Time) *time.Time { return &t }

func testDirectory() *directory.Directory {
	return directory.New([]domain.Operator{
		{Handle: "jcruz", DisplayName: "Jane Cruz"},
		{Handle: "mreyes", DisplayName: "Mark Reyes"},
	})
}

func TestResolveClosedSessionSameDay(t *testing.T) {
	ix := NewIndex([]domain.WorkSession{
		{ID: 7, OperatorHandle: "jcruz", Start: at(t, "2024-03-01T08:00"), End: ptr(at(t, "2024-03-01T17:00"))},
	}, WithLocation(manila), WithClock(func() time.Time { return at(t, "2024-03-10T09:00") }))

	sess, err := ix.Resolve(testDirectory(), "Jane Cruz", "2024-03-01")
	if err != nil {
		t.Fatalf("expected session, got %v", err)
	}
	if sess.ID != 7 {
		t.Fatalf("expected session 7, got %d", sess.ID)
	}

	_, err = ix.Resolve(testDirectory(), "Jane Cruz", "2024-03-02")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestResolveOpenSessionRunsThroughToday(t *testing.T) {
	ix := NewIndex([]domain.WorkSession{
		{ID: 9, OperatorHandle: "mreyes", Start: at(t, "2024-03-01T22:00")},
	}, WithLocation(manila), WithClock(func() time.Time { return at(t, "2024-03-03T06:00") }))

	for _, date := range []string{"2024-03-01", "2024-03-02", "2024-03-03"} {
		if _, err := ix.Resolve(testDirectory(), "Mark Reyes", date); err != nil {
			t.Fatalf("expected match on %s, got %v", date, err)
		}
	}
	if _, err := ix.Resolve(testDirectory(), "Mark Reyes", "2024-03-04"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected no match after today, got %v", err)
	}
	if _, err := ix.Resolve(testDirectory(), "Mark Reyes", "2024-02-29"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected no match before start, got %v", err)
	}
}

func TestResolveOvernightSessionCoversBothDays(t *testing.T) {
	ix := NewIndex([]domain.WorkSession{
		{ID: 3, OperatorHandle: "jcruz", Start: at(t, "2024-03-01T20:00"), End: ptr(at(t, "2024-03-02T04:00"))},
	}, WithLocation(manila))

	for _, date := range []string{"2024-03-01", "2024-03-02"} {
		sess, err := ix.Resolve(testDirectory(), "Jane Cruz", date)
		if err != nil || sess.ID != 3 {
			t.Fatalf("expected session 3 on %s, got %+v %v", date, sess, err)
		}
	}
}

func TestResolvePicksEarliestStartOnOverlap(t *testing.T) {
	ix := NewIndex([]domain.WorkSession{
		{ID: 12, OperatorHandle: "jcruz", Start: at(t, "2024-03-01T13:00"), End: ptr(at(t, "2024-03-01T18:00"))},
		{ID: 11, OperatorHandle: "jcruz", Start: at(t, "2024-03-01T08:00"), End: ptr(at(t, "2024-03-01T12:00"))},
		{ID: 10, OperatorHandle: "mreyes", Start: at(t, "2024-03-01T06:00"), End: ptr(at(t, "2024-03-01T12:00"))},
	}, WithLocation(manila))

	sess, err := ix.Resolve(testDirectory(), "Jane Cruz", "2024-03-01")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sess.ID != 11 {
		t.Fatalf("expected earliest session 11, got %d", sess.ID)
	}
}

func TestResolveUnknownOperator(t *testing.T) {
	ix := NewIndex(nil, WithLocation(manila))
	_, err := ix.Resolve(testDirectory(), "Nobody Here", "2024-03-01")
	if !errors.Is(err, domain.ErrOperatorNotFound) {
		t.Fatalf("expected ErrOperatorNotFound, got %v", err)
	}
}

func TestResolveRejectsMalformedDate(t *testing.T) {
	ix := NewIndex(nil, WithLocation(manila))
	_, err := ix.Resolve(testDirectory(), "Jane Cruz", "03/01/2024")
	if !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

type failingSource struct{}

func (failingSource) ListActiveSessions(context.Context) ([]domain.WorkSession, error) {
	return nil, errors.New("connection refused")
}

func TestLoadWrapsUpstreamFailure(t *testing.T) {
	_, err := Load(context.Background(), failingSource{})
	if !errors.Is(err, domain.ErrSessionsUnavailable) {
		t.Fatalf("expected ErrSessionsUnavailable, got %v", err)
	}
}

// Every session must be found on every day between its start and end day.
func TestResolveCoversWholeRange(t *testing.T) {
	now := at(t, "2024-04-01T12:00")
	list := []domain.WorkSession{
		{ID: 1, OperatorHandle: "jcruz", Start: at(t, "2024-03-05T09:00"), End: ptr(at(t, "2024-03-05T15:00"))},
		{ID: 2, OperatorHandle: "jcruz", Start: at(t, "2024-03-10T23:30"), End: ptr(at(t, "2024-03-12T01:00"))},
		{ID: 3, OperatorHandle: "mreyes", Start: at(t, "2024-03-28T07:00")},
	}
	ix := NewIndex(list, WithLocation(manila), WithClock(func() time.Time { return now }))

	for _, s := range list {
		end := now
		if s.End != nil {
			end = *s.End
		}
		for day := ix.dateOnly(s.Start); !day.After(ix.dateOnly(end)); day = day.AddDate(0, 0, 1) {
			got, ok := ix.ResolveHandle(s.OperatorHandle, day)
			if !ok {
				t.Fatalf("session %d not found on %s", s.ID, day.Format(domain.DateLayout))
			}
			if got.OperatorHandle != s.OperatorHandle {
				t.Fatalf("resolved session for wrong operator on %s", day.Format(domain.DateLayout))
			}
		}
	}
}
