package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wastedesk/backend/internal/choices"
	"wastedesk/backend/internal/directory"
	"wastedesk/backend/internal/domain"
	"wastedesk/backend/internal/reconcile"
	"wastedesk/backend/internal/sessions"
	"wastedesk/backend/internal/spillage"
	"wastedesk/backend/internal/store"
	"wastedesk/backend/internal/xid"
)

var (
	ErrFormNotFound = errors.New("form not found")
	ErrForbidden    = errors.New("admin role required")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Location    *time.Location
	FormIdleTTL time.Duration
	Log         logrus.FieldLogger
}

// Service holds the open spillage forms and the list, delete and admin
// operations around them.
type Service struct {
	collab     store.Collaborators
	accounts   store.Accounts
	choices    *choices.Resolver
	reconciler *reconcile.Reconciler
	loc        *time.Location
	formTTL    time.Duration
	log        logrus.FieldLogger
	now        func() time.Time

	mu    sync.Mutex
	forms map[string]*spillage.Engine
}

func New(collab store.Collaborators, accounts store.Accounts, resolver *choices.Resolver, reconciler *reconcile.Reconciler, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.FormIdleTTL <= 0 {
		opts.FormIdleTTL = 30 * time.Minute
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	s := &Service{
		collab:     collab,
		accounts:   accounts,
		choices:    resolver,
		reconciler: reconciler,
		loc:        opts.Location,
		formTTL:    opts.FormIdleTTL,
		log:        opts.Log,
		now:        time.Now,
		forms:      make(map[string]*spillage.Engine),
	}
	reconciler.OnOutcome(s.auditReconciliation)
	return s
}

func (s *Service) ListOperators(ctx context.Context) ([]domain.Operator, error) {
	dir, err := directory.Load(ctx, s.collab)
	if err != nil {
		return nil, err
	}
	return dir.Operators(), nil
}

func (s *Service) ListActiveSessions(ctx context.Context) ([]domain.WorkSession, error) {
	ix, err := sessions.Load(ctx, s.collab, sessions.WithLocation(s.loc))
	if err != nil {
		return nil, err
	}
	return ix.Sessions(), nil
}

// ListSpillage returns table rows for records dated within [from, to]. Either
// bound may be empty. Operator names fall back to handles when the directory
// is unavailable.
func (s *Service) ListSpillage(ctx context.Context, from string, to string) (domain.SpillageListResponse, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(domain.DateLayout, d); err != nil {
			return domain.SpillageListResponse{}, store.ErrInvalidRecord
		}
	}
	if from != "" && to != "" && from > to {
		return domain.SpillageListResponse{}, store.ErrInvalidRecord
	}

	records, err := s.collab.ListSpillage(ctx, from, to)
	if err != nil {
		return domain.SpillageListResponse{}, err
	}
	dir, err := directory.Load(ctx, s.collab)
	if err != nil {
		s.log.Warnf("listing spillage with raw operator handles: %v", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].SpillageDate != records[j].SpillageDate {
			return records[i].SpillageDate > records[j].SpillageDate
		}
		return records[i].ID > records[j].ID
	})

	rows := make([]domain.SpillageRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, domain.SpillageRow{
			ID:        rec.ID,
			Date:      rec.SpillageDate,
			Operator:  dir.DisplayNameFor(rec.CashierHandle),
			Category:  rec.Category,
			Product:   rec.ProductName,
			Quantity:  rec.Quantity,
			Reason:    rec.Reason,
			LoggedBy:  rec.LoggedBy,
			SessionID: rec.SessionID,
		})
	}
	return domain.SpillageListResponse{Items: rows}, nil
}

// DeleteSpillage removes a record and restocks what it had deducted.
func (s *Service) DeleteSpillage(ctx context.Context, id int64) error {
	if id < 1 {
		return store.ErrInvalidRecord
	}
	rec, err := s.collab.GetSpillage(ctx, id)
	if err != nil {
		return err
	}
	if err := s.collab.DeleteSpillage(ctx, id); err != nil {
		return err
	}
	job := s.reconciler.Dispatch(reconcile.PlanDelete(*rec))
	s.logAudit(ctx, "spillage_delete", "spillage", strconv.FormatInt(id, 10), fmt.Sprintf("product=%s,qty=%d,job=%s", rec.ProductName, rec.Quantity, job.ID))
	return nil
}

// OpenForm starts a create form, or an edit form when req names a record.
func (s *Service) OpenForm(ctx context.Context, req domain.FormOpenRequest) (domain.FormState, error) {
	var existing *domain.SpillageRecord
	if req.SpillageID != 0 {
		if req.SpillageID < 0 {
			return domain.FormState{}, store.ErrInvalidRecord
		}
		rec, err := s.collab.GetSpillage(ctx, req.SpillageID)
		if err != nil {
			return domain.FormState{}, err
		}
		existing = rec
	}

	loggedBy := "system"
	if actor, ok := ActorFromContext(ctx); ok {
		loggedBy = actor.Username
	}

	engine := spillage.Open(ctx, s.formDeps(), loggedBy, existing)

	s.mu.Lock()
	s.sweepLocked()
	s.forms[engine.ID()] = engine
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"form_id": engine.ID(), "mode": engine.Mode()}).Debug("form opened")
	return engine.State(), nil
}

func (s *Service) FormState(formID string) (domain.FormState, error) {
	engine, err := s.form(formID)
	if err != nil {
		return domain.FormState{}, err
	}
	return engine.State(), nil
}

func (s *Service) ChangeField(ctx context.Context, formID string, req domain.FieldChangeRequest) (domain.FormState, error) {
	engine, err := s.form(formID)
	if err != nil {
		return domain.FormState{}, err
	}
	return engine.ChangeField(ctx, strings.TrimSpace(req.Field), req.Value)
}

func (s *Service) ValidateForm(formID string) (domain.FieldErrors, error) {
	engine, err := s.form(formID)
	if err != nil {
		return nil, err
	}
	return engine.Validate()
}

func (s *Service) FormChoices(formID string) (domain.ChoiceSet, error) {
	engine, err := s.form(formID)
	if err != nil {
		return domain.ChoiceSet{}, err
	}
	return engine.Choices(), nil
}

func (s *Service) FormErrors(formID string) (domain.FieldErrors, error) {
	engine, err := s.form(formID)
	if err != nil {
		return nil, err
	}
	return engine.FieldErrors(), nil
}

// SubmitForm persists the draft. The form is dropped once the write succeeds;
// on any error it stays open.
func (s *Service) SubmitForm(ctx context.Context, formID string) (domain.SubmitResponse, error) {
	engine, err := s.form(formID)
	if err != nil {
		return domain.SubmitResponse{}, err
	}
	rec, err := engine.Submit(ctx)
	if err != nil {
		return domain.SubmitResponse{}, err
	}

	s.mu.Lock()
	delete(s.forms, formID)
	s.mu.Unlock()

	action := "spillage_create"
	if engine.Mode() == domain.FormModeEdit {
		action = "spillage_update"
	}
	s.logAudit(ctx, action, "spillage", strconv.FormatInt(rec.ID, 10), fmt.Sprintf("product=%s,qty=%d,session=%d", rec.ProductName, rec.Quantity, rec.SessionID))
	return domain.SubmitResponse{Record: rec}, nil
}

func (s *Service) CloseForm(formID string) error {
	s.mu.Lock()
	engine, ok := s.forms[formID]
	delete(s.forms, formID)
	s.mu.Unlock()
	if !ok {
		return ErrFormNotFound
	}
	engine.Close()
	return nil
}

// ExpireIdleForms closes forms untouched for longer than the idle TTL and
// returns how many were dropped.
func (s *Service) ExpireIdleForms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *Service) OpenForms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.forms)
}

func (s *Service) ReconciliationFailures(ctx context.Context) ([]domain.ReconciliationFailure, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.reconciler.Failures(), nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse(domain.DateLayout, date)
		if err != nil {
			return nil, store.ErrInvalidRecord
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.accounts.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) formDeps() spillage.Deps {
	return spillage.Deps{
		Operators:      s.collab,
		Sessions:       s.collab,
		SessionOptions: []sessions.Option{sessions.WithLocation(s.loc)},
		Choices:        s.choices,
		Records:        s.collab,
		Reconciler:     s.reconciler,
		Log:            s.log,
	}
}

func (s *Service) form(formID string) (*spillage.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	engine, ok := s.forms[formID]
	if !ok {
		return nil, ErrFormNotFound
	}
	return engine, nil
}

func (s *Service) sweepLocked() int {
	cutoff := s.now().Add(-s.formTTL)
	dropped := 0
	for id, engine := range s.forms {
		if engine.Closed() || engine.LastUsed().Before(cutoff) {
			engine.Close()
			delete(s.forms, id)
			dropped++
		}
	}
	if dropped > 0 {
		s.log.WithField("dropped", dropped).Debug("expired idle forms")
	}
	return dropped
}

func (s *Service) auditReconciliation(outcome reconcile.Outcome) {
	if outcome.State != reconcile.StateFailed {
		return
	}
	ctx := WithActor(context.Background(), domain.Actor{Username: "system", Role: "system"})
	for _, f := range outcome.Failures {
		s.logAudit(ctx, "reconciliation_failed", "spillage", strconv.FormatInt(f.SpillageID, 10),
			fmt.Sprintf("job=%s,kind=%s,subsystem=%s,op=%s,error=%s", f.JobID, f.Kind, f.Subsystem, f.Operation, f.Error))
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.accounts.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.log.WithFields(logrus.Fields{"action": action, "entity": entityType + "/" + entityID}).Warnf("failed to write audit log: %v", err)
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}
