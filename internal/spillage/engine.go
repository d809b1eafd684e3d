package spillage

import (
	"context"
	"errors"
	"fmt"
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
	"wastedesk/backend/internal/xid"
)

var ErrUnknownField = errors.New("unknown form field")

const directoryAdvisory = "Operator list is unavailable; names are matched as entered."

type ChoiceLoader interface {
	LoadFor(ctx context.Context, session domain.WorkSession) ([]domain.ProductChoice, error)
}

type RecordWriter interface {
	CreateSpillage(ctx context.Context, payload domain.SpillagePayload) (*domain.SpillageRecord, error)
	UpdateSpillage(ctx context.Context, id int64, payload domain.SpillagePayload) (*domain.SpillageRecord, error)
}

type Dispatcher interface {
	Dispatch(plan reconcile.Plan) *reconcile.Job
}

// Deps are the collaborators shared by every form.
type Deps struct {
	Operators      directory.OperatorSource
	Sessions       sessions.SessionSource
	SessionOptions []sessions.Option
	Choices        ChoiceLoader
	Records        RecordWriter
	Reconciler     Dispatcher
	Log            logrus.FieldLogger
}

// Engine is one open spillage form. Every asynchronous result carries the
// generation it was started under and is dropped if the form has moved on.
type Engine struct {
	id       string
	mode     string
	loggedBy string
	deps     Deps
	log      logrus.FieldLogger

	mu         sync.Mutex
	dir        *directory.Directory
	index      *sessions.Index
	draft      domain.SpillageDraft
	original   *domain.SpillageRecord
	prefilled  string // operator name an edit form opened with
	choiceList []domain.ProductChoice
	errs       domain.FieldErrors
	generation uint64
	loading    bool
	submitting bool
	closed     bool
	touched    time.Time
}

// Open starts a form. With a nil record the form creates a new entry; otherwise
// it edits that record and is pre-populated from it. Collaborator failures do
// not prevent opening; they surface as field errors.
func Open(ctx context.Context, deps Deps, loggedBy string, record *domain.SpillageRecord) *Engine {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	e := &Engine{
		id:       xid.New("form"),
		mode:     domain.FormModeCreate,
		loggedBy: loggedBy,
		deps:     deps,
		errs:     domain.FieldErrors{},
		touched:  time.Now(),
	}
	e.log = deps.Log.WithField("form_id", e.id)

	dir, err := directory.Load(ctx, deps.Operators)
	if err != nil {
		e.log.Warnf("operator directory degraded: %v", err)
		e.errs[FieldOperator] = directoryAdvisory
	}
	e.dir = dir

	ix, err := sessions.Load(ctx, deps.Sessions, deps.SessionOptions...)
	if err != nil {
		// Retried on the next resolve.
		e.log.Warnf("session snapshot unavailable: %v", err)
	} else {
		e.index = ix
	}

	if record == nil {
		return e
	}

	rec := *record
	e.mode = domain.FormModeEdit
	e.original = &rec
	e.draft = domain.SpillageDraft{
		SpillageID:        rec.ID,
		Operator:          dir.DisplayNameFor(rec.CashierHandle),
		Date:              rec.SpillageDate,
		ResolvedSessionID: rec.SessionID,
		Category:          rec.Category,
		Product:           rec.ProductName,
		Quantity:          strconv.Itoa(rec.Quantity),
		Reason:            rec.Reason,
	}
	e.prefilled = e.draft.Operator

	session := domain.WorkSession{ID: rec.SessionID, OperatorHandle: rec.CashierHandle}
	if e.index != nil {
		if s, ok := e.index.Get(rec.SessionID); ok {
			session = s
		}
	}
	list, err := deps.Choices.LoadFor(ctx, session)
	if err != nil {
		e.log.Warnf("choices for session %d unavailable: %v", rec.SessionID, err)
		e.errs[FieldCategory] = "Products for this session could not be loaded."
		return e
	}
	e.choiceList = list
	if len(list) == 0 {
		e.errs[FieldCategory] = "No products were processed in this session."
	}
	return e
}

func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) Mode() string {
	return e.mode
}

// LastUsed is the time of the most recent call on the form.
func (e *Engine) LastUsed() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.touched
}

func (e *Engine) State() domain.FormState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) Choices() domain.ChoiceSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.touched = time.Now()
	return choices.Set(e.choiceList)
}

func (e *Engine) FieldErrors() domain.FieldErrors {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.touched = time.Now()
	return copyErrors(e.errs)
}

// ChangeField applies one edit. Operator and date changes re-resolve the
// session and reload choices before returning; a change made meanwhile wins
// and the older result is discarded.
func (e *Engine) ChangeField(ctx context.Context, field string, value string) (domain.FormState, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.FormState{}, domain.ErrFormClosed
	}
	if e.submitting {
		e.mu.Unlock()
		return domain.FormState{}, domain.ErrSubmitInProgress
	}
	if !KnownField(field) {
		e.mu.Unlock()
		return domain.FormState{}, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	e.touched = time.Now()
	e.draft = Reduce(e.draft, FieldChange{Field: field, Value: value})
	delete(e.errs, field)
	e.keepAdvisoryLocked()

	if field != FieldOperator && field != FieldDate {
		state := e.stateLocked()
		e.mu.Unlock()
		return state, nil
	}

	e.generation++
	token := e.generation
	e.choiceList = nil
	delete(e.errs, FieldSession)
	delete(e.errs, FieldCategory)
	delete(e.errs, FieldProduct)

	operator := strings.TrimSpace(e.draft.Operator)
	date := strings.TrimSpace(e.draft.Date)
	if operator == "" || date == "" {
		e.loading = false
		state := e.stateLocked()
		e.mu.Unlock()
		return state, nil
	}
	e.loading = true
	dir, ix := e.dir, e.index
	e.mu.Unlock()

	res := e.resolve(ctx, dir, ix, operator, date)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || token != e.generation {
		e.log.WithField("generation", token).Debug("discarding superseded session resolution")
		return e.stateLocked(), nil
	}
	e.loading = false
	if res.index != nil {
		e.index = res.index
	}
	for k, msg := range res.errs {
		e.errs[k] = msg
	}
	if res.sessionID > 0 {
		e.draft.ResolvedSessionID = res.sessionID
		e.choiceList = res.choices
	}
	return e.stateLocked(), nil
}

type resolution struct {
	index     *sessions.Index
	sessionID int64
	choices   []domain.ProductChoice
	errs      domain.FieldErrors
}

func (e *Engine) resolve(ctx context.Context, dir *directory.Directory, ix *sessions.Index, operator string, date string) resolution {
	res := resolution{errs: domain.FieldErrors{}}

	if ix == nil {
		loaded, err := sessions.Load(ctx, e.deps.Sessions, e.deps.SessionOptions...)
		if err != nil {
			e.log.Warnf("session snapshot unavailable: %v", err)
			res.errs[FieldCategory] = "Work sessions are unavailable right now. Try again."
			return res
		}
		ix = loaded
		res.index = loaded
	}

	session, err := ix.Resolve(dir, operator, date)
	switch {
	case errors.Is(err, sessions.ErrInvalidDate):
		res.errs[FieldDate] = "Date must be in YYYY-MM-DD format."
		return res
	case errors.Is(err, domain.ErrOperatorNotFound):
		res.errs[FieldCategory] = fmt.Sprintf("Operator %q was not found.", operator)
		return res
	case errors.Is(err, domain.ErrSessionNotFound):
		res.errs[FieldCategory] = fmt.Sprintf("No active session found for %s on %s.", operator, date)
		return res
	case err != nil:
		res.errs[FieldCategory] = "Session lookup failed. Try again."
		return res
	}

	list, err := e.deps.Choices.LoadFor(ctx, session)
	if err != nil {
		e.log.Warnf("choices for session %d unavailable: %v", session.ID, err)
		res.errs[FieldCategory] = "Products for this session could not be loaded."
		return res
	}
	res.sessionID = session.ID
	res.choices = list
	if len(list) == 0 {
		res.errs[FieldCategory] = "No products were processed in this session."
	}
	return res
}

// Validate runs the submit-time rules without submitting and shows the result.
func (e *Engine) Validate() (domain.FieldErrors, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, domain.ErrFormClosed
	}
	e.touched = time.Now()
	errs := e.validateLocked()
	e.showLocked(errs)
	return copyErrors(errs), nil
}

// Submit validates, persists and closes the form, then dispatches inventory
// reconciliation. A failed write leaves the form open with the draft intact.
func (e *Engine) Submit(ctx context.Context) (domain.SpillageRecord, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.SpillageRecord{}, domain.ErrFormClosed
	}
	if e.submitting {
		e.mu.Unlock()
		return domain.SpillageRecord{}, domain.ErrSubmitInProgress
	}
	e.touched = time.Now()

	errs := e.validateLocked()
	if len(errs) > 0 {
		e.showLocked(errs)
		e.mu.Unlock()
		return domain.SpillageRecord{}, &domain.ValidationError{Fields: copyErrors(errs)}
	}

	handle, err := e.cashierHandleLocked()
	if err != nil {
		errs = domain.FieldErrors{FieldOperator: fmt.Sprintf("Operator %q was not found.", strings.TrimSpace(e.draft.Operator))}
		e.showLocked(errs)
		e.mu.Unlock()
		return domain.SpillageRecord{}, &domain.ValidationError{Fields: errs}
	}

	qty, _ := ParseQuantity(e.draft.Quantity)
	payload := domain.SpillagePayload{
		SessionID:     e.draft.ResolvedSessionID,
		ProductName:   strings.TrimSpace(e.draft.Product),
		Category:      strings.TrimSpace(e.draft.Category),
		Quantity:      qty,
		SpillageDate:  strings.TrimSpace(e.draft.Date),
		Reason:        strings.TrimSpace(e.draft.Reason),
		LoggedBy:      e.loggedBy,
		CashierHandle: handle,
	}
	original := e.original
	e.submitting = true
	e.mu.Unlock()

	var rec *domain.SpillageRecord
	if original == nil {
		rec, err = e.deps.Records.CreateSpillage(ctx, payload)
	} else {
		rec, err = e.deps.Records.UpdateSpillage(ctx, original.ID, payload)
	}

	e.mu.Lock()
	e.submitting = false
	if err != nil {
		e.mu.Unlock()
		e.log.WithError(err).Error("spillage write failed")
		return domain.SpillageRecord{}, fmt.Errorf("%w: %v", domain.ErrPersistFailed, err)
	}
	e.closed = true
	e.generation++
	e.loading = false
	e.mu.Unlock()

	if e.deps.Reconciler != nil {
		var plan reconcile.Plan
		if original == nil {
			plan = reconcile.PlanCreate(*rec)
		} else if p, ok := reconcile.PlanEdit(*original, *rec); ok {
			plan = p
		}
		if !plan.Empty() {
			job := e.deps.Reconciler.Dispatch(plan)
			e.log.WithFields(logrus.Fields{"spillage_id": rec.ID, "job_id": job.ID}).Debug("reconciliation dispatched")
		}
	}
	return *rec, nil
}

// Close discards the form. In-flight resolutions finish without effect.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.generation++
	e.loading = false
}

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// cashierHandleLocked keeps the record's cashier when an edit left the
// operator untouched; that cashier may no longer be on the roster.
func (e *Engine) cashierHandleLocked() (string, error) {
	if e.original != nil && strings.TrimSpace(e.draft.Operator) == strings.TrimSpace(e.prefilled) {
		return e.original.CashierHandle, nil
	}
	return e.dir.HandleFor(e.draft.Operator)
}

// keepAdvisoryLocked restores the degraded-directory notice, which holds for
// the life of the form.
func (e *Engine) keepAdvisoryLocked() {
	if _, set := e.errs[FieldOperator]; !set && e.dir.Degraded() {
		e.errs[FieldOperator] = directoryAdvisory
	}
}

func (e *Engine) validateLocked() domain.FieldErrors {
	errs := Validate(e.draft)
	if _, bad := errs[FieldProduct]; !bad && len(e.choiceList) > 0 {
		if !choices.Contains(e.choiceList, e.draft.Category, e.draft.Product) {
			errs[FieldProduct] = "Select a product sold in this session."
		}
	}
	return errs
}

// showLocked replaces the displayed validation errors, keeping advisories on
// fields that passed.
func (e *Engine) showLocked(errs domain.FieldErrors) {
	for _, k := range []string{FieldOperator, FieldDate, FieldSession, FieldProduct, FieldQuantity, FieldReason} {
		delete(e.errs, k)
	}
	for k, msg := range errs {
		e.errs[k] = msg
	}
	e.keepAdvisoryLocked()
}

func (e *Engine) stateLocked() domain.FormState {
	return domain.FormState{
		FormID:      e.id,
		Mode:        e.mode,
		Draft:       e.draft,
		Choices:     choices.Set(e.choiceList),
		FieldErrors: copyErrors(e.errs),
		Loading:     e.loading,
		Closed:      e.closed,
	}
}

func copyErrors(in domain.FieldErrors) domain.FieldErrors {
	out := make(domain.FieldErrors, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
