package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wastedesk/backend/internal/domain"
)

type recordedCall struct {
	subsystem domain.Subsystem
	op        domain.Operation
	payload   domain.InventoryPayload
}

type fakeAdjuster struct {
	mu    sync.Mutex
	calls []recordedCall
	fail  map[domain.Subsystem]error
}

func (f *fakeAdjuster) AdjustInventory(_ context.Context, sub domain.Subsystem, op domain.Operation, payload domain.InventoryPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{subsystem: sub, op: op, payload: payload})
	return f.fail[sub]
}

func (f *fakeAdjuster) bySubsystem() map[domain.Subsystem]recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[domain.Subsystem]recordedCall, len(f.calls))
	for _, c := range f.calls {
		out[c.subsystem] = c
	}
	return out
}

func TestRouteAliasesAllItemsToMerchandise(t *testing.T) {
	for _, category := range []string{"Merchandise", "merchandise", "All Items", " ALL ITEMS "} {
		route := Route(category)
		if len(route) != 1 || route[0] != domain.SubsystemMerchandise {
			t.Fatalf("expected merchandise route for %q, got %v", category, route)
		}
	}
	route := Route("Beverages")
	if len(route) != 2 || route[0] != domain.SubsystemIngredients || route[1] != domain.SubsystemMaterials {
		t.Fatalf("expected ingredients+materials for Beverages, got %v", route)
	}
}

func TestPlanCreateDeductsPerSubsystem(t *testing.T) {
	plan := PlanCreate(domain.SpillageRecord{ID: 4, ProductName: "Iced Tea", Category: "Beverages", Quantity: 2})
	if len(plan.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(plan.Calls))
	}
	for _, c := range plan.Calls {
		if c.Operation != domain.OperationDeduct || c.Payload.New == nil || c.Payload.New.Quantity != 2 || c.Payload.Old != nil {
			t.Fatalf("unexpected create call %+v", c)
		}
	}
	if *plan.Calls[0].Payload.New != *plan.Calls[1].Payload.New {
		t.Fatalf("expected identical payloads across subsystems")
	}
}

func TestPlanDeleteMerchandiseRestocksOnce(t *testing.T) {
	plan := PlanDelete(domain.SpillageRecord{ID: 8, ProductName: "Mug", Category: "Merchandise", Quantity: 3})
	if len(plan.Calls) != 1 {
		t.Fatalf("expected single call, got %d", len(plan.Calls))
	}
	c := plan.Calls[0]
	if c.Subsystem != domain.SubsystemMerchandise || c.Operation != domain.OperationRestock {
		t.Fatalf("unexpected call %+v", c)
	}
	if c.Payload.Old == nil || c.Payload.Old.Quantity != 3 || c.Payload.Old.ProductName != "Mug" {
		t.Fatalf("unexpected payload %+v", c.Payload)
	}
}

func TestPlanEditNoopWhenTrackedFieldsUnchanged(t *testing.T) {
	prev := domain.SpillageRecord{ID: 1, Category: "Beverages", ProductName: "Iced Tea", Quantity: 2, SessionID: 5, Reason: "dropped"}
	next := prev
	next.Reason = "dropped tray"
	next.SpillageDate = "2024-03-02"
	if _, ok := PlanEdit(prev, next); ok {
		t.Fatalf("expected no-op when only reason/date changed")
	}
}

func TestPlanEditQuantityChangeIsRestockThenDeduct(t *testing.T) {
	prev := domain.SpillageRecord{ID: 1, Category: "Beverages", ProductName: "Iced Tea", Quantity: 2, SessionID: 5}
	next := prev
	next.Quantity = 5

	plan, ok := PlanEdit(prev, next)
	if !ok {
		t.Fatalf("expected a plan")
	}
	if len(plan.Calls) != 2 {
		t.Fatalf("expected ingredients and materials calls, got %d", len(plan.Calls))
	}
	for _, c := range plan.Calls {
		if c.Operation != domain.OperationRestockThenDeduct {
			t.Fatalf("expected restock-then-deduct, got %s", c.Operation)
		}
		if c.Payload.Old.Quantity != 2 || c.Payload.New.Quantity != 5 {
			t.Fatalf("expected old=2 new=5, got %+v %+v", c.Payload.Old, c.Payload.New)
		}
	}
}

func TestPlanEditAcrossRoutes(t *testing.T) {
	prev := domain.SpillageRecord{ID: 1, Category: "Merchandise", ProductName: "Mug", Quantity: 1, SessionID: 5}
	next := domain.SpillageRecord{ID: 1, Category: "Beverages", ProductName: "Iced Tea", Quantity: 2, SessionID: 5}

	plan, ok := PlanEdit(prev, next)
	if !ok {
		t.Fatalf("expected a plan")
	}
	ops := map[domain.Subsystem]domain.Operation{}
	for _, c := range plan.Calls {
		ops[c.Subsystem] = c.Operation
	}
	if ops[domain.SubsystemMerchandise] != domain.OperationRestock {
		t.Fatalf("expected merchandise restock, got %v", ops)
	}
	if ops[domain.SubsystemIngredients] != domain.OperationDeduct || ops[domain.SubsystemMaterials] != domain.OperationDeduct {
		t.Fatalf("expected ingredients/materials deduct, got %v", ops)
	}
}

func TestDispatchSettles(t *testing.T) {
	adj := &fakeAdjuster{}
	r := New(adj, time.Second, nil)

	var got []Outcome
	var mu sync.Mutex
	r.OnOutcome(func(o Outcome) {
		mu.Lock()
		got = append(got, o)
		mu.Unlock()
	})

	job := r.Dispatch(PlanCreate(domain.SpillageRecord{ID: 2, ProductName: "Iced Tea", Category: "Beverages", Quantity: 1}))
	<-job.Done()
	r.Wait()

	if job.State() != StateSettled {
		t.Fatalf("expected settled, got %s", job.State())
	}
	calls := adj.bySubsystem()
	if _, ok := calls[domain.SubsystemIngredients]; !ok {
		t.Fatalf("expected ingredients call")
	}
	if _, ok := calls[domain.SubsystemMaterials]; !ok {
		t.Fatalf("expected materials call")
	}
	if len(got) != 1 || got[0].State != StateSettled {
		t.Fatalf("expected one settled outcome, got %+v", got)
	}
	if len(r.Failures()) != 0 {
		t.Fatalf("expected empty failure journal")
	}
}

func TestDispatchPartialFailureIsReported(t *testing.T) {
	adj := &fakeAdjuster{fail: map[domain.Subsystem]error{domain.SubsystemMaterials: errors.New("materials service down")}}
	r := New(adj, time.Second, nil)

	job := r.Dispatch(PlanDelete(domain.SpillageRecord{ID: 9, ProductName: "Iced Tea", Category: "Beverages", Quantity: 2}))
	r.Wait()

	if job.State() != StateFailed {
		t.Fatalf("expected failed, got %s", job.State())
	}
	outcome := job.Outcome()
	if !errors.Is(outcome.Err, domain.ErrReconciliationFailed) {
		t.Fatalf("expected ErrReconciliationFailed, got %v", outcome.Err)
	}
	if len(adj.bySubsystem()) != 2 {
		t.Fatalf("expected both subsystems to be attempted")
	}
	failures := r.Failures()
	if len(failures) != 1 || failures[0].Subsystem != domain.SubsystemMaterials || failures[0].SpillageID != 9 {
		t.Fatalf("unexpected failure journal %+v", failures)
	}
}

func TestDispatchEmptyPlanSettlesImmediately(t *testing.T) {
	r := New(&fakeAdjuster{}, time.Second, nil)
	job := r.Dispatch(Plan{Kind: KindEdit})
	select {
	case <-job.Done():
	default:
		t.Fatalf("expected empty plan to be done immediately")
	}
	if job.State() != StateSettled {
		t.Fatalf("expected settled, got %s", job.State())
	}
}
