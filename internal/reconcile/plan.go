package reconcile

import (
	"strings"

	"wastedesk/backend/internal/domain"
)

type Kind string

const (
	KindCreate Kind = "create"
	KindEdit   Kind = "edit"
	KindDelete Kind = "delete"
)

type Call struct {
	Subsystem domain.Subsystem
	Operation domain.Operation
	Payload   domain.InventoryPayload
}

// Plan is the set of subsystem calls that keep stock in step with one
// spillage record mutation.
type Plan struct {
	Kind       Kind
	SpillageID int64
	Calls      []Call
}

func (p Plan) Empty() bool {
	return len(p.Calls) == 0
}

// Route maps a category to the subsystems that hold its stock. "All Items" is
// the merchandise alias; every other category is backed by ingredients and
// materials together.
func Route(category string) []domain.Subsystem {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "merchandise", "all items":
		return []domain.Subsystem{domain.SubsystemMerchandise}
	default:
		return []domain.Subsystem{domain.SubsystemIngredients, domain.SubsystemMaterials}
	}
}

func PlanCreate(rec domain.SpillageRecord) Plan {
	line := lineOf(rec)
	plan := Plan{Kind: KindCreate, SpillageID: rec.ID}
	for _, sub := range Route(rec.Category) {
		plan.Calls = append(plan.Calls, Call{
			Subsystem: sub,
			Operation: domain.OperationDeduct,
			Payload:   domain.InventoryPayload{New: &line},
		})
	}
	return plan
}

func PlanDelete(rec domain.SpillageRecord) Plan {
	line := lineOf(rec)
	plan := Plan{Kind: KindDelete, SpillageID: rec.ID}
	for _, sub := range Route(rec.Category) {
		plan.Calls = append(plan.Calls, Call{
			Subsystem: sub,
			Operation: domain.OperationRestock,
			Payload:   domain.InventoryPayload{Old: &line},
		})
	}
	return plan
}

// PlanEdit compensates an edit. It returns false when category, product,
// quantity and session are all unchanged. A subsystem routed by both the old
// and new category gets a single restock-then-deduct; one routed only by the
// old category is restocked and one routed only by the new category deducted.
func PlanEdit(prev domain.SpillageRecord, next domain.SpillageRecord) (Plan, bool) {
	if prev.Category == next.Category &&
		prev.ProductName == next.ProductName &&
		prev.Quantity == next.Quantity &&
		prev.SessionID == next.SessionID {
		return Plan{}, false
	}

	oldLine, newLine := lineOf(prev), lineOf(next)
	oldRoute, newRoute := Route(prev.Category), Route(next.Category)
	plan := Plan{Kind: KindEdit, SpillageID: next.ID}

	for _, sub := range oldRoute {
		if containsSubsystem(newRoute, sub) {
			plan.Calls = append(plan.Calls, Call{
				Subsystem: sub,
				Operation: domain.OperationRestockThenDeduct,
				Payload:   domain.InventoryPayload{Old: &oldLine, New: &newLine},
			})
			continue
		}
		plan.Calls = append(plan.Calls, Call{
			Subsystem: sub,
			Operation: domain.OperationRestock,
			Payload:   domain.InventoryPayload{Old: &oldLine},
		})
	}
	for _, sub := range newRoute {
		if containsSubsystem(oldRoute, sub) {
			continue
		}
		plan.Calls = append(plan.Calls, Call{
			Subsystem: sub,
			Operation: domain.OperationDeduct,
			Payload:   domain.InventoryPayload{New: &newLine},
		})
	}
	return plan, true
}

func lineOf(rec domain.SpillageRecord) domain.InventoryLine {
	return domain.InventoryLine{
		ProductName: rec.ProductName,
		Category:    rec.Category,
		Quantity:    rec.Quantity,
	}
}

func containsSubsystem(list []domain.Subsystem, sub domain.Subsystem) bool {
	for _, s := range list {
		if s == sub {
			return true
		}
	}
	return false
}
