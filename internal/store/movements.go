package store

import (
	"fmt"

	"wastedesk/backend/internal/domain"
)

// Movement is a signed stock change for one inventory item.
type Movement struct {
	Item  string
	Delta int
}

// RecipeFunc returns the per-unit components a product consumes in a subsystem.
type RecipeFunc func(subsystem domain.Subsystem, productName string) ([]domain.RecipeLine, error)

// PlanMovements expands an inventory adjustment into item movements. Restock
// movements always come before deduct movements.
func PlanMovements(subsystem domain.Subsystem, op domain.Operation, payload domain.InventoryPayload, recipe RecipeFunc) ([]Movement, error) {
	var restock, deduct *domain.InventoryLine
	switch op {
	case domain.OperationDeduct:
		deduct = payload.New
	case domain.OperationRestock:
		restock = payload.Old
	case domain.OperationRestockThenDeduct:
		restock, deduct = payload.Old, payload.New
		if restock == nil || deduct == nil {
			return nil, fmt.Errorf("%w: restock-then-deduct needs old and new lines", ErrInvalidRecord)
		}
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidRecord, op)
	}
	if restock == nil && deduct == nil {
		return nil, fmt.Errorf("%w: empty inventory payload", ErrInvalidRecord)
	}

	movements := make([]Movement, 0, 8)
	for _, step := range []struct {
		line *domain.InventoryLine
		sign int
	}{{restock, 1}, {deduct, -1}} {
		if step.line == nil {
			continue
		}
		if step.line.Quantity < 1 || step.line.ProductName == "" {
			return nil, fmt.Errorf("%w: inventory line needs product and positive quantity", ErrInvalidRecord)
		}
		components, err := componentsFor(subsystem, step.line.ProductName, recipe)
		if err != nil {
			return nil, err
		}
		for _, c := range components {
			movements = append(movements, Movement{Item: c.Item, Delta: step.sign * step.line.Quantity * c.PerUnit})
		}
	}
	return movements, nil
}

func componentsFor(subsystem domain.Subsystem, productName string, recipe RecipeFunc) ([]domain.RecipeLine, error) {
	switch subsystem {
	case domain.SubsystemMerchandise:
		return []domain.RecipeLine{{Item: productName, PerUnit: 1}}, nil
	case domain.SubsystemIngredients, domain.SubsystemMaterials:
		if recipe == nil {
			return nil, nil
		}
		return recipe(subsystem, productName)
	default:
		return nil, fmt.Errorf("%w: unknown subsystem %q", ErrInvalidRecord, subsystem)
	}
}
