// Package spillage holds the spillage form: its draft reducer, validation
// rules and the per-form engine that resolves sessions and submits records.
package spillage

import "wastedesk/backend/internal/domain"

// Form fields a client may change.
const (
	FieldOperator = "operator"
	FieldDate     = "date"
	FieldCategory = "category"
	FieldProduct  = "product"
	FieldQuantity = "quantity"
	FieldReason   = "reason"
)

// FieldSession is the error key for a missing resolved session. It is derived
// state and cannot be set directly.
const FieldSession = "resolvedSessionId"

type FieldChange struct {
	Field string
	Value string
}

func KnownField(field string) bool {
	switch field {
	case FieldOperator, FieldDate, FieldCategory, FieldProduct, FieldQuantity, FieldReason:
		return true
	}
	return false
}

// Reduce applies one field change and its cascade:
//
//	operator, date -> clears session, category, product
//	category       -> clears product
//
// Unknown fields leave the draft untouched.
func Reduce(draft domain.SpillageDraft, change FieldChange) domain.SpillageDraft {
	switch change.Field {
	case FieldOperator:
		draft.Operator = change.Value
		clearSessionScope(&draft)
	case FieldDate:
		draft.Date = change.Value
		clearSessionScope(&draft)
	case FieldCategory:
		draft.Category = change.Value
		draft.Product = ""
	case FieldProduct:
		draft.Product = change.Value
	case FieldQuantity:
		draft.Quantity = change.Value
	case FieldReason:
		draft.Reason = change.Value
	}
	return draft
}

func clearSessionScope(draft *domain.SpillageDraft) {
	draft.ResolvedSessionID = 0
	draft.Category = ""
	draft.Product = ""
}
