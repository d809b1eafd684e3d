package spillage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"wastedesk/backend/internal/domain"
)

const MaxReasonLength = 500

// Validate checks a draft at submit time. An empty map means the draft is valid;
// otherwise every failing field has its own message.
func Validate(draft domain.SpillageDraft) domain.FieldErrors {
	errs := domain.FieldErrors{}

	operator := strings.TrimSpace(draft.Operator)
	date := strings.TrimSpace(draft.Date)

	if operator == "" {
		errs[FieldOperator] = "Operator is required."
	}
	if date == "" {
		errs[FieldDate] = "Date is required."
	} else if _, err := time.Parse(domain.DateLayout, date); err != nil {
		errs[FieldDate] = "Date must be in YYYY-MM-DD format."
	}

	if draft.ResolvedSessionID < 1 {
		if operator != "" && date != "" {
			errs[FieldSession] = fmt.Sprintf("No active session found for %s on %s.", operator, date)
		} else {
			errs[FieldSession] = "Select an operator and date to find their session."
		}
	}

	if strings.TrimSpace(draft.Category) == "" {
		errs[FieldCategory] = "Product category is required."
	}
	if strings.TrimSpace(draft.Product) == "" {
		errs[FieldProduct] = "Product is required."
	}

	if qty := strings.TrimSpace(draft.Quantity); qty == "" {
		errs[FieldQuantity] = "Quantity is required."
	} else if _, ok := ParseQuantity(qty); !ok {
		errs[FieldQuantity] = "Quantity must be a whole number greater than zero."
	}

	reason := strings.TrimSpace(draft.Reason)
	if reason == "" {
		errs[FieldReason] = "Reason is required."
	} else if utf8.RuneCountInString(reason) > MaxReasonLength {
		errs[FieldReason] = fmt.Sprintf("Reason must be at most %d characters.", MaxReasonLength)
	}

	return errs
}

// ParseQuantity accepts only base-10 integers greater than zero.
func ParseQuantity(raw string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
