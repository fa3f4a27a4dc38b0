package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"qrtrace/internal/models"
)

// ValidationError represents a structured validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects multiple field errors.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (ve *ValidationErrors) Add(field, message string) {
	ve.Errors = append(ve.Errors, ValidationError{Field: field, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, len(ve.Errors))
	for i, e := range ve.Errors {
		msgs[i] = e.Field + ": " + e.Message
	}
	return strings.Join(msgs, "; ")
}

// RequireField checks a required string field is non-empty.
func RequireField(ve *ValidationErrors, field, value string) {
	if strings.TrimSpace(value) == "" {
		ve.Add(field, "is required")
	}
}

// ValidateEnum checks a field is one of allowed values.
func ValidateEnum(ve *ValidationErrors, field, value string, allowed []string) {
	if value == "" {
		return
	}
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	ve.Add(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// ValidateDate checks a field is a valid date (YYYY-MM-DD).
func ValidateDate(ve *ValidationErrors, field, value string) {
	if value == "" {
		return
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		ve.Add(field, "must be a valid date (YYYY-MM-DD)")
	}
}

// MaxQuantity caps any single quantity.
var MaxQuantity = decimal.NewFromInt(1000000)

const MaxStringLength = 255

// ValidatePositiveQuantity checks a quantity is > 0 and within MaxQuantity.
func ValidatePositiveQuantity(ve *ValidationErrors, field string, value decimal.Decimal) {
	if !value.IsPositive() {
		ve.Add(field, "must be a positive number")
		return
	}
	if value.GreaterThan(MaxQuantity) {
		ve.Add(field, fmt.Sprintf("exceeds maximum allowed quantity of %s", MaxQuantity))
	}
}

// ValidateMaxLength checks string doesn't exceed max length.
func ValidateMaxLength(ve *ValidationErrors, field, value string, max int) {
	if len(value) > max {
		ve.Add(field, fmt.Sprintf("must be at most %d characters", max))
	}
}

// ValidateCompletion checks a completion before it is stored. Serial entries
// must carry exactly one unit and the detail may not exceed the completion.
func ValidateCompletion(c models.CompletionRecord) *ValidationErrors {
	ve := &ValidationErrors{}
	ValidateMaxLength(ve, "id", c.ID, MaxStringLength)
	RequireField(ve, "item.id", c.Item.ID)
	ValidatePositiveQuantity(ve, "quantity", c.Quantity)
	ValidateDate(ve, "transaction_date", c.TransactionDate)

	total := decimal.Zero
	seen := map[string]bool{}
	for i, a := range c.InventoryDetail {
		field := fmt.Sprintf("inventory_detail[%d]", i)
		RequireField(ve, field+".lot_or_serial_number", a.LotOrSerialNumber)
		ValidateEnum(ve, field+".kind", string(a.Kind), ValidAssignmentKinds)
		ValidatePositiveQuantity(ve, field+".quantity", a.Quantity)
		if a.Kind == models.KindSerial && !a.Quantity.Equal(decimal.NewFromInt(1)) {
			ve.Add(field+".quantity", "serial entries must have quantity 1")
		}
		if a.IsSerial() {
			if seen[a.LotOrSerialNumber] {
				ve.Add(field+".lot_or_serial_number", "duplicate serial number")
			}
			seen[a.LotOrSerialNumber] = true
		}
		total = total.Add(a.Quantity)
	}
	if len(c.InventoryDetail) > 0 && c.Quantity.IsPositive() && total.GreaterThan(c.Quantity) {
		ve.Add("inventory_detail", fmt.Sprintf("total %s exceeds completion quantity %s", total, c.Quantity))
	}
	return ve
}

// ValidateSourceOrder checks an order before it is stored.
func ValidateSourceOrder(o models.SourceOrder) *ValidationErrors {
	ve := &ValidationErrors{}
	ValidateMaxLength(ve, "id", o.ID, MaxStringLength)
	if len(o.Lines) == 0 {
		ve.Add("lines", "at least one line is required")
	}
	for i, l := range o.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		RequireField(ve, field+".item.id", l.Item.ID)
		ValidatePositiveQuantity(ve, field+".quantity", l.Quantity)
	}
	return ve
}
