package validation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"qrtrace/internal/models"
)

func fields(ve *ValidationErrors) []string {
	var out []string
	for _, e := range ve.Errors {
		out = append(out, e.Field)
	}
	return out
}

func TestValidateCompletion(t *testing.T) {
	one := decimal.NewFromInt(1)
	tests := []struct {
		name string
		c    models.CompletionRecord
		want []string
	}{
		{
			name: "valid",
			c: models.CompletionRecord{Item: models.Ref{ID: "I1"}, Quantity: decimal.NewFromInt(3), InventoryDetail: []models.InventoryAssignment{
				{LotOrSerialNumber: "LOT-A", Quantity: decimal.NewFromInt(2)},
				{LotOrSerialNumber: "SN-1", Quantity: one, Kind: models.KindSerial},
			}},
		},
		{
			name: "missing item and zero quantity",
			c:    models.CompletionRecord{},
			want: []string{"item.id", "quantity"},
		},
		{
			name: "bad date",
			c:    models.CompletionRecord{Item: models.Ref{ID: "I1"}, Quantity: one, TransactionDate: "03/01/2024"},
			want: []string{"transaction_date"},
		},
		{
			name: "serial with two units",
			c: models.CompletionRecord{Item: models.Ref{ID: "I1"}, Quantity: decimal.NewFromInt(2), InventoryDetail: []models.InventoryAssignment{
				{LotOrSerialNumber: "SN-1", Quantity: decimal.NewFromInt(2), Kind: models.KindSerial},
			}},
			want: []string{"inventory_detail[0].quantity"},
		},
		{
			name: "duplicate serials",
			c: models.CompletionRecord{Item: models.Ref{ID: "I1"}, Quantity: decimal.NewFromInt(2), InventoryDetail: []models.InventoryAssignment{
				{LotOrSerialNumber: "SN-1", Quantity: one},
				{LotOrSerialNumber: "SN-1", Quantity: one},
			}},
			want: []string{"inventory_detail[1].lot_or_serial_number"},
		},
		{
			name: "detail exceeds quantity",
			c: models.CompletionRecord{Item: models.Ref{ID: "I1"}, Quantity: one, InventoryDetail: []models.InventoryAssignment{
				{LotOrSerialNumber: "LOT-A", Quantity: decimal.NewFromInt(4)},
			}},
			want: []string{"inventory_detail"},
		},
		{
			name: "unknown kind",
			c: models.CompletionRecord{Item: models.Ref{ID: "I1"}, Quantity: one, InventoryDetail: []models.InventoryAssignment{
				{LotOrSerialNumber: "LOT-A", Quantity: one, Kind: "batch"},
			}},
			want: []string{"inventory_detail[0].kind"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ve := ValidateCompletion(tt.c)
			assert.Equal(t, tt.want, fields(ve))
			assert.Equal(t, len(tt.want) > 0, ve.HasErrors())
		})
	}
}

func TestValidateSourceOrder(t *testing.T) {
	ve := ValidateSourceOrder(models.SourceOrder{})
	assert.Equal(t, []string{"lines"}, fields(ve))

	ve = ValidateSourceOrder(models.SourceOrder{Lines: []models.SourceOrderLine{{Quantity: decimal.NewFromInt(-1)}}})
	assert.Equal(t, []string{"lines[0].item.id", "lines[0].quantity"}, fields(ve))
	assert.Contains(t, ve.Error(), "lines[0].item.id: is required")
}

func TestValidateEnum(t *testing.T) {
	ve := &ValidationErrors{}
	ValidateEnum(ve, "type", "fulfillment", ValidDocumentTypes)
	ValidateEnum(ve, "type", "", ValidDocumentTypes)
	assert.False(t, ve.HasErrors())
	ValidateEnum(ve, "type", "invoice", ValidDocumentTypes)
	assert.True(t, ve.HasErrors())
}
