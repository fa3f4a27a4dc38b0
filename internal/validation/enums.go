package validation

// Common enum values - these MUST match DB CHECK constraints in the store package.
var (
	ValidAssignmentKinds = []string{"lot", "serial"}
	ValidDocumentTypes   = []string{"fulfillment", "shipment", "receipt"}
)
