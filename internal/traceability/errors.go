package traceability

import (
	"errors"
	"fmt"
)

// DecodeKind classifies why a scanned payload was rejected.
type DecodeKind string

const (
	EmptyInput        DecodeKind = "EMPTY_INPUT"
	MalformedPayload  DecodeKind = "MALFORMED_PAYLOAD"
	WrongType         DecodeKind = "WRONG_TYPE"
	UnsupportedSchema DecodeKind = "UNSUPPORTED_SCHEMA"
	MissingIdentifier DecodeKind = "MISSING_IDENTIFIER"
	MissingItem       DecodeKind = "MISSING_ITEM"
	InvalidQuantity   DecodeKind = "INVALID_QUANTITY"
)

// DecodeError is returned by Decode. Only the first failure is reported.
type DecodeError struct {
	Kind   DecodeKind
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return decodeMessages[e.Kind]
	}
	return decodeMessages[e.Kind] + ": " + e.Detail
}

// Is lets errors.Is match a DecodeError against the sentinel of its kind.
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind && t.Detail == ""
}

var decodeMessages = map[DecodeKind]string{
	EmptyInput:        "QR scan data is empty",
	MalformedPayload:  "invalid QR code format",
	WrongType:         "invalid QR code type",
	UnsupportedSchema: "unsupported QR payload schema",
	MissingIdentifier: "missing completion ID in QR code",
	MissingItem:       "missing item in QR code",
	InvalidQuantity:   "invalid quantity in QR code",
}

var (
	ErrEmptyInput        = &DecodeError{Kind: EmptyInput}
	ErrMalformedPayload  = &DecodeError{Kind: MalformedPayload}
	ErrWrongType         = &DecodeError{Kind: WrongType}
	ErrUnsupportedSchema = &DecodeError{Kind: UnsupportedSchema}
	ErrMissingIdentifier = &DecodeError{Kind: MissingIdentifier}
	ErrMissingItem       = &DecodeError{Kind: MissingItem}
	ErrInvalidQuantity   = &DecodeError{Kind: InvalidQuantity}
)

var (
	ErrAlreadyScanned     = errors.New("completion already scanned")
	ErrCompletionNotFound = errors.New("completion not found")
	ErrDocumentNotFound   = errors.New("downstream document not found")
	ErrLineNotFound       = errors.New("item not found on document")
	ErrLotNotFound        = errors.New("inventory number not found")
	ErrNoLinesMatched     = errors.New("no scanned completion matched a line on this document")
	ErrQuantityExceeded   = errors.New("scanned quantity exceeds line quantity")
	ErrNothingToSubmit    = errors.New("no scans to submit")
	ErrSessionClosed      = errors.New("scan session already submitted")
	ErrInvalidRequest     = errors.New("invalid submission request")
	ErrLineIndex          = errors.New("line index out of range")
)

// AlreadyScannedError names the completion and the document that consumed it.
type AlreadyScannedError struct {
	CompletionID       string
	LinkedDownstreamID string
}

func (e *AlreadyScannedError) Error() string {
	if e.LinkedDownstreamID == "" {
		return fmt.Sprintf("completion %s has already been fulfilled", e.CompletionID)
	}
	return fmt.Sprintf("completion %s has already been fulfilled (document #%s)", e.CompletionID, e.LinkedDownstreamID)
}

func (e *AlreadyScannedError) Unwrap() error { return ErrAlreadyScanned }

// LineNotFoundError carries the item display name for operator messages.
type LineNotFoundError struct {
	ItemID   string
	ItemName string
}

func (e *LineNotFoundError) Error() string {
	name := e.ItemName
	if name == "" {
		name = e.ItemID
	}
	return fmt.Sprintf("item %q is not on this document", name)
}

func (e *LineNotFoundError) Unwrap() error { return ErrLineNotFound }

// LotNotFoundError carries the lot/serial text that failed to resolve.
type LotNotFoundError struct {
	Number string
	ItemID string
}

func (e *LotNotFoundError) Error() string {
	return fmt.Sprintf("inventory number %q not found for item %s", e.Number, e.ItemID)
}

func (e *LotNotFoundError) Unwrap() error { return ErrLotNotFound }

// QuantityExceededError is returned when a completion carries more than its line allows.
type QuantityExceededError struct {
	CompletionID string
	Scanned      string
	LineQty      string
}

func (e *QuantityExceededError) Error() string {
	return fmt.Sprintf("scanned quantity (%s) exceeds line quantity (%s) for completion %s", e.Scanned, e.LineQty, e.CompletionID)
}

func (e *QuantityExceededError) Unwrap() error { return ErrQuantityExceeded }
