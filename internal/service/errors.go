package service

import (
	"encoding/json"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindUnauthorized ErrorKind = "unauthorized"
	KindNotFound     ErrorKind = "not_found"
	KindUnavailable  ErrorKind = "unavailable"
	KindConflict     ErrorKind = "conflict"
)

// Reason codes carried by Error.Code.
const (
	CodeOrderNotFound          = "order_not_found"
	CodeMalformedNotification  = "malformed_notification"
	CodeInvalidSignature       = "invalid_signature"
	CodeAmountMismatch         = "amount_mismatch"
	CodeIncompleteShippingInfo = "incomplete_shipping_info"
	CodeOrderHasNoItems        = "order_has_no_items"
	CodeOrderNotPaid           = "order_not_paid"
	CodeOrderNotShipped        = "order_not_shipped"
	CodeShipmentRejected       = "shipment_rejected"
	CodeShippingUnavailable    = "shipping_unavailable"
	CodeGatewayUnavailable     = "gateway_unavailable"
)

// Error is the classified failure returned by the fulfillment services.
type Error struct {
	Kind      ErrorKind
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error    string `json:"error"`
		Message  string `json:"message"`
		CanRetry bool   `json:"can_retry"`
	}{e.Code, e.Message, e.Retryable})
}

func NewValidation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func NewUnauthorized(code, message string) *Error {
	return &Error{Kind: KindUnauthorized, Code: code, Message: message}
}

func NewNotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func NewConflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// NewUnavailable reports a transient failure of an external system. It is always retryable.
func NewUnavailable(code, message string, err error) *Error {
	return &Error{Kind: KindUnavailable, Code: code, Message: message, Retryable: true, Err: err}
}

// AsError extracts the *Error carried by err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func orderNotFound(id any) *Error {
	return NewNotFound(CodeOrderNotFound, fmt.Sprintf("order %v not found", id))
}
