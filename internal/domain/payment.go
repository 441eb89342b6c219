package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Gateway transaction statuses.
const (
	TxnSettlement = "settlement"
	TxnCapture    = "capture"
	TxnPending    = "pending"
	TxnDeny       = "deny"
	TxnCancel     = "cancel"
	TxnExpire     = "expire"
	TxnFailure    = "failure"

	FraudAccept    = "accept"
	FraudChallenge = "challenge"
	FraudDeny      = "deny"
)

const gatewayTimeLayout = "2006-01-02 15:04:05"

var ErrMalformedNotification = errors.New("malformed payment notification")

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// PaymentNotification is the validated form of a gateway webhook or status-check response.
type PaymentNotification struct {
	TransactionID     string
	OrderRef          string
	TransactionStatus string
	FraudStatus       string
	PaymentType       string
	StatusCode        string
	GrossAmount       int64
	HasGrossAmount    bool
	TransactionTime   *time.Time
}

type notificationRequest struct {
	TransactionID     string          `json:"transaction_id" binding:"required"`
	OrderID           json.RawMessage `json:"order_id"`
	TransactionStatus string          `json:"transaction_status" binding:"required"`
	FraudStatus       string          `json:"fraud_status"`
	PaymentType       string          `json:"payment_type"`
	StatusCode        string          `json:"status_code"`
	GrossAmount       json.RawMessage `json:"gross_amount"`
	TransactionTime   string          `json:"transaction_time"`
}

// ParsePaymentNotification decodes a gateway payload into the strict internal schema.
// Local gateway timestamps are read in loc; nil means UTC.
func ParsePaymentNotification(body []byte, loc *time.Location) (PaymentNotification, error) {
	var req notificationRequest
	if err := binding.JSON.BindBody(body, &req); err != nil {
		return PaymentNotification{}, bindError(err)
	}

	n := PaymentNotification{
		TransactionID:     strings.TrimSpace(req.TransactionID),
		TransactionStatus: strings.ToLower(strings.TrimSpace(req.TransactionStatus)),
		FraudStatus:       strings.ToLower(strings.TrimSpace(req.FraudStatus)),
		PaymentType:       strings.TrimSpace(req.PaymentType),
		StatusCode:        strings.TrimSpace(req.StatusCode),
	}
	if n.TransactionID == "" {
		return PaymentNotification{}, fmt.Errorf("%w: transaction_id is required", ErrMalformedNotification)
	}
	if n.TransactionStatus == "" {
		return PaymentNotification{}, fmt.Errorf("%w: transaction_status is required", ErrMalformedNotification)
	}

	ref, err := scalarString(req.OrderID)
	if err != nil {
		return PaymentNotification{}, fmt.Errorf("%w: order_id: %v", ErrMalformedNotification, err)
	}
	n.OrderRef = ref

	amount, err := scalarString(req.GrossAmount)
	if err != nil {
		return PaymentNotification{}, fmt.Errorf("%w: gross_amount: %v", ErrMalformedNotification, err)
	}
	if amount != "" {
		n.GrossAmount, err = ParseAmount(amount)
		if err != nil {
			return PaymentNotification{}, fmt.Errorf("%w: gross_amount: %v", ErrMalformedNotification, err)
		}
		n.HasGrossAmount = true
	}

	if ts := strings.TrimSpace(req.TransactionTime); ts != "" {
		parsed, err := ParseGatewayTime(ts, loc)
		if err != nil {
			return PaymentNotification{}, fmt.Errorf("%w: transaction_time: %v", ErrMalformedNotification, err)
		}
		n.TransactionTime = &parsed
	}

	return n, nil
}

// bindError names the first failing field of a payload that did not bind.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s is %s", ErrMalformedNotification, jsonFieldName(fe), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrMalformedNotification, err)
}

func jsonFieldName(fe validator.FieldError) string {
	if f, ok := reflect.TypeOf(notificationRequest{}).FieldByName(fe.StructField()); ok {
		if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" {
			return name
		}
	}
	return fe.Field()
}

// ParseAmount converts a gateway decimal amount ("150000.00") to integer minor units.
// Fractional amounts and amounts beyond int64 are rejected.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("amount %q has a fractional part", s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}
	if d.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("amount %q is out of range", s)
	}
	return d.IntPart(), nil
}

// ParseGatewayTime accepts RFC3339 or the gateway's zone-less "2006-01-02 15:04:05" layout,
// which is read in loc (UTC when nil).
func ParseGatewayTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(gatewayTimeLayout, s, loc)
}

// scalarString accepts a JSON string or number and returns its text form.
func scalarString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return "", fmt.Errorf("expected string or number")
	}
	return num.String(), nil
}
