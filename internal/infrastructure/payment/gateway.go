package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"order-fulfillment/internal/domain"
)

var (
	ErrTransactionNotFound = errors.New("gateway: transaction not found")
	ErrUnavailable         = errors.New("gateway: unavailable")
)

// PaymentGateway is the pull side of the payment processor.
type PaymentGateway interface {
	// CheckStatus fetches the current state of a transaction.
	CheckStatus(ctx context.Context, transactionID string) (domain.PaymentNotification, error)
}

type httpGateway struct {
	baseURL   string
	serverKey string
	loc       *time.Location
	client    *http.Client
}

// NewHTTPGateway builds a client for the gateway's status API
// (GET {base}/v2/{transaction_id}/status, basic auth with the server key).
// Zone-less transaction times are read in loc.
func NewHTTPGateway(baseURL, serverKey string, timeout time.Duration, loc *time.Location) PaymentGateway {
	return &httpGateway{
		baseURL:   baseURL,
		serverKey: serverKey,
		loc:       loc,
		client:    &http.Client{Timeout: timeout},
	}
}

func (g *httpGateway) CheckStatus(ctx context.Context, transactionID string) (domain.PaymentNotification, error) {
	endpoint := fmt.Sprintf("%s/v2/%s/status", g.baseURL, url.PathEscape(transactionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.PaymentNotification{}, err
	}
	req.SetBasicAuth(g.serverKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.PaymentNotification{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.PaymentNotification{}, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.PaymentNotification{}, ErrTransactionNotFound
	case resp.StatusCode >= 500:
		return domain.PaymentNotification{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return domain.PaymentNotification{}, fmt.Errorf("gateway: unexpected status %d", resp.StatusCode)
	}

	n, err := domain.ParsePaymentNotification(body, g.loc)
	if err != nil {
		return domain.PaymentNotification{}, err
	}
	// the status API echoes 404 inside a 200 body for unknown transactions
	if n.StatusCode == "404" {
		return domain.PaymentNotification{}, ErrTransactionNotFound
	}
	return n, nil
}
