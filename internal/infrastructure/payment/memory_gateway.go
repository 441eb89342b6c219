package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"order-fulfillment/internal/domain"
)

// MemoryGateway is an in-process gateway for the simulator and tests.
type MemoryGateway struct {
	mu           sync.RWMutex
	transactions map[string]domain.PaymentNotification
	failure      error
	latency      time.Duration
	checks       int
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{transactions: make(map[string]domain.PaymentNotification)}
}

// CreateTransaction opens a pending transaction for amount and returns its id.
func (g *MemoryGateway) CreateTransaction(orderRef string, amount int64) string {
	id := uuid.NewString()
	now := time.Now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.transactions[id] = domain.PaymentNotification{
		TransactionID:     id,
		OrderRef:          orderRef,
		TransactionStatus: domain.TxnPending,
		GrossAmount:       amount,
		HasGrossAmount:    true,
		StatusCode:        "201",
		TransactionTime:   &now,
	}
	return id
}

// SetStatus moves a transaction to status/fraud, creating it when unknown.
func (g *MemoryGateway) SetStatus(transactionID, status, fraud string) domain.PaymentNotification {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.transactions[transactionID]
	n.TransactionID = transactionID
	n.TransactionStatus = status
	n.FraudStatus = fraud
	n.StatusCode = "200"
	g.transactions[transactionID] = n
	return n
}

// SetAmount overrides the gross amount reported for a transaction.
func (g *MemoryGateway) SetAmount(transactionID string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.transactions[transactionID]
	n.GrossAmount = amount
	n.HasGrossAmount = true
	g.transactions[transactionID] = n
}

// FailWith makes every CheckStatus call return err until cleared with nil.
func (g *MemoryGateway) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failure = err
}

// SetLatency delays every CheckStatus call, honouring ctx cancellation.
func (g *MemoryGateway) SetLatency(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latency = d
}

func (g *MemoryGateway) Checks() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.checks
}

func (g *MemoryGateway) CheckStatus(ctx context.Context, transactionID string) (domain.PaymentNotification, error) {
	g.mu.Lock()
	g.checks++
	failure, latency := g.failure, g.latency
	g.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return domain.PaymentNotification{}, ctx.Err()
		}
	}
	if failure != nil {
		return domain.PaymentNotification{}, failure
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, exists := g.transactions[transactionID]; exists {
		return n, nil
	}
	return domain.PaymentNotification{}, ErrTransactionNotFound
}
