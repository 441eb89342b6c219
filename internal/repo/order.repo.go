package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-fulfillment/internal/domain"
)

// TransitionFields are written together with a status change.
type TransitionFields struct {
	PaymentStatus  string
	PaymentMethod  string
	ShippingStatus string
	Note           string
	At             time.Time
}

// ShipmentIdentifiers are the provider-side ids of a shipment. Empty values never overwrite stored ones.
type ShipmentIdentifiers struct {
	ShipmentID     string
	TrackingRef    string
	WaybillNumber  string
	ShippingStatus string
}

// StuckFilter selects orders that have sat in one of Statuses for longer than OlderThan.
// Results come oldest update first, or least recently tracked first with ByTrackingRefresh.
type StuckFilter struct {
	Statuses          []domain.OrderStatus
	OlderThan         time.Duration
	RequireGatewayTxn bool
	WithoutShipment   bool
	ByTrackingRefresh bool
	Limit             int
}

type OrderRepo interface {
	FindById(ctx context.Context, id int64) (*domain.Order, error)
	FindByGatewayTxnId(ctx context.Context, txnID string) (*domain.Order, error)
	FindItems(ctx context.Context, orderID int64) ([]domain.OrderItem, error)
	FindStatusEvents(ctx context.Context, orderID int64) ([]domain.StatusEvent, error)
	FindStuckOrders(ctx context.Context, filter StuckFilter) ([]domain.Order, error)

	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order, items []domain.OrderItem) error
	AttachGatewayTransaction(ctx context.Context, tx *sql.Tx, orderID int64, txnID string) (bool, error)

	// ApplyTransition moves the order to next only if its current status is one of expected
	// and current -> next is an edge of the state machine, and records the matching StatusEvent
	// in the same transaction. It reports whether the update took effect; false means another
	// writer already moved the order or the edge is not legal.
	ApplyTransition(ctx context.Context, tx *sql.Tx, orderID int64, expected []domain.OrderStatus, next domain.OrderStatus, fields TransitionFields) (bool, error)
	// AppendStatusEvent inserts an event; events with an ExternalKey already stored are skipped.
	AppendStatusEvent(ctx context.Context, tx *sql.Tx, event *domain.StatusEvent) (bool, error)
	SetShipmentIdentifiers(ctx context.Context, tx *sql.Tx, orderID int64, ids ShipmentIdentifiers) error
	// MarkTrackingRefreshed stamps a tracking refresh attempt without touching updated_at.
	MarkTrackingRefreshed(ctx context.Context, orderID int64) error
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *orderRepo) conn(tx *sql.Tx) querier {
	if tx == nil {
		return r.db
	}
	return tx
}

// inTx runs fn inside tx, or inside a fresh transaction when tx is nil.
func (r *orderRepo) inTx(ctx context.Context, tx *sql.Tx, fn func(*sql.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	own, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer own.Rollback()

	if err := fn(own); err != nil {
		return err
	}
	return own.Commit()
}

const orderColumns = `id, user_id, gateway_txn_id, shipment_id, tracking_ref, waybill_number,
	subtotal, shipping_fee, total, status, payment_status, payment_method, shipping_status,
	shipping_address, courier_company, courier_service, courier_note, created_at, paid_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order   domain.Order
		address []byte
		paidAt  sql.NullTime
	)
	var txnID, shipmentID, trackingRef, waybill sql.NullString
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&txnID,
		&shipmentID,
		&trackingRef,
		&waybill,
		&order.Subtotal,
		&order.ShippingFee,
		&order.Total,
		&order.Status,
		&order.PaymentStatus,
		&order.PaymentMethod,
		&order.ShippingStatus,
		&address,
		&order.CourierCompany,
		&order.CourierService,
		&order.CourierNote,
		&order.CreatedAt,
		&paidAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.GatewayTxnID = nullString(txnID)
	order.ShipmentID = nullString(shipmentID)
	order.TrackingRef = nullString(trackingRef)
	order.WaybillNumber = nullString(waybill)
	if paidAt.Valid {
		order.PaidAt = &paidAt.Time
	}
	if len(address) > 0 {
		if err := json.Unmarshal(address, &order.Destination); err != nil {
			return nil, fmt.Errorf("decode shipping address: %w", err)
		}
	}
	return &order, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	return &v.String
}

func (r *orderRepo) FindById(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err // system error
	}
	return order, nil
}

func (r *orderRepo) FindByGatewayTxnId(ctx context.Context, txnID string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE gateway_txn_id = $1", txnID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) FindItems(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, title, unit_price, quantity, unit, unit_weight_kg
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Title,
			&item.UnitPrice,
			&item.Quantity,
			&item.Unit,
			&item.UnitWeightKg,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *orderRepo) FindStatusEvents(ctx context.Context, orderID int64) ([]domain.StatusEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, kind, label, source, occurred_at, note, location, external_key, created_at
		FROM order_status_events
		WHERE order_id = $1
		ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.StatusEvent
	for rows.Next() {
		var (
			event       domain.StatusEvent
			occurredAt  sql.NullTime
			location    []byte
			externalKey sql.NullString
		)
		if err := rows.Scan(
			&event.ID,
			&event.OrderID,
			&event.Kind,
			&event.Label,
			&event.Source,
			&occurredAt,
			&event.Note,
			&location,
			&externalKey,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		if occurredAt.Valid {
			event.OccurredAt = &occurredAt.Time
		}
		if len(location) > 0 {
			var loc domain.Location
			if err := json.Unmarshal(location, &loc); err != nil {
				return nil, fmt.Errorf("decode event location: %w", err)
			}
			event.Location = &loc
		}
		event.ExternalKey = externalKey.String
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *orderRepo) FindStuckOrders(ctx context.Context, filter StuckFilter) ([]domain.Order, error) {
	if len(filter.Statuses) == 0 {
		return nil, nil
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var conds strings.Builder
	conds.WriteString("status = ANY($1) AND updated_at < $2")
	if filter.RequireGatewayTxn {
		conds.WriteString(" AND gateway_txn_id IS NOT NULL")
	}
	if filter.WithoutShipment {
		conds.WriteString(" AND (shipment_id IS NULL OR shipment_id = '')")
	}

	orderBy := "updated_at"
	if filter.ByTrackingRefresh {
		orderBy = "tracking_refreshed_at NULLS FIRST, updated_at"
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE "+conds.String()+" ORDER BY "+orderBy+" LIMIT $3",
		statusStrings(filter.Statuses),
		time.Now().Add(-filter.OlderThan),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order, items []domain.OrderItem) error {
	if order.Status == "" {
		order.Status = domain.OrderNew
	}
	if order.Subtotal == 0 {
		for _, item := range items {
			order.Subtotal += item.DeclaredValue()
		}
	}
	order.Total = order.Subtotal + order.ShippingFee

	address, err := json.Marshal(order.Destination)
	if err != nil {
		return fmt.Errorf("encode shipping address: %w", err)
	}

	return r.inTx(ctx, tx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO orders (user_id, gateway_txn_id, subtotal, shipping_fee, total, status,
				shipping_address, courier_company, courier_service, courier_note)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at, updated_at`,
			order.UserID, order.GatewayTxnID, order.Subtotal, order.ShippingFee, order.Total, order.Status,
			address, order.CourierCompany, order.CourierService, order.CourierNote,
		).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
		if err != nil {
			return err
		}

		for i := range items {
			items[i].OrderID = order.ID
			if items[i].Unit == "" {
				items[i].Unit = "pcs"
			}
			err := tx.QueryRowContext(ctx, `
				INSERT INTO order_items (order_id, product_id, title, unit_price, quantity, unit, unit_weight_kg)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING id`,
				order.ID, items[i].ProductID, items[i].Title, items[i].UnitPrice, items[i].Quantity, items[i].Unit, items[i].UnitWeightKg,
			).Scan(&items[i].ID)
			if err != nil {
				return err
			}
		}

		_, err = insertEvent(ctx, tx, domain.TransitionEvent(order.ID, order.Status, order.CreatedAt, ""))
		return err
	})
}

func (r *orderRepo) AttachGatewayTransaction(ctx context.Context, tx *sql.Tx, orderID int64, txnID string) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx,
		"UPDATE orders SET gateway_txn_id = $2, updated_at = now() WHERE id = $1 AND gateway_txn_id IS NULL",
		orderID, txnID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *orderRepo) ApplyTransition(
	ctx context.Context,
	tx *sql.Tx,
	orderID int64,
	expected []domain.OrderStatus,
	next domain.OrderStatus,
	fields TransitionFields,
) (bool, error) {
	sources := make([]domain.OrderStatus, 0, len(expected))
	for _, s := range expected {
		if domain.CanTransition(s, next) {
			sources = append(sources, s)
		}
	}
	if len(sources) == 0 {
		return false, nil
	}
	at := fields.At
	if at.IsZero() {
		at = time.Now()
	}

	applied := false
	err := r.inTx(ctx, tx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2,
			    updated_at = $3,
			    paid_at = CASE WHEN $4 THEN COALESCE(paid_at, $3) ELSE paid_at END,
			    payment_status = COALESCE(NULLIF($5, ''), payment_status),
			    payment_method = COALESCE(NULLIF($6, ''), payment_method),
			    shipping_status = COALESCE(NULLIF($7, ''), shipping_status)
			WHERE id = $1 AND status = ANY($8)`,
			orderID,
			next,
			at,
			next == domain.OrderPaid,
			fields.PaymentStatus,
			fields.PaymentMethod,
			fields.ShippingStatus,
			statusStrings(sources),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		applied = true
		_, err = insertEvent(ctx, tx, domain.TransitionEvent(orderID, next, at, fields.Note))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("transition order %d to %s: %w", orderID, next, err)
	}
	return applied, nil
}

func (r *orderRepo) AppendStatusEvent(ctx context.Context, tx *sql.Tx, event *domain.StatusEvent) (bool, error) {
	stored, err := insertEvent(ctx, r.conn(tx), *event)
	if err != nil || stored == nil {
		return false, err
	}
	event.ID = stored.ID
	event.CreatedAt = stored.CreatedAt
	return true, nil
}

func insertEvent(ctx context.Context, q querier, event domain.StatusEvent) (*domain.StatusEvent, error) {
	var location any
	if event.Location != nil {
		raw, err := json.Marshal(event.Location)
		if err != nil {
			return nil, fmt.Errorf("encode event location: %w", err)
		}
		location = raw
	}
	if event.Source == "" {
		event.Source = domain.SourceInternal
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO order_status_events (order_id, kind, label, source, occurred_at, note, location, external_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id, external_key) WHERE external_key IS NOT NULL DO NOTHING
		RETURNING id, created_at`,
		event.OrderID, event.Kind, event.Label, event.Source, event.OccurredAt, event.Note, location,
		domain.Value(event.ExternalKey),
	).Scan(&event.ID, &event.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // duplicate external event
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *orderRepo) SetShipmentIdentifiers(ctx context.Context, tx *sql.Tx, orderID int64, ids ShipmentIdentifiers) error {
	_, err := r.conn(tx).ExecContext(ctx, `
		UPDATE orders
		SET shipment_id = COALESCE(NULLIF(shipment_id, ''), NULLIF($2, '')),
		    tracking_ref = COALESCE(NULLIF(tracking_ref, ''), NULLIF($3, '')),
		    waybill_number = COALESCE(NULLIF(waybill_number, ''), NULLIF($4, '')),
		    shipping_status = COALESCE(NULLIF($5, ''), shipping_status),
		    updated_at = now()
		WHERE id = $1`,
		orderID, ids.ShipmentID, ids.TrackingRef, ids.WaybillNumber, ids.ShippingStatus,
	)
	return err
}

func (r *orderRepo) MarkTrackingRefreshed(ctx context.Context, orderID int64) error {
	_, err := r.db.ExecContext(ctx, "UPDATE orders SET tracking_refreshed_at = now() WHERE id = $1", orderID)
	return err
}

func statusStrings(statuses []domain.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
