package service

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/infrastructure/shipping"
	"order-fulfillment/internal/logger"
	"order-fulfillment/internal/repo"
)

type TimelineEntry struct {
	Kind       string             `json:"kind"`
	Label      string             `json:"label"`
	Source     domain.EventSource `json:"source"`
	OccurredAt *time.Time         `json:"occurred_at"`
	Note       string             `json:"note,omitempty"`
	Location   *domain.Location   `json:"location,omitempty"`
}

type Stage struct {
	Status  domain.OrderStatus `json:"status"`
	Label   string             `json:"label"`
	Reached bool               `json:"reached"`
	Current bool               `json:"current"`
	At      *time.Time         `json:"at,omitempty"`
}

type Timeline struct {
	OrderID    int64              `json:"order_id"`
	Status     domain.OrderStatus `json:"status"`
	Stages     []Stage            `json:"stages"`
	Events     []TimelineEntry    `json:"events"`
	LiveEvents bool               `json:"live_events"`
}

// BuildTimeline merges stored status events with live carrier events into one ordered view.
// Live events already stored are dropped; entries without a timestamp sort last, ties keep input order.
func BuildTimeline(order *domain.Order, stored []domain.StatusEvent, live []domain.TrackingEvent) Timeline {
	seen := make(map[string]bool, len(stored))
	events := make([]domain.StatusEvent, 0, len(stored)+len(live))
	for _, e := range stored {
		if e.ExternalKey != "" {
			seen[e.ExternalKey] = true
		}
		events = append(events, e)
	}
	for _, t := range live {
		e := t.StatusEvent(order.ID)
		if seen[e.ExternalKey] {
			continue
		}
		seen[e.ExternalKey] = true
		events = append(events, e)
	}

	slices.SortStableFunc(events, func(a, b domain.StatusEvent) int {
		switch {
		case a.OccurredAt == nil && b.OccurredAt == nil:
			return 0
		case a.OccurredAt == nil:
			return 1
		case b.OccurredAt == nil:
			return -1
		}
		return a.OccurredAt.Compare(*b.OccurredAt)
	})

	tl := Timeline{
		OrderID: order.ID,
		Status:  order.Status,
		Stages:  buildStages(order.Status, events),
		Events:  make([]TimelineEntry, 0, len(events)),
	}
	for _, e := range events {
		tl.Events = append(tl.Events, TimelineEntry{
			Kind:       e.Kind,
			Label:      e.Label,
			Source:     e.Source,
			OccurredAt: e.OccurredAt,
			Note:       e.Note,
			Location:   e.Location,
		})
	}
	return tl
}

func buildStages(current domain.OrderStatus, events []domain.StatusEvent) []Stage {
	reachedAt := make(map[domain.OrderStatus]*time.Time)
	reached := make(map[domain.OrderStatus]bool)
	for _, e := range events {
		if e.Source != domain.SourceInternal {
			continue
		}
		status := domain.OrderStatus(e.Kind)
		if !reached[status] {
			reached[status] = true
			reachedAt[status] = e.OccurredAt
		}
	}
	reached[current] = true

	statuses := domain.Lifecycle
	if current == domain.OrderCancelled {
		statuses = append(slices.Clone(domain.Lifecycle), domain.OrderCancelled)
	}

	stages := make([]Stage, 0, len(statuses))
	for _, status := range statuses {
		stages = append(stages, Stage{
			Status:  status,
			Label:   status.Label(),
			Reached: reached[status],
			Current: status == current,
			At:      reachedAt[status],
		})
	}
	return stages
}

type TimelineBuilder interface {
	// Timeline assembles the order's timeline, including carrier events not yet folded in. It never writes.
	Timeline(ctx context.Context, orderID int64) (*Timeline, error)
}

type timelineBuilder struct {
	orderRepo repo.OrderRepo
	provider  shipping.Provider
	timeout   time.Duration
	log       *zap.Logger
}

func NewTimelineBuilder(orderRepo repo.OrderRepo, provider shipping.Provider, timeout time.Duration, log *zap.Logger) TimelineBuilder {
	return &timelineBuilder{
		orderRepo: orderRepo,
		provider:  provider,
		timeout:   timeout,
		log:       log.Named("timeline"),
	}
}

func (b *timelineBuilder) Timeline(ctx context.Context, orderID int64) (*Timeline, error) {
	order, err := b.orderRepo.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderNotFound(orderID)
	}
	stored, err := b.orderRepo.FindStatusEvents(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var live []domain.TrackingEvent
	liveOK := false
	if ref := domain.Deref(order.TrackingRef); ref != "" {
		pctx, cancel := context.WithTimeout(ctx, b.timeout)
		live, err = b.provider.GetTracking(pctx, ref)
		cancel()
		if err != nil {
			logger.FromContext(ctx, b.log).Warn("live tracking unavailable", zap.Int64("order_id", orderID), zap.Error(err))
			live = nil
		} else {
			liveOK = true
		}
	}

	tl := BuildTimeline(order, stored, live)
	tl.LiveEvents = liveOK
	return &tl, nil
}
