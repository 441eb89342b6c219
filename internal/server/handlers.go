package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"order-fulfillment/internal/domain"
	"order-fulfillment/internal/service"
)

// HealthChecker reports the health of a backing store.
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

type Handler struct {
	payments    service.PaymentReconciler
	provisioner service.ShipmentProvisioner
	tracker     service.TrackingSynchronizer
	timeline    service.TimelineBuilder
	health      HealthChecker
	gatewayLoc  *time.Location
}

// NewHandler wires the endpoints. gatewayLoc is the zone of the gateway's local webhook timestamps.
func NewHandler(
	payments service.PaymentReconciler,
	provisioner service.ShipmentProvisioner,
	tracker service.TrackingSynchronizer,
	timeline service.TimelineBuilder,
	health HealthChecker,
	gatewayLoc *time.Location,
) *Handler {
	return &Handler{
		payments:    payments,
		provisioner: provisioner,
		tracker:     tracker,
		timeline:    timeline,
		health:      health,
		gatewayLoc:  gatewayLoc,
	}
}

func orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, service.NewValidation("invalid_order_id", "order id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, service.NewValidation(service.CodeMalformedNotification, "unable to read request body"))
		return
	}
	n, err := domain.ParsePaymentNotification(body, h.gatewayLoc)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedNotification) {
			writeError(c, service.NewValidation(service.CodeMalformedNotification, err.Error()))
			return
		}
		writeError(c, err)
		return
	}

	out, err := h.payments.HandleNotification(c.Request.Context(), n)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) PaymentStatus(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	res, err := h.payments.PollStatus(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ProvisionShipment(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	res, err := h.provisioner.ProvisionShipment(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

func (h *Handler) Tracking(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	view, err := h.tracker.RefreshTracking(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) Timeline(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	tl, err := h.timeline.Timeline(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tl)
}

type completeResponse struct {
	OrderID   int64              `json:"order_id"`
	Status    domain.OrderStatus `json:"status"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (h *Handler) Complete(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	order, err := h.tracker.ConfirmDelivery(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, completeResponse{OrderID: order.ID, Status: order.Status, UpdatedAt: order.UpdatedAt})
}

func (h *Handler) Health(c *gin.Context) {
	stats := h.health.Health(c.Request.Context())
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}
