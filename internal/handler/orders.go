package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/quickserve-pos/api/internal/database"
	"github.com/quickserve-pos/api/internal/middleware"
	"github.com/quickserve-pos/api/internal/service"
)

// OrderPlacer defines the placement service surface the handlers need.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) (*database.Order, error)
}

// FulfillmentAdvancer defines the fulfillment service surface.
type FulfillmentAdvancer interface {
	Advance(ctx context.Context, orderID, locationID uuid.UUID) (*database.Order, error)
}

// OrderReader defines the snapshot queries feeding kitchen and display.
type OrderReader interface {
	ListActiveOrders(ctx context.Context, locationID uuid.UUID) ([]database.Order, error)
	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
}

type OrderHandler struct {
	placer      OrderPlacer
	fulfillment FulfillmentAdvancer
	store       OrderReader
}

func NewOrderHandler(placer OrderPlacer, fulfillment FulfillmentAdvancer, store OrderReader) *OrderHandler {
	return &OrderHandler{placer: placer, fulfillment: fulfillment, store: store}
}

// RegisterTerminalRoutes mounts the customer-facing order endpoint.
func (h *OrderHandler) RegisterTerminalRoutes(r chi.Router) {
	r.Post("/", h.Create)
}

// RegisterKitchenRoutes mounts the staff-facing fulfillment endpoints.
func (h *OrderHandler) RegisterKitchenRoutes(r chi.Router) {
	r.Get("/", h.ListActive)
	r.Patch("/{id}/status", h.AdvanceStatus)
}

// RegisterDisplayRoutes mounts the customer-facing display snapshot.
func (h *OrderHandler) RegisterDisplayRoutes(r chi.Router) {
	r.Get("/", h.ListActive)
}

// --- Request types ---

type createOrderRequest struct {
	Items          []createOrderItemRequest `json:"items"`
	TotalAmount    string                   `json:"total_amount"`
	PaymentDetails paymentDetailsRequest    `json:"payment_details"`
}

type createOrderItemRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int32  `json:"quantity"`
	Price    string `json:"price"`
}

type paymentDetailsRequest struct {
	Name  string `json:"name"`
	UpiID string `json:"upi_id"`
}

// --- Handlers ---

// Create handles POST /locations/{lid}/orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	locationID, err := uuid.Parse(chi.URLParam(r, "lid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid location ID")
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	items := make([]service.PlaceOrderItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = service.PlaceOrderItem{
			ItemID:   it.ID,
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.Price,
		}
	}

	order, err := h.placer.PlaceOrder(r.Context(), service.PlaceOrderRequest{
		TenantID:   claims.TenantID,
		LocationID: locationID,
		Items:      items,
		Total:      req.TotalAmount,
		Payment: service.PaymentDetails{
			Name:  req.PaymentDetails.Name,
			UpiID: req.PaymentDetails.UpiID,
		},
	})
	if err != nil {
		var insufficient *service.InsufficientStockError
		var unavailable *service.ItemUnavailableError
		switch {
		case errors.As(err, &insufficient):
			writeError(w, http.StatusBadRequest, insufficient.Error())
		case errors.As(err, &unavailable):
			writeError(w, http.StatusBadRequest, unavailable.Error())
		case errors.Is(err, service.ErrPaymentDeclined):
			// Stock is already restored; the failed order is returned so
			// the terminal can show the outcome.
			writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
				"error": "payment failed",
				"order": service.ToOrderView(*order),
			})
		case isPlacementValidationError(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			logrus.WithError(err).Error("place order")
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, service.ToOrderView(*order))
}

// ListActive handles GET kitchen/display order snapshots: Completed
// orders not yet served, oldest first.
func (h *OrderHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	locationID, err := uuid.Parse(chi.URLParam(r, "lid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid location ID")
		return
	}

	orders, err := h.store.ListActiveOrders(r.Context(), locationID)
	if err != nil {
		logrus.WithError(err).Error("list active orders")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	views := make([]service.OrderView, len(orders))
	for i, o := range orders {
		views[i] = service.ToOrderView(o)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": views})
}

// AdvanceStatus handles PATCH /locations/{lid}/kitchen/orders/{id}/status.
// No body: the next step is determined by the fixed sequence.
func (h *OrderHandler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	locationID, err := uuid.Parse(chi.URLParam(r, "lid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid location ID")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	order, err := h.fulfillment.Advance(r.Context(), orderID, locationID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrAlreadyFinal):
			writeError(w, http.StatusBadRequest, "order is already served")
		case errors.Is(err, service.ErrStatusConflict):
			writeError(w, http.StatusConflict, err.Error())
		default:
			logrus.WithError(err).Error("advance fulfillment")
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, service.ToOrderView(*order))
}

// --- Helpers ---

func isPlacementValidationError(err error) bool {
	return errors.Is(err, service.ErrEmptyItems) ||
		errors.Is(err, service.ErrInvalidItemID) ||
		errors.Is(err, service.ErrInvalidQuantity) ||
		errors.Is(err, service.ErrInvalidPrice) ||
		errors.Is(err, service.ErrInvalidTotal) ||
		errors.Is(err, service.ErrMissingPaymentName) ||
		errors.Is(err, service.ErrMissingPaymentUpi)
}
