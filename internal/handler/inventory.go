package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/quickserve-pos/api/internal/database"
	"github.com/quickserve-pos/api/internal/service"
)

// InventoryServicer defines the ledger service surface for staff edits.
type InventoryServicer interface {
	Update(ctx context.Context, locationID, itemID uuid.UUID, upd service.InventoryUpdate) (*database.InventoryRecord, error)
	List(ctx context.Context, locationID uuid.UUID) ([]database.InventoryView, error)
}

type InventoryHandler struct {
	svc InventoryServicer
}

func NewInventoryHandler(svc InventoryServicer) *InventoryHandler {
	return &InventoryHandler{svc: svc}
}

type updateInventoryRequest struct {
	Price    *string `json:"price"`
	Quantity *int32  `json:"quantity"`
	Enabled  *bool   `json:"enabled"`
}

type inventoryRecordResponse struct {
	ItemID   uuid.UUID `json:"item_id"`
	Quantity int32     `json:"quantity"`
	Price    *string   `json:"price"`
	Enabled  bool      `json:"enabled"`
}

type inventoryViewResponse struct {
	ItemID    uuid.UUID `json:"item_id"`
	Name      string    `json:"name"`
	Quantity  int32     `json:"quantity"`
	Price     string    `json:"price"` // effective: override or catalog default
	BasePrice string    `json:"base_price"`
	Enabled   bool      `json:"enabled"`
}

// Update handles PATCH /locations/{lid}/inventory/{itemID}. Only the
// provided fields are touched; the resulting delta is pushed to the
// location's room.
func (h *InventoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	locationID, err := uuid.Parse(chi.URLParam(r, "lid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid location ID")
		return
	}

	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item ID")
		return
	}

	var req updateInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.svc.Update(r.Context(), locationID, itemID, service.InventoryUpdate{
		Price:    req.Price,
		Quantity: req.Quantity,
		Enabled:  req.Enabled,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoFieldsToUpdate),
			errors.Is(err, service.ErrNegativeQuantity),
			errors.Is(err, service.ErrNegativePrice):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, pgx.ErrNoRows):
			writeError(w, http.StatusNotFound, "item not found")
		default:
			logrus.WithError(err).Error("update inventory")
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	resp := inventoryRecordResponse{
		ItemID:   rec.ItemID,
		Quantity: rec.Quantity,
		Enabled:  rec.Enabled,
	}
	if rec.Price.Valid {
		s := numericString(rec.Price)
		resp.Price = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

// List handles GET /locations/{lid}/inventory.
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	locationID, err := uuid.Parse(chi.URLParam(r, "lid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid location ID")
		return
	}

	views, err := h.svc.List(r.Context(), locationID)
	if err != nil {
		logrus.WithError(err).Error("list inventory")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]inventoryViewResponse, len(views))
	for i, v := range views {
		base := numericString(v.BasePrice)
		effective := base
		if v.Price.Valid {
			effective = numericString(v.Price)
		}
		resp[i] = inventoryViewResponse{
			ItemID:    v.ItemID,
			Name:      v.Name,
			Quantity:  v.Quantity,
			Price:     effective,
			BasePrice: base,
			Enabled:   v.Enabled,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": resp})
}
