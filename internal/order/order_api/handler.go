package order_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ticketmarket/internal/auth"
	"ticketmarket/internal/logger"
	"ticketmarket/internal/order"
	"ticketmarket/internal/store"
	"ticketmarket/internal/utils"
)

type Handler struct {
	OrderService *order.OrderService
	Logger       *logger.Logger
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/orders", h.CreateOrder)
	r.Get("/api/orders", h.ListOrders)
	r.Get("/api/orders/{orderId}", h.GetOrder)
	r.Delete("/api/orders/{orderId}", h.DeleteOrder)
	r.Get("/api/orders/{orderId}/pass", h.GetPass)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TicketID string `json:"ticket_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TicketID == "" {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "ticket_id is required"))
		return
	}

	created, err := h.OrderService.CreateOrder(r.Context(), auth.UserID(r.Context()), req.TicketID)
	if err != nil {
		h.writeError(w, "CreateOrder", err)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("CreateOrder: order %s for ticket %s", created.ID, req.TicketID))
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.OrderService.ListOrders(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "ListOrders", err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	found, err := h.OrderService.GetOrder(r.Context(), chi.URLParam(r, "orderId"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "GetOrder", err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if err := h.OrderService.CancelOrder(r.Context(), orderID, auth.UserID(r.Context())); err != nil {
		h.writeError(w, "DeleteOrder", err)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("DeleteOrder: order %s cancelled", orderID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetPass(w http.ResponseWriter, r *http.Request) {
	png, err := h.OrderService.GetPass(r.Context(), chi.URLParam(r, "orderId"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "GetPass", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("not found", err.Error()))
	case errors.Is(err, order.ErrNotOwner):
		writeJSON(w, http.StatusForbidden, utils.ErrorResponse("forbidden", err.Error()))
	case errors.Is(err, order.ErrTicketReserved),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrOrderCancelled),
		errors.Is(err, order.ErrNoPass):
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("cannot apply change", err.Error()))
	default:
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("internal error", err.Error()))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
