package ticket_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ticketmarket/internal/auth"
	"ticketmarket/internal/logger"
	"ticketmarket/internal/store"
	"ticketmarket/internal/tickets"
	"ticketmarket/internal/utils"
)

type Handler struct {
	TicketService *tickets.TicketService
	Logger        *logger.Logger
}

type ticketRequest struct {
	Title string  `json:"title"`
	Price float64 `json:"price"`
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/tickets", h.CreateTicket)
	r.Get("/api/tickets", h.ListTickets)
	r.Get("/api/tickets/{ticketId}", h.GetTicket)
	r.Put("/api/tickets/{ticketId}", h.UpdateTicket)
}

func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var req ticketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}

	ticket, err := h.TicketService.CreateTicket(r.Context(), auth.UserID(r.Context()), req.Title, req.Price)
	if err != nil {
		h.writeError(w, "CreateTicket", err)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("CreateTicket: listed ticket %s", ticket.ID))
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	list, err := h.TicketService.ListTickets(r.Context())
	if err != nil {
		h.writeError(w, "ListTickets", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.TicketService.GetTicket(r.Context(), chi.URLParam(r, "ticketId"))
	if err != nil {
		h.writeError(w, "GetTicket", err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) UpdateTicket(w http.ResponseWriter, r *http.Request) {
	var req ticketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", err.Error()))
		return
	}

	ticket, err := h.TicketService.UpdateTicket(r.Context(),
		chi.URLParam(r, "ticketId"), auth.UserID(r.Context()), req.Title, req.Price)
	if err != nil {
		h.writeError(w, "UpdateTicket", err)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("ticket not found", err.Error()))
	case errors.Is(err, tickets.ErrNotOwner):
		writeJSON(w, http.StatusForbidden, utils.ErrorResponse("forbidden", err.Error()))
	case errors.Is(err, tickets.ErrValidation), errors.Is(err, tickets.ErrTicketReserved):
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
