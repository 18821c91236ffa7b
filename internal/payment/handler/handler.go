package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"ticketmarket/internal/auth"
	"ticketmarket/internal/logger"
	"ticketmarket/internal/payment"
	"ticketmarket/internal/store"
	"ticketmarket/internal/utils"
)

type Handler struct {
	Service *payment.PaymentService
	Log     *logger.Logger
}

func (h *Handler) Routes(r gin.IRoutes) {
	r.POST("/api/payments", h.CreatePayment)
	r.GET("/api/payments/:paymentId", h.GetPayment)
}

type createPaymentRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	Token   string `json:"token" binding:"required"`
}

func (h *Handler) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("invalid request body", "order_id and token are required"))
		return
	}

	created, err := h.Service.CreatePayment(c.Request.Context(), auth.GinUserID(c), req.OrderID, req.Token)
	if err != nil {
		h.writeError(c, "CreatePayment", err)
		return
	}

	h.Log.Info("API", fmt.Sprintf("CreatePayment: %s for order %s", created.ID, created.OrderID))
	c.JSON(http.StatusCreated, utils.SuccessResponse("payment processed", created))
}

func (h *Handler) GetPayment(c *gin.Context) {
	found, err := h.Service.GetPayment(c.Request.Context(), c.Param("paymentId"), auth.GinUserID(c))
	if err != nil {
		h.writeError(c, "GetPayment", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("payment", found))
}

func (h *Handler) writeError(c *gin.Context, op string, err error) {
	h.Log.Error("API", fmt.Sprintf("%s: %v", op, err))

	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, utils.ErrorResponse("not found", err.Error()))
	case errors.Is(err, payment.ErrNotOwner):
		c.JSON(http.StatusForbidden, utils.ErrorResponse("forbidden", err.Error()))
	case errors.Is(err, payment.ErrOrderCancelled), errors.Is(err, payment.ErrAlreadyPaid):
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("cannot apply change", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("internal error", err.Error()))
	}
}
