package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/service"
)

type createPaymentReq struct {
	Order    int64           `json:"order" binding:"required,gt=0"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" binding:"omitempty,len=3"`
}

type processPaymentReq struct {
	Success       *bool  `json:"success" binding:"required"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

type refundReq struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
}

type webhookReq struct {
	PaymentID     int64  `json:"payment_id" binding:"required,gt=0"`
	Status        string `json:"status" binding:"required,oneof=succeeded failed"`
	TransactionID string `json:"transaction_id"`
	FailureReason string `json:"failure_reason"`
}

// @Summary Create payment for an order
// @Tags payments
// @Accept json
// @Produce json
// @Param input body createPaymentReq true "Payment"
// @Success 201 {object} domain.Payment
// @Failure 400 {object} errorResponse
// @Router /payments [post]
func (s *Server) createPayment(c *gin.Context) {
	var req createPaymentReq
	if !bindJSON(c, &req) {
		return
	}
	p, err := s.payments.Create(c.Request.Context(), callerIdentity(c), req.Order, req.Amount, req.Currency)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// @Summary Get payment
// @Tags payments
// @Produce json
// @Param id path int true "Payment ID"
// @Success 200 {object} domain.Payment
// @Failure 404 {object} errorResponse
// @Router /payments/{id} [get]
func (s *Server) getPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := s.payments.Get(c.Request.Context(), callerIdentity(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Payment audit log
// @Tags payments
// @Produce json
// @Param id path int true "Payment ID"
// @Success 200 {array} domain.PaymentTransaction
// @Failure 404 {object} errorResponse
// @Router /payments/{id}/transactions [get]
func (s *Server) paymentTransactions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	txs, err := s.payments.Transactions(c.Request.Context(), callerIdentity(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}

// @Summary Process payment
// @Tags payments
// @Accept json
// @Produce json
// @Param id path int true "Payment ID"
// @Param input body processPaymentReq true "Outcome"
// @Success 200 {object} map[string]any
// @Failure 400 {object} errorResponse
// @Router /payments/{id}/process [post]
func (s *Server) processPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req processPaymentReq
	if !bindJSON(c, &req) {
		return
	}
	p, err := s.payments.Process(c.Request.Context(), callerIdentity(c), id, service.ProcessRequest{
		Success:       *req.Success,
		TransactionID: req.TransactionID,
		Reason:        req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	msg := "Payment processed successfully"
	if p.Status == domain.PaymentStatusFailed {
		msg = "Payment failed"
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "payment": p})
}

// @Summary Refund payment (staff)
// @Tags payments
// @Accept json
// @Produce json
// @Param id path int true "Payment ID"
// @Param input body refundReq false "Refund"
// @Success 200 {object} map[string]any
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Router /payments/{id}/refund [post]
func (s *Server) refundPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req refundReq
	// empty body refunds the remaining amount
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(c, bindingError(err))
			return
		}
	}
	p, refunded, err := s.payments.Refund(c.Request.Context(), callerIdentity(c), id, req.Amount, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "Refund processed successfully",
		"refund_amount": refunded.StringFixed(2),
		"payment":       p,
	})
}

// @Summary Payment provider webhook
// @Tags payments
// @Accept json
// @Produce json
// @Param input body webhookReq true "Notification"
// @Success 200 {object} map[string]string
// @Failure 404 {object} errorResponse
// @Router /payments/webhook [post]
func (s *Server) paymentWebhook(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		writeError(c, domain.Validationf("could not read body"))
		return
	}
	var req webhookReq
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(c, domain.Validationf("invalid json: %v", err))
		return
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		writeError(c, bindingError(err))
		return
	}
	_, err = s.payments.Webhook(c.Request.Context(), service.WebhookNotification{
		PaymentID:     req.PaymentID,
		Status:        req.Status,
		TransactionID: req.TransactionID,
		FailureReason: req.FailureReason,
		Raw:           raw,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "webhook processed"})
}

// @Summary Payment statistics (staff)
// @Tags payments
// @Produce json
// @Success 200 {object} domain.PaymentStats
// @Failure 403 {object} errorResponse
// @Router /payments/stats [get]
func (s *Server) paymentStats(c *gin.Context) {
	st, err := s.payments.Stats(c.Request.Context(), callerIdentity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
