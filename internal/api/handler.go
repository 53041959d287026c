package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"marketplace/internal/gateway"
	"marketplace/internal/models"
	"marketplace/internal/service"
	"marketplace/internal/store"
	"marketplace/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Handler contains HTTP handlers
type Handler struct {
	payments    *service.PaymentService
	wallet      *service.WalletProcessor
	withdrawals *service.WithdrawalService
	issuer      *service.EntitlementIssuer
}

// NewHandler creates a new HTTP handler
func NewHandler(
	payments *service.PaymentService,
	wallet *service.WalletProcessor,
	withdrawals *service.WithdrawalService,
	issuer *service.EntitlementIssuer,
) *Handler {
	return &Handler{
		payments:    payments,
		wallet:      wallet,
		withdrawals: withdrawals,
		issuer:      issuer,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhook/payment", h.paymentWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/payments/invoice", h.createInvoice)
		v1.GET("/payments/status/:invoiceId", h.paymentStatus)
		v1.POST("/payments/wallet", h.walletPurchase)
		v1.POST("/withdrawals", h.createWithdrawal)
		v1.POST("/withdrawals/:id/approve", h.approveWithdrawal)
		v1.POST("/withdrawals/:id/reject", h.rejectWithdrawal)
		v1.POST("/withdrawals/:id/complete", h.completeWithdrawal)
		v1.GET("/withdrawals", h.listWithdrawals)
		v1.GET("/downloads/:token", h.redeemDownload)
		v1.GET("/orders", h.listOrders)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// webhookPayload is the gateway callback body
type webhookPayload struct {
	ObjectType    string `json:"object_type" binding:"required"`
	ObjectID      string `json:"object_id" binding:"required"`
	PaymentStatus string `json:"payment_status" binding:"required"`
}

// paymentWebhook handles asynchronous gateway callbacks. 200 acknowledges
// processing, including idempotent no-ops and lost claim races; any non-2xx
// makes the gateway redeliver.
func (h *Handler) paymentWebhook(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook body", "details": err.Error()})
		return
	}

	util.WebhooksReceivedTotal.WithLabelValues(payload.PaymentStatus).Inc()

	if payload.ObjectType != "INVOICE" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	res, err := h.payments.Reconcile(c.Request.Context(), payload.ObjectID, payload.PaymentStatus)
	if err != nil {
		// A webhook can outrun the order insert; non-2xx makes the
		// gateway retry after it lands.
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown invoice"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "processing failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": res.Order.Status})
}

// createInvoice handles pending order + gateway invoice creation
func (h *Handler) createInvoice(c *gin.Context) {
	var req service.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	res, err := h.payments.CreateInvoice(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

// paymentStatus triggers reconciliation with a fresh gateway status
func (h *Handler) paymentStatus(c *gin.Context) {
	invoiceID := c.Param("invoiceId")

	res, status, err := h.payments.CheckPayment(c.Request.Context(), invoiceID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":          res.Order,
		"payment_status": status,
		"token":          res.Token,
	})
}

type walletPurchaseRequest struct {
	BuyerID   int64           `json:"buyer_id" binding:"required"`
	ProductID int64           `json:"product_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
}

// walletPurchase handles direct wallet-debit purchases
func (h *Handler) walletPurchase(c *gin.Context) {
	var req walletPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	res, err := h.wallet.PayWithWallet(c.Request.Context(), req.BuyerID, req.ProductID, req.Amount)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

type createWithdrawalRequest struct {
	AuthorID int64           `json:"author_id" binding:"required"`
	Amount   decimal.Decimal `json:"amount" binding:"required"`
}

// createWithdrawal files an author cash-out request
func (h *Handler) createWithdrawal(c *gin.Context) {
	var req createWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	res, err := h.withdrawals.Create(c.Request.Context(), req.AuthorID, req.Amount)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

func (h *Handler) approveWithdrawal(c *gin.Context) {
	h.withdrawalAction(c, h.withdrawals.Approve)
}

func (h *Handler) rejectWithdrawal(c *gin.Context) {
	h.withdrawalAction(c, h.withdrawals.Reject)
}

func (h *Handler) completeWithdrawal(c *gin.Context) {
	h.withdrawalAction(c, h.withdrawals.Complete)
}

func (h *Handler) withdrawalAction(c *gin.Context, action func(context.Context, int64) (*models.WithdrawalRequest, error)) {
	requestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid withdrawal id"})
		return
	}

	req, err := action(c.Request.Context(), requestID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

// listWithdrawals returns an author's withdrawal requests
func (h *Handler) listWithdrawals(c *gin.Context) {
	authorID, err := strconv.ParseInt(c.Query("author_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid author_id"})
		return
	}

	reqs, err := h.withdrawals.List(c.Request.Context(), authorID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"withdrawals": reqs})
}

// redeemDownload consumes a download token and returns the file locator
func (h *Handler) redeemDownload(c *gin.Context) {
	token, product, err := h.issuer.Redeem(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"file_url": product.FileURL,
		"order_id": token.OrderID,
	})
}

// listOrders returns a buyer's orders
func (h *Handler) listOrders(c *gin.Context) {
	buyerID, err := strconv.ParseInt(c.Query("buyer_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid buyer_id"})
		return
	}

	orders, err := h.payments.Orders(c.Request.Context(), buyerID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// respondError maps domain errors to HTTP status codes
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrAmountMismatch),
		errors.Is(err, service.ErrInvalidTarget),
		errors.Is(err, store.ErrInsufficientBalance):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, store.ErrTokenExpired), errors.Is(err, store.ErrTokenUsed):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})

	case errors.Is(err, store.ErrWithdrawalNotPending), errors.Is(err, store.ErrWithdrawalNotApproved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, gateway.ErrUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
