package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storefront/internal/domain"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	"storefront/internal/service"
)

// Заголовки идентификации вызывающего
const (
	HeaderUserID     = "X-User-ID"
	HeaderSessionKey = "X-Session-Key"
	HeaderUserRole   = "X-User-Role"
	HeaderRequestID  = "X-Request-ID"

	roleStaff   = "staff"
	identityKey = "identity"
)

// Options зависимости HTTP-слоя помимо сервисов
type Options struct {
	Log            *slog.Logger
	Metrics        *metrics.Metrics
	RequestTimeout time.Duration
}

type Server struct {
	engine   *gin.Engine
	log      *slog.Logger
	metrics  *metrics.Metrics
	products *service.ProductService
	carts    *service.CartService
	orders   *service.OrderService
	payments *service.PaymentService
}

func NewServer(svc *service.Services, opts Options) *Server {
	if opts.Log == nil {
		opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := gin.New()
	r.Use(requestID(), logging.Middleware(opts.Log), gin.Recovery())
	if opts.Metrics != nil {
		r.Use(observe(opts.Metrics))
	}
	if opts.RequestTimeout > 0 {
		r.Use(timeout(opts.RequestTimeout))
	}
	s := &Server{
		engine:   r,
		log:      opts.Log,
		metrics:  opts.Metrics,
		products: svc.Products,
		carts:    svc.Carts,
		orders:   svc.Orders,
		payments: svc.Payments,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	s.engine.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.engine.Group("/api/v1", identity())
	{
		products := v1.Group("/products")
		products.POST("", s.createProduct)
		products.GET(":id", s.getProduct)
		products.PUT(":id", s.updateProduct)
		products.GET("", s.listProducts)

		carts := v1.Group("/carts", ensureSession())
		carts.GET("/current", s.currentCart)
		carts.POST("/add_item", s.addCartItem)
		carts.POST("/remove_item", s.removeCartItem)
		carts.POST("/update_item", s.updateCartItem)
		carts.POST("/clear", s.clearCart)

		orders := v1.Group("/orders")
		orders.GET("", s.listOrders)
		orders.GET("/stats", s.orderStats)
		orders.POST("/create_from_cart", s.createOrderFromCart)
		orders.GET(":id", s.getOrder)
		orders.POST(":id/cancel", s.cancelOrder)
		orders.POST(":id/update_status", s.updateOrderStatus)

		payments := v1.Group("/payments")
		payments.POST("", s.createPayment)
		payments.GET("/stats", s.paymentStats)
		payments.POST("/webhook", s.paymentWebhook)
		payments.GET(":id", s.getPayment)
		payments.GET(":id/transactions", s.paymentTransactions)
		payments.POST(":id/process", s.processPayment)
		payments.POST(":id/refund", s.refundPayment)
	}
}

// requestID honours X-Request-ID or generates one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(logging.RequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		handler := c.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		m.Requests.WithLabelValues(handler, strconv.Itoa(c.Writer.Status())).Inc()
		m.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// identity parses the caller headers into a domain.Identity.
func identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		var id domain.Identity
		if raw := strings.TrimSpace(c.GetHeader(HeaderUserID)); raw != "" {
			uid, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || uid <= 0 {
				writeError(c, domain.Validationf("%s must be a positive integer", HeaderUserID))
				c.Abort()
				return
			}
			id.UserID = uid
		}
		id.SessionKey = strings.TrimSpace(c.GetHeader(HeaderSessionKey))
		if len(id.SessionKey) > domain.MaxSessionKeyLen {
			writeError(c, domain.Validationf("%s longer than %d characters", HeaderSessionKey, domain.MaxSessionKeyLen))
			c.Abort()
			return
		}
		id.Staff = id.UserID != 0 && strings.EqualFold(c.GetHeader(HeaderUserRole), roleStaff)
		c.Set(identityKey, id)
		c.Next()
	}
}

// ensureSession issues a session key to callers without any identity.
func ensureSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := callerIdentity(c)
		if id.Empty() {
			id.SessionKey = strings.ReplaceAll(uuid.NewString(), "-", "")
			c.Set(identityKey, id)
		}
		if id.SessionKey != "" {
			c.Header(HeaderSessionKey, id.SessionKey)
		}
		c.Next()
	}
}

func callerIdentity(c *gin.Context) domain.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}
	}
	id, _ := v.(domain.Identity)
	return id
}
