package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/service"
	"rental-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// OrderService is the reservation side used by the handlers
type OrderService interface {
	Reserve(ctx context.Context, req *service.ReservationRequest) (*service.ReservationResponse, error)
	Cancel(ctx context.Context, req *service.CancelRequest) (*models.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*service.OrderView, error)
}

// RentalService is the rental detail and payment side used by the handlers
type RentalService interface {
	SubmitDetails(ctx context.Context, req *service.RentalDetailsRequest) (*models.Order, error)
	ConfirmCOD(ctx context.Context, orderID int64) (*models.Order, error)
	ConfirmPayment(ctx context.Context, req *service.PaymentConfirmation) (*models.Order, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders  OrderService
	rentals RentalService
	db      Pinger
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orders OrderService, rentals RentalService, db Pinger) *Handler {
	return &Handler{
		orders:  orders,
		rentals: rentals,
		db:      db,
		logger:  util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	order := router.Group("/order")
	{
		order.POST("/create", h.createOrder)
		order.POST("/cancel", h.cancelOrder)
		order.GET("/:order", h.getOrder)
		order.POST("/:order/payment", h.confirmPayment)
	}

	rent := router.Group("/rent")
	{
		rent.PATCH("/cod/:order", h.confirmCOD)
		rent.PATCH("/:user/:vehicle/:order", h.submitRentalDetails)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when the database answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles reservation of a vehicle
func (h *Handler) createOrder(c *gin.Context) {
	var req service.ReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	resp, err := h.orders.Reserve(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if resp.Reused {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// cancelOrder handles renter initiated cancellation
func (h *Handler) cancelOrder(c *gin.Context) {
	var req service.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.orders.Cancel(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id": order.ID,
		"status":   order.Status,
	})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := int64Param(c, "order")
	if !ok {
		return
	}

	view, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

type rentalDetailsBody struct {
	StartDate     string `json:"start_date" binding:"required"`
	EndDate       string `json:"end_date" binding:"required"`
	TermsAccepted bool   `json:"terms_accepted"`
	LicenseImage  string `json:"license_image" binding:"required"`
}

// submitRentalDetails attaches dates and license to a reserved order
func (h *Handler) submitRentalDetails(c *gin.Context) {
	userID, ok := int64Param(c, "user")
	if !ok {
		return
	}
	vehicleID, ok := int64Param(c, "vehicle")
	if !ok {
		return
	}
	orderID, ok := int64Param(c, "order")
	if !ok {
		return
	}

	var body rentalDetailsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if !body.TermsAccepted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Terms and conditions must be accepted"})
		return
	}
	start, err := time.Parse(dateLayout, body.StartDate)
	if err != nil {
		badRequest(c, "Invalid start_date, expected YYYY-MM-DD", err)
		return
	}
	end, err := time.Parse(dateLayout, body.EndDate)
	if err != nil {
		badRequest(c, "Invalid end_date, expected YYYY-MM-DD", err)
		return
	}

	order, err := h.rentals.SubmitDetails(c.Request.Context(), &service.RentalDetailsRequest{
		UserID:        userID,
		VehicleID:     vehicleID,
		OrderID:       orderID,
		StartDate:     start,
		EndDate:       end,
		TermsAccepted: body.TermsAccepted,
		LicenseImage:  body.LicenseImage,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// confirmCOD marks an order as cash on delivery
func (h *Handler) confirmCOD(c *gin.Context) {
	orderID, ok := int64Param(c, "order")
	if !ok {
		return
	}

	order, err := h.rentals.ConfirmCOD(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

type paymentBody struct {
	TransactionUUID string `json:"transaction_uuid" binding:"required"`
	PaymentMethod   string `json:"payment_method"`
}

// confirmPayment is the payment gateway callback
func (h *Handler) confirmPayment(c *gin.Context) {
	orderID, ok := int64Param(c, "order")
	if !ok {
		return
	}

	var body paymentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.rentals.ConfirmPayment(c.Request.Context(), &service.PaymentConfirmation{
		OrderID:         orderID,
		TransactionUUID: body.TransactionUUID,
		PaymentMethod:   body.PaymentMethod,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

type conflictView struct {
	OrderID   int64      `json:"order_id"`
	Status    string     `json:"status"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// writeError maps service error kinds to HTTP responses. Storage failures are
// logged and answered with a generic message.
func (h *Handler) writeError(c *gin.Context, err error) {
	var incomplete *service.IncompleteProfileError
	var conflict *service.DateConflictError

	switch {
	case errors.As(err, &incomplete):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   err.Error(),
			"missing": incomplete.Missing,
		})
	case errors.As(err, &conflict):
		conflicts := make([]conflictView, 0, len(conflict.Conflicts))
		for _, o := range conflict.Conflicts {
			conflicts = append(conflicts, conflictView{
				OrderID:   o.ID,
				Status:    o.Status,
				StartDate: o.StartDate,
				EndDate:   o.EndDate,
			})
		}
		c.JSON(http.StatusConflict, gin.H{
			"error":     err.Error(),
			"conflicts": conflicts,
		})
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrRenterNotFound),
		errors.Is(err, service.ErrVehicleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrVehicleUnavailable),
		errors.Is(err, service.ErrInvalidOrderState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidDateRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrOutsideAvailableWindow):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func badRequest(c *gin.Context, msg string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name + " id"})
		return 0, false
	}
	return v, true
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

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
