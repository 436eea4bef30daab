package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
)

type createOrderReq struct {
	ShippingAddress string `json:"shipping_address" binding:"required"`
}

type updateStatusReq struct {
	Status domain.OrderStatus `json:"status" binding:"required"`
}

// @Summary Create order from the caller's cart
// @Tags orders
// @Accept json
// @Produce json
// @Param input body createOrderReq true "Shipping"
// @Success 201 {object} domain.Order
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Router /orders/create_from_cart [post]
func (s *Server) createOrderFromCart(c *gin.Context) {
	id := callerIdentity(c)
	if id.Anonymous() {
		writeError(c, domain.ErrPermissionDenied)
		return
	}
	var req createOrderReq
	if !bindJSON(c, &req) {
		return
	}
	o, err := s.orders.CreateFromCart(c.Request.Context(), id, req.ShippingAddress)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// @Summary List orders; staff see all
// @Tags orders
// @Produce json
// @Success 200 {array} domain.Order
// @Failure 403 {object} errorResponse
// @Router /orders [get]
func (s *Server) listOrders(c *gin.Context) {
	list, err := s.orders.List(c.Request.Context(), callerIdentity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Get order by id
// @Tags orders
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 404 {object} errorResponse
// @Router /orders/{id} [get]
func (s *Server) getOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := s.orders.Get(c.Request.Context(), callerIdentity(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Cancel order
// @Tags orders
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /orders/{id}/cancel [post]
func (s *Server) cancelOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := s.orders.Cancel(c.Request.Context(), callerIdentity(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Update order status (staff); owners may cancel a pending order
// @Tags orders
// @Accept json
// @Produce json
// @Param id path int true "Order ID"
// @Param input body updateStatusReq true "Status"
// @Success 200 {object} domain.Order
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Router /orders/{id}/update_status [post]
func (s *Server) updateOrderStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateStatusReq
	if !bindJSON(c, &req) {
		return
	}
	o, err := s.orders.UpdateStatus(c.Request.Context(), callerIdentity(c), id, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Order statistics (staff)
// @Tags orders
// @Produce json
// @Success 200 {object} domain.OrderStats
// @Failure 403 {object} errorResponse
// @Router /orders/stats [get]
func (s *Server) orderStats(c *gin.Context) {
	st, err := s.orders.Stats(c.Request.Context(), callerIdentity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
