package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

// cartResponse корзина с вычисляемыми итогами
type cartResponse struct {
	ID          int64             `json:"id"`
	UserID      int64             `json:"user_id,omitempty"`
	SessionKey  string            `json:"session_key,omitempty"`
	Active      bool              `json:"is_active"`
	Items       []domain.CartItem `json:"items"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	TotalItems  int64             `json:"total_items"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func newCartResponse(c *domain.Cart) cartResponse {
	items := c.Items
	if items == nil {
		items = []domain.CartItem{}
	}
	return cartResponse{
		ID:          c.ID,
		UserID:      c.Owner.UserID,
		SessionKey:  c.Owner.SessionKey,
		Active:      c.Active,
		Items:       items,
		TotalAmount: c.TotalAmount().Round(2),
		TotalItems:  c.TotalItems(),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

type addItemReq struct {
	Product  int64  `json:"product" binding:"required,gt=0"`
	Quantity *int64 `json:"quantity"`
}

type updateItemReq struct {
	Product  int64  `json:"product" binding:"required,gt=0"`
	Quantity *int64 `json:"quantity" binding:"required"`
}

type removeItemReq struct {
	Product int64 `json:"product" binding:"required,gt=0"`
}

// @Summary Current cart
// @Tags carts
// @Produce json
// @Success 200 {object} cartResponse
// @Router /carts/current [get]
func (s *Server) currentCart(c *gin.Context) {
	cart, err := s.carts.Current(c.Request.Context(), callerIdentity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(cart))
}

// @Summary Add item to cart
// @Tags carts
// @Accept json
// @Produce json
// @Param input body addItemReq true "Item"
// @Success 201 {object} domain.CartItem
// @Failure 400 {object} errorResponse
// @Router /carts/add_item [post]
func (s *Server) addCartItem(c *gin.Context) {
	var req addItemReq
	if !bindJSON(c, &req) {
		return
	}
	qty := int64(1)
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	it, err := s.carts.AddItem(c.Request.Context(), callerIdentity(c), req.Product, qty)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

// @Summary Remove item from cart
// @Tags carts
// @Accept json
// @Produce json
// @Param input body removeItemReq true "Item"
// @Success 200 {object} cartResponse
// @Failure 404 {object} errorResponse
// @Router /carts/remove_item [post]
func (s *Server) removeCartItem(c *gin.Context) {
	var req removeItemReq
	if !bindJSON(c, &req) {
		return
	}
	cart, err := s.carts.RemoveItem(c.Request.Context(), callerIdentity(c), req.Product)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(cart))
}

// @Summary Update item quantity; 0 removes the item
// @Tags carts
// @Accept json
// @Produce json
// @Param input body updateItemReq true "Item"
// @Success 200 {object} cartResponse
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /carts/update_item [post]
func (s *Server) updateCartItem(c *gin.Context) {
	var req updateItemReq
	if !bindJSON(c, &req) {
		return
	}
	cart, err := s.carts.UpdateItem(c.Request.Context(), callerIdentity(c), req.Product, *req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(cart))
}

// @Summary Clear cart
// @Tags carts
// @Produce json
// @Success 200 {object} cartResponse
// @Router /carts/clear [post]
func (s *Server) clearCart(c *gin.Context) {
	cart, err := s.carts.Clear(c.Request.Context(), callerIdentity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(cart))
}
