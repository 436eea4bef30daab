package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

// Product handlers
type productReq struct {
	Name   string          `json:"name" binding:"required"`
	SKU    string          `json:"sku"`
	Price  decimal.Decimal `json:"price"`
	Stock  int64           `json:"stock" binding:"gte=0"`
	Active *bool           `json:"is_active"`
}

func (r productReq) product(id int64) domain.Product {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return domain.Product{ID: id, Name: r.Name, SKU: r.SKU, Price: r.Price, Stock: r.Stock, Active: active}
}

// @Summary Create product (staff)
// @Tags products
// @Accept json
// @Produce json
// @Param input body productReq true "Product"
// @Success 201 {object} domain.Product
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Router /products [post]
func (s *Server) createProduct(c *gin.Context) {
	var req productReq
	if !bindJSON(c, &req) {
		return
	}
	p, err := s.products.Create(c.Request.Context(), callerIdentity(c), req.product(0))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// @Summary Get product by id
// @Tags products
// @Produce json
// @Param id path int true "Product ID"
// @Success 200 {object} domain.Product
// @Failure 404 {object} errorResponse
// @Router /products/{id} [get]
func (s *Server) getProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := s.products.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Update product (staff)
// @Tags products
// @Accept json
// @Produce json
// @Param id path int true "Product ID"
// @Param input body productReq true "Update"
// @Success 200 {object} domain.Product
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /products/{id} [put]
func (s *Server) updateProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req productReq
	if !bindJSON(c, &req) {
		return
	}
	p, err := s.products.Update(c.Request.Context(), callerIdentity(c), req.product(id))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary List products
// @Tags products
// @Produce json
// @Param active query bool false "Only active products"
// @Success 200 {array} domain.Product
// @Router /products [get]
func (s *Server) listProducts(c *gin.Context) {
	var f repository.ProductFilter
	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(c, domain.Validationf("active must be a boolean"))
			return
		}
		f.ActiveOnly = active
	}
	list, err := s.products.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// pathID reads the :id parameter and answers 400 when it is not a positive int.
func pathID(c *gin.Context) (int64, bool) {
	id, err := parseID(c.Param("id"))
	if err != nil || id <= 0 {
		writeError(c, domain.Validationf("invalid id"))
		return 0, false
	}
	return id, true
}
