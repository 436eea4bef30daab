package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"storefront/internal/domain"
)

// Машиночитаемые коды ошибок в ответе
const (
	CodeValidation             = "validation_error"
	CodeNotFound               = "not_found"
	CodeItemNotFound           = "item_not_found"
	CodeInvalidProduct         = "invalid_product"
	CodeInsufficientStock      = "insufficient_stock"
	CodeEmptyCart              = "empty_cart"
	CodeInvalidTransition      = "invalid_state_transition"
	CodeRefundExceedsAvailable = "refund_exceeds_available"
	CodeNotRefundable          = "not_refundable"
	CodePermissionDenied       = "permission_denied"
	CodeConflict               = "conflict"
	CodeInternal               = "internal_error"
)

// errorResponse тело ответа с ошибкой
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// mapError order matters: ErrItemNotFound wraps ErrNotFound.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound, CodeItemNotFound
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, domain.ErrInvalidProduct):
		return http.StatusBadRequest, CodeInvalidProduct
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusBadRequest, CodeInsufficientStock
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusBadRequest, CodeEmptyCart
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusBadRequest, CodeInvalidTransition
	case errors.Is(err, domain.ErrRefundExceedsAvailable):
		return http.StatusBadRequest, CodeRefundExceedsAvailable
	case errors.Is(err, domain.ErrNotRefundable):
		return http.StatusBadRequest, CodeNotRefundable
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden, CodePermissionDenied
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, CodeConflict
	}
	return http.StatusInternalServerError, CodeInternal
}

func writeError(c *gin.Context, err error) {
	status, code := mapError(err)
	// request logger picks the error up from c.Errors
	_ = c.Error(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	c.JSON(status, errorResponse{Error: msg, Code: code})
}

// bindJSON binds the body and answers 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, bindingError(err))
		return false
	}
	return true
}

func bindingError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return domain.Validationf("invalid json: %v", err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fieldMessage(fe))
	}
	return domain.Validationf("%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	}
	return fmt.Sprintf("%s failed on %q", field, fe.Tag())
}
