package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-shop-orders/internal/logger"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"go.uber.org/zap"
	"net/http"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string, extra map[string]any) {
	body := map[string]any{"error": code, "message": msg}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// writeServiceError maps order service errors to HTTP responses. Anything not
// recognised is a 500 without internal detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stockErr *orders.InsufficientStockError
		transErr *orders.InvalidTransitionError
		dupErr   *orders.DuplicateOrderError
		qtyErr   *orders.InvalidQuantityError
	)
	switch {
	case errors.As(err, &stockErr):
		writeError(w, http.StatusBadRequest, "INSUFFICIENT_STOCK", stockErr.Error(), map[string]any{
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		})
	case errors.As(err, &qtyErr) && qtyErr.Limit > 0:
		writeError(w, http.StatusBadRequest, "INVALID_QUANTITY",
			fmt.Sprintf("Quantity must be at most %d.", qtyErr.Limit), map[string]any{"max_quantity": qtyErr.Limit})
	case errors.Is(err, orders.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "INVALID_QUANTITY", "Quantity must be a positive integer.", nil)
	case errors.Is(err, orders.ErrInvalidShippingAddress):
		writeError(w, http.StatusBadRequest, "INVALID_SHIPPING_ADDRESS", "Shipping address is required.", nil)
	case errors.Is(err, orders.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "Unknown order status.", nil)
	case errors.As(err, &dupErr):
		writeError(w, http.StatusBadRequest, "DUPLICATE_ORDER", dupErr.Error(), nil)
	case errors.As(err, &transErr):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", transErr.Error(), map[string]any{
			"from": transErr.From,
			"to":   transErr.To,
		})
	case errors.Is(err, orders.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", "Product not found.", nil)
	case errors.Is(err, orders.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "Order not found.", nil)
	case errors.Is(err, orders.ErrMissingUser):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
	default:
		logger.FromContext(r.Context()).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
