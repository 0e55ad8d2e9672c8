package httpx

import (
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"math"
	"net/http"
	"reflect"
	"strings"
	"time"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// pakai nama field JSON di pesan error
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type OrdersHandler struct {
	Service *orders.Service
	Auth    *Authenticator
}

type PlaceOrderReq struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	// Quantity defaults to 1 when omitted.
	Quantity        *json.Number `json:"quantity"`
	ShippingAddress string       `json:"shipping_address" validate:"max=1000"`
}

type UpdateOrderReq struct {
	Quantity *json.Number `json:"quantity"`
	Status   *string      `json:"status" validate:"omitempty,max=32"`
}

type OrderResp struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	ProductID       *string       `json:"product_id"`
	Quantity        int           `json:"quantity"`
	UnitPrice       string        `json:"unit_price"`
	TotalPrice      string        `json:"total_price"`
	ShippingAddress string        `json:"shipping_address"`
	Status          orders.Status `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func toOrderResp(o orders.Order) OrderResp {
	resp := OrderResp{
		ID:              o.ID,
		UserID:          o.UserID,
		Quantity:        o.Quantity,
		UnitPrice:       o.UnitPrice.StringFixed(2),
		TotalPrice:      o.TotalPrice.StringFixed(2),
		ShippingAddress: o.ShippingAddress,
		Status:          o.Status,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if o.HasProduct() {
		pid := o.ProductID
		resp.ProductID = &pid
	}
	return resp
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(h.Auth.Middleware)
		r.Post("/", h.placeOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Patch("/{id}", h.updateOrder)
		r.Delete("/{id}", h.deleteOrder)
	})
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderReq
	if !decodeBody(w, r, &req) {
		return
	}
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if err := validate.Var(idemKey, "omitempty,max=128,printascii"); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid Idempotency-Key header", nil)
		return
	}
	qty, err := parseQuantity(req.Quantity, 1)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	o, err := h.Service.PlaceOrder(r.Context(), orders.PlaceOrderInput{
		UserID:          UserID(r.Context()),
		ProductID:       req.ProductID,
		Quantity:        qty,
		ShippingAddress: req.ShippingAddress,
		IdempotencyKey:  idemKey,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResp(o))
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListOrders(r.Context(), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]OrderResp, 0, len(list))
	for _, o := range list {
		out = append(out, toOrderResp(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.GetOrder(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrderReq
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == nil && req.Status == nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "nothing to update: send quantity and/or status", nil)
		return
	}

	var patch orders.OrderPatch
	if req.Quantity != nil {
		qty, err := parseQuantity(req.Quantity, 0)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		patch.Quantity = &qty
	}
	if req.Status != nil {
		st := orders.Status(*req.Status)
		patch.Status = &st
	}

	o, err := h.Service.UpdateOrder(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteOrder(r.Context(), UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody writes the error response itself and reports whether the handler
// may continue.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid json", nil)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "request validation failed", map[string]any{"fields": fields})
		return false
	}
	return true
}

// parseQuantity accepts whole JSON numbers only; 2.5 or 1e3 are rejected.
func parseQuantity(n *json.Number, def int) (int, error) {
	if n == nil {
		return def, nil
	}
	i, err := n.Int64()
	if err != nil {
		return 0, orders.ErrInvalidQuantity
	}
	if i <= 0 {
		return 0, &orders.InvalidQuantityError{Quantity: int(i)}
	}
	if i > orders.MaxQuantity {
		return 0, &orders.InvalidQuantityError{Quantity: int(min(i, math.MaxInt)), Limit: orders.MaxQuantity}
	}
	return int(i), nil
}
