package httpx

import (
	"context"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"net/http"
)

type ProductResp struct {
	ID    string `json:"id"`
	SKU   string `json:"sku"`
	Name  string `json:"name"`
	Price string `json:"price"`
	Stock int    `json:"stock"`
}

func toProductResp(p orders.Product) ProductResp {
	return ProductResp{ID: p.ID, SKU: p.SKU, Name: p.Name, Price: p.Price.StringFixed(2), Stock: p.Stock}
}

type LowStockLister interface {
	List(ctx context.Context) ([]redisx.LowStockEntry, error)
}

type ProductsHandler struct {
	Service  *orders.Service
	LowStock LowStockLister // optional
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.Get("/inventory/low-stock", h.lowStock)
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]ProductResp, 0, len(ps))
	for _, p := range ps {
		out = append(out, toProductResp(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResp(p))
}

func (h *ProductsHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	if h.LowStock == nil {
		writeJSON(w, http.StatusOK, []redisx.LowStockEntry{})
		return
	}
	entries, err := h.LowStock.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
