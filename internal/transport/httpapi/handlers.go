package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/service/ledger"
	"github.com/vladislavdragonenkov/salesledger/internal/service/orders"
)

// quantity переводит количество из запроса в int32 с теми же правилами, что и у домена.
func quantity(v int64) (int32, error) {
	switch {
	case v > domain.MaxQuantity:
		return 0, domain.NewValidationError([]error{domain.ErrItemQtyTooLarge})
	case v < 1:
		return 0, domain.NewValidationError([]error{domain.ErrItemQtyInvalid})
	}
	return int32(v), nil
}

func (l lineRequest) toLine() (orders.LineRequest, error) {
	qty, err := quantity(l.Quantity)
	if err != nil {
		return orders.LineRequest{}, err
	}
	return orders.LineRequest{ProductID: l.ProductID, Quantity: qty, PriceOverride: l.UnitPrice}, nil
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("%w: limit=%q", errBadQuery, raw)
	}
	return limit, nil
}

// --- customers ---

func (a *api) listCustomers(w http.ResponseWriter, r *http.Request) {
	list, err := a.Customers.List(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]customerResponse, 0, len(list))
	for _, c := range list {
		out = append(out, toCustomer(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	customer, err := a.Customers.Create(r.Context(), ledger.CustomerInput(req))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/customers/"+customer.ID)
	writeJSON(w, http.StatusCreated, toCustomer(customer))
}

func (a *api) getCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := a.Customers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomer(customer))
}

func (a *api) updateCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	customer, err := a.Customers.Update(r.Context(), chi.URLParam(r, "id"), ledger.CustomerInput(req))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomer(customer))
}

func (a *api) deleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := a.Customers.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listCustomerOrders(w http.ResponseWriter, r *http.Request) {
	list, err := a.Orders.ListForCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrders(list))
}

// --- products ---

func (a *api) listProducts(w http.ResponseWriter, r *http.Request) {
	list, err := a.Products.List(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]productResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toProduct(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	product, err := a.Products.Create(r.Context(), ledger.ProductInput(req))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/products/"+product.ID)
	writeJSON(w, http.StatusCreated, toProduct(product))
}

func (a *api) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.Products.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProduct(product))
}

func (a *api) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	product, err := a.Products.Update(r.Context(), chi.URLParam(r, "id"), ledger.ProductInput(req))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProduct(product))
}

func (a *api) updateProductPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	product, err := a.Products.UpdatePrice(r.Context(), chi.URLParam(r, "id"), req.Price)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProduct(product))
}

func (a *api) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.Products.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- orders ---

func (a *api) listOrders(w http.ResponseWriter, r *http.Request) {
	var (
		list []domain.Order
		err  error
	)
	if customerID := r.URL.Query().Get("customer_id"); customerID != "" {
		list, err = a.Orders.ListForCustomer(r.Context(), customerID)
	} else {
		list, err = a.Orders.ListAll(r.Context())
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrders(list))
}

func (a *api) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	lines := make([]orders.LineRequest, 0, len(req.Items))
	for _, item := range req.Items {
		line, err := item.toLine()
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		lines = append(lines, line)
	}
	order, err := a.Orders.Create(r.Context(), req.CustomerID, lines)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/orders/"+order.ID)
	writeJSON(w, http.StatusCreated, toOrder(order))
}

func (a *api) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(order))
}

func (a *api) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := a.Orders.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) addOrderItem(w http.ResponseWriter, r *http.Request) {
	var req lineRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	line, err := req.toLine()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	order, err := a.Orders.AddItem(r.Context(), chi.URLParam(r, "id"), line)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(order))
}

func (a *api) setOrderItemQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	qty, err := quantity(req.Quantity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	order, err := a.Orders.SetItemQuantity(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "productID"), qty)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(order))
}

func (a *api) removeOrderItem(w http.ResponseWriter, r *http.Request) {
	order, err := a.Orders.RemoveItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(order))
}

// --- reports ---

func (a *api) salesSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.Reports.SalesSummary(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSalesSummary(summary))
}

func (a *api) topCustomers(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	stats, err := a.Reports.TopCustomers(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]customerStatResponse, 0, len(stats))
	for _, s := range stats {
		out = append(out, customerStatResponse{
			CustomerID: s.CustomerID,
			FullName:   s.FullName,
			Email:      s.Email,
			OrderCount: s.OrderCount,
			TotalSpent: money(s.TotalSpent),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) topProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	stats, err := a.Reports.TopProducts(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]productStatResponse, 0, len(stats))
	for _, s := range stats {
		out = append(out, productStatResponse{
			ProductID:    s.ProductID,
			Name:         s.Name,
			TimesSold:    s.TimesSold,
			QuantitySold: s.QuantitySold,
			Revenue:      money(s.Revenue),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
