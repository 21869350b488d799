package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/service/ledger"
	"github.com/vladislavdragonenkov/salesledger/internal/service/reports"
	"github.com/vladislavdragonenkov/salesledger/internal/storage/memory"
	"github.com/vladislavdragonenkov/salesledger/internal/transport/httpapi"
)

const (
	johnID   = "11111111-1111-1111-1111-111111111111"
	sarahID  = "22222222-2222-2222-2222-222222222222"
	laptopID = "a1a1a1a1-a1a1-a1a1-a1a1-a1a1a1a1a1a1"
	mouseID  = "b2b2b2b2-b2b2-b2b2-b2b2-b2b2b2b2b2b2"
)

func newAPI(t *testing.T) http.Handler {
	t.Helper()
	logger := log.New().WithField("test", t.Name())
	store := memory.NewStore()
	l := ledger.New(store, ledger.WithLogger(logger))
	_, err := l.SeedDemoData(context.Background())
	require.NoError(t, err)

	return httpapi.NewHandler(httpapi.Services{
		Customers: l.Customers,
		Products:  l.Products,
		Orders:    l.Orders,
		Reports:   reports.NewService(store, logger),
	}, httpapi.Options{Logger: logger})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestListProductsFormatsPrices(t *testing.T) {
	h := newAPI(t)

	rec := do(t, h, http.MethodGet, "/products", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var products []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 3)
	// по возрастанию названия
	require.Equal(t, "Keyboard", products[0]["name"])
	require.Equal(t, "45.99", products[0]["price"])
	require.Equal(t, "Laptop 15-inch", products[1]["name"])
	require.Equal(t, "1200.00", products[1]["price"])
}

func TestCustomerEndpoints(t *testing.T) {
	h := newAPI(t)

	rec := do(t, h, http.MethodPost, "/customers", `{"first_name":"Ann","last_name":"Lee","email":"ann@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)
	id := created["id"].(string)
	require.NotEmpty(t, id)
	require.Equal(t, "/customers/"+id, rec.Header().Get("Location"))

	rec = do(t, h, http.MethodGet, "/customers/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ann@example.com", decodeBody(t, rec)["email"])

	rec = do(t, h, http.MethodPut, "/customers/"+id, `{"first_name":"Ann","last_name":"Leeds","email":"ann@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Leeds", decodeBody(t, rec)["last_name"])

	rec = do(t, h, http.MethodDelete, "/customers/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/customers/"+id, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "customer not found")
}

func TestValidationErrorListsViolations(t *testing.T) {
	h := newAPI(t)

	rec := do(t, h, http.MethodPost, "/customers", `{"first_name":"","last_name":"","email":"nope"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, domain.ErrValidation.Error(), body["error"])
	violations, ok := body["violations"].([]any)
	require.True(t, ok)
	require.ElementsMatch(t, []any{
		domain.ErrFirstNameRequired.Error(),
		domain.ErrLastNameRequired.Error(),
		domain.ErrEmailInvalid.Error(),
	}, violations)
}

func TestConstraintViolationsReturnConflict(t *testing.T) {
	h := newAPI(t)

	rec := do(t, h, http.MethodPost, "/customers", `{"first_name":"J","last_name":"D","email":"john.doe@example.com"}`)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/customers/"+johnID, "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodDelete, "/products/"+laptopID, "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestMalformedBodies(t *testing.T) {
	h := newAPI(t)

	for name, body := range map[string]string{
		"syntax":        `{"name":`,
		"unknown field": `{"name":"Pen","price":"1.00","color":"red"}`,
		"bad price":     `{"name":"Pen","price":"abc"}`,
		"trailing data": `{"name":"Pen","price":"1.00"}{}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/products", body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			require.Contains(t, decodeBody(t, rec)["error"], "malformed request body")
		})
	}
}

func TestProductPriceUpdateKeepsOrderSnapshot(t *testing.T) {
	h := newAPI(t)

	rec := do(t, h, http.MethodPatch, "/products/"+laptopID+"/price", `{"price":"999.99"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "999.99", decodeBody(t, rec)["price"])

	rec = do(t, h, http.MethodGet, "/orders/d4d4d4d4-d4d4-d4d4-d4d4-d4d4d4d4d4d4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	order := decodeBody(t, rec)
	require.Equal(t, "1200.00", order["total"])
	require.Equal(t, "John Doe", order["customer_name"])

	rec = do(t, h, http.MethodPatch, "/products/"+laptopID+"/price", `{"price":"1.005"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderLifecycle(t *testing.T) {
	h := newAPI(t)

	rec := do(t, h, http.MethodPost, "/orders", fmt.Sprintf(
		`{"customer_id":%q,"items":[{"product_id":%q,"quantity":2},{"product_id":%q,"quantity":1,"unit_price":"1000.00"}]}`,
		sarahID, mouseID, laptopID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeBody(t, rec)
	id := order["id"].(string)
	require.Equal(t, "1051.00", order["total"])
	require.Len(t, order["items"], 2)

	rec = do(t, h, http.MethodPost, "/orders/"+id+"/items", fmt.Sprintf(`{"product_id":%q,"quantity":1}`, mouseID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "1076.50", decodeBody(t, rec)["total"])

	rec = do(t, h, http.MethodPut, "/orders/"+id+"/items/"+mouseID, `{"quantity":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "1025.50", decodeBody(t, rec)["total"])

	rec = do(t, h, http.MethodDelete, "/orders/"+id+"/items/"+laptopID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "25.50", decodeBody(t, rec)["total"])

	rec = do(t, h, http.MethodGet, "/customers/"+sarahID+"/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)

	rec = do(t, h, http.MethodDelete, "/orders/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/orders/"+id, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderQuantityBounds(t *testing.T) {
	h := newAPI(t)

	rec := do(t, h, http.MethodPost, "/orders", fmt.Sprintf(
		`{"customer_id":%q,"items":[{"product_id":%q,"quantity":3000000000}]}`, johnID, mouseID))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeBody(t, rec)["violations"], domain.ErrItemQtyTooLarge.Error())

	rec = do(t, h, http.MethodPut, "/orders/d4d4d4d4-d4d4-d4d4-d4d4-d4d4d4d4d4d4/items/"+laptopID, `{"quantity":0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/orders", fmt.Sprintf(
		`{"customer_id":"missing","items":[{"product_id":%q,"quantity":1}]}`, mouseID))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReports(t *testing.T) {
	h := newAPI(t)

	rec := do(t, h, http.MethodGet, "/reports/sales-summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody(t, rec)
	require.Equal(t, "1296.99", summary["revenue"])
	require.Equal(t, "432.33", summary["average_order_value"])
	require.EqualValues(t, 3, summary["order_count"])

	rec = do(t, h, http.MethodGet, "/reports/top-customers?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var customers []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &customers))
	require.Len(t, customers, 1)
	require.Equal(t, johnID, customers[0]["customer_id"])
	require.Equal(t, "1251.00", customers[0]["total_spent"])

	rec = do(t, h, http.MethodGet, "/reports/top-products", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var products []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 3)
	require.Equal(t, mouseID, products[0]["product_id"])

	rec = do(t, h, http.MethodGet, "/reports/top-products?limit=abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingCustomers struct {
	httpapi.Customers
	err error
}

func (f failingCustomers) List(context.Context) ([]domain.Customer, error) {
	return nil, f.err
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"canceled", fmt.Errorf("%w: %w", domain.ErrCanceled, context.Canceled), httpapi.StatusClientClosedRequest},
		{"internal", errors.New("connection reset by peer"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := httpapi.NewHandler(httpapi.Services{Customers: failingCustomers{err: tc.err}}, httpapi.Options{
				Logger: log.New().WithField("test", t.Name()),
			})
			rec := do(t, h, http.MethodGet, "/customers", "")
			require.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusInternalServerError {
				// детали внутренней ошибки наружу не уходят
				require.False(t, strings.Contains(rec.Body.String(), "connection reset"))
			}
		})
	}
}
