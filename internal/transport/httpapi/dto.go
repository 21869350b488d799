package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/service/reports"
)

// money печатает сумму с фиксированными двумя знаками.
func money(d decimal.Decimal) string {
	return d.StringFixed(domain.PriceScale)
}

type customerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type customerResponse struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func toCustomer(c domain.Customer) customerResponse {
	return customerResponse{
		ID:        c.ID,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.Email,
		CreatedAt: c.CreatedAt,
	}
}

type productRequest struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type priceRequest struct {
	Price decimal.Decimal `json:"price"`
}

type productResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

func toProduct(p domain.Product) productResponse {
	return productResponse{ID: p.ID, Name: p.Name, Price: money(p.Price), CreatedAt: p.CreatedAt}
}

type lineRequest struct {
	ProductID string           `json:"product_id"`
	Quantity  int64            `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type createOrderRequest struct {
	CustomerID string        `json:"customer_id"`
	Items      []lineRequest `json:"items"`
}

type quantityRequest struct {
	Quantity int64 `json:"quantity"`
}

type itemResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

type orderResponse struct {
	ID           string         `json:"id"`
	CustomerID   string         `json:"customer_id"`
	CustomerName string         `json:"customer_name,omitempty"`
	OrderDate    time.Time      `json:"order_date"`
	Version      int64          `json:"version"`
	Items        []itemResponse `json:"items"`
	Total        string         `json:"total"`
}

func toOrder(o domain.Order) orderResponse {
	resp := orderResponse{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		OrderDate:  o.OrderDate,
		Version:    o.Version,
		Items:      make([]itemResponse, 0, len(o.Items)),
		Total:      money(o.Total()),
	}
	if o.Customer != nil {
		resp.CustomerName = o.Customer.FullName()
	}
	for _, item := range o.Items {
		ir := itemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: money(item.UnitPrice),
			LineTotal: money(item.LineTotal()),
		}
		if item.Product != nil {
			ir.ProductName = item.Product.Name
		}
		resp.Items = append(resp.Items, ir)
	}
	return resp
}

func toOrders(list []domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(list))
	for _, o := range list {
		out = append(out, toOrder(o))
	}
	return out
}

type recentOrderResponse struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	OrderDate  time.Time `json:"order_date"`
	Items      int       `json:"items"`
	Total      string    `json:"total"`
}

type salesSummaryResponse struct {
	OrderCount        int                   `json:"order_count"`
	Revenue           string                `json:"revenue"`
	AverageOrderValue string                `json:"average_order_value"`
	ItemsSold         int64                 `json:"items_sold"`
	CustomerCount     int                   `json:"customer_count"`
	ProductCount      int                   `json:"product_count"`
	RecentOrders      []recentOrderResponse `json:"recent_orders"`
}

func toSalesSummary(s reports.SalesSummary) salesSummaryResponse {
	resp := salesSummaryResponse{
		OrderCount:        s.OrderCount,
		Revenue:           money(s.Revenue),
		AverageOrderValue: money(s.AverageOrderValue),
		ItemsSold:         s.ItemsSold,
		CustomerCount:     s.CustomerCount,
		ProductCount:      s.ProductCount,
		RecentOrders:      make([]recentOrderResponse, 0, len(s.RecentOrders)),
	}
	for _, o := range s.RecentOrders {
		resp.RecentOrders = append(resp.RecentOrders, recentOrderResponse{
			OrderID:    o.OrderID,
			CustomerID: o.CustomerID,
			OrderDate:  o.OrderDate,
			Items:      o.Items,
			Total:      money(o.Total),
		})
	}
	return resp
}

type customerStatResponse struct {
	CustomerID string `json:"customer_id"`
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	OrderCount int    `json:"order_count"`
	TotalSpent string `json:"total_spent"`
}

type productStatResponse struct {
	ProductID    string `json:"product_id"`
	Name         string `json:"name"`
	TimesSold    int    `json:"times_sold"`
	QuantitySold int64  `json:"quantity_sold"`
	Revenue      string `json:"revenue"`
}
