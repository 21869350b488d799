// Package reports строит сводные отчёты по продажам из зафиксированных заказов.
package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

const (
	// DefaultLimit — размер топов, если limit не задан.
	DefaultLimit = 10
	// RecentOrdersLimit — сколько последних заказов попадает в сводку.
	RecentOrdersLimit = 5
)

// Service считает отчёты. Все суммы берутся из снимков цен позиций.
type Service struct {
	uow    domain.UnitOfWorkFactory
	logger *log.Entry
}

// NewService создаёт сервис отчётов.
func NewService(uow domain.UnitOfWorkFactory, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "reports")
	}
	return &Service{uow: uow, logger: logger}
}

// OrderSummary — строка списка последних заказов.
type OrderSummary struct {
	OrderID    string
	CustomerID string
	OrderDate  time.Time
	Items      int
	Total      decimal.Decimal
}

// SalesSummary — общая статистика продаж.
type SalesSummary struct {
	OrderCount        int
	Revenue           decimal.Decimal
	AverageOrderValue decimal.Decimal
	ItemsSold         int64
	CustomerCount     int
	ProductCount      int
	RecentOrders      []OrderSummary
}

// CustomerStat — строка топа клиентов.
type CustomerStat struct {
	CustomerID string
	FullName   string
	Email      string
	OrderCount int
	TotalSpent decimal.Decimal
}

// ProductStat — строка топа товаров.
type ProductStat struct {
	ProductID    string
	Name         string
	TimesSold    int
	QuantitySold int64
	Revenue      decimal.Decimal
}

// SalesSummary собирает сводку одной единицей работы.
func (s *Service) SalesSummary(ctx context.Context) (SalesSummary, error) {
	var summary SalesSummary
	err := s.read(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		orders, err := uow.Orders().GetAll(ctx)
		if err != nil {
			return err
		}
		customers, err := uow.Customers().GetAll(ctx)
		if err != nil {
			return err
		}
		products, err := uow.Products().GetAll(ctx)
		if err != nil {
			return err
		}

		summary = SalesSummary{
			OrderCount:    len(orders),
			Revenue:       decimal.Zero,
			CustomerCount: len(customers),
			ProductCount:  len(products),
		}
		for _, order := range orders {
			summary.Revenue = summary.Revenue.Add(order.Total())
			summary.ItemsSold += order.ItemsQuantity()
		}
		summary.AverageOrderValue = decimal.Zero
		if len(orders) > 0 {
			summary.AverageOrderValue = summary.Revenue.Div(decimal.NewFromInt(int64(len(orders)))).Round(domain.PriceScale)
		}

		// GetAll отдаёт заказы по возрастанию даты.
		for i := len(orders) - 1; i >= 0 && len(summary.RecentOrders) < RecentOrdersLimit; i-- {
			o := orders[i]
			summary.RecentOrders = append(summary.RecentOrders, OrderSummary{
				OrderID:    o.ID,
				CustomerID: o.CustomerID,
				OrderDate:  o.OrderDate,
				Items:      len(o.Items),
				Total:      o.Total(),
			})
		}
		return nil
	})
	return summary, err
}

// TopCustomers сортирует клиентов по числу заказов, затем по сумме покупок.
func (s *Service) TopCustomers(ctx context.Context, limit int) ([]CustomerStat, error) {
	limit = normalizeLimit(limit)

	var stats []CustomerStat
	err := s.read(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		customers, err := uow.Customers().GetAll(ctx)
		if err != nil {
			return err
		}
		orders, err := uow.Orders().GetAll(ctx)
		if err != nil {
			return err
		}

		index := make(map[string]int, len(customers))
		stats = make([]CustomerStat, 0, len(customers))
		for _, c := range customers {
			index[c.ID] = len(stats)
			stats = append(stats, CustomerStat{
				CustomerID: c.ID,
				FullName:   c.FullName(),
				Email:      c.Email,
				TotalSpent: decimal.Zero,
			})
		}
		for _, o := range orders {
			idx, ok := index[o.CustomerID]
			if !ok {
				continue
			}
			stats[idx].OrderCount++
			stats[idx].TotalSpent = stats[idx].TotalSpent.Add(o.Total())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].OrderCount != stats[j].OrderCount {
			return stats[i].OrderCount > stats[j].OrderCount
		}
		return stats[i].TotalSpent.GreaterThan(stats[j].TotalSpent)
	})
	if len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

// TopProducts сортирует товары по проданному количеству, затем по выручке.
func (s *Service) TopProducts(ctx context.Context, limit int) ([]ProductStat, error) {
	limit = normalizeLimit(limit)

	var stats []ProductStat
	err := s.read(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		products, err := uow.Products().GetAll(ctx)
		if err != nil {
			return err
		}
		orders, err := uow.Orders().GetAll(ctx)
		if err != nil {
			return err
		}

		index := make(map[string]int, len(products))
		stats = make([]ProductStat, 0, len(products))
		for _, p := range products {
			index[p.ID] = len(stats)
			stats = append(stats, ProductStat{ProductID: p.ID, Name: p.Name, Revenue: decimal.Zero})
		}
		for _, o := range orders {
			for _, item := range o.Items {
				idx, ok := index[item.ProductID]
				if !ok {
					continue
				}
				stats[idx].TimesSold++
				stats[idx].QuantitySold += int64(item.Quantity)
				stats[idx].Revenue = stats[idx].Revenue.Add(item.LineTotal())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].QuantitySold != stats[j].QuantitySold {
			return stats[i].QuantitySold > stats[j].QuantitySold
		}
		return stats[i].Revenue.GreaterThan(stats[j].Revenue)
	})
	if len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

func (s *Service) read(ctx context.Context, fn func(context.Context, domain.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCanceled, err)
	}
	uow, err := s.uow.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	defer func() { _ = uow.Rollback() }()

	if err := fn(ctx, uow); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", domain.ErrCanceled, err)
		}
		s.logger.WithError(err).Error("build report")
		return err
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
