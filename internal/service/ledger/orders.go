package ledger

import (
	"context"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/service/orders"
)

// OrderService — тонкая обёртка над менеджером агрегата заказа.
type OrderService struct {
	manager *orders.Manager
}

// Create создаёт заказ клиента с переданными позициями.
func (s *OrderService) Create(ctx context.Context, customerID string, lines []orders.LineRequest) (domain.Order, error) {
	return s.manager.CreateOrder(ctx, customerID, lines)
}

// AddItem добавляет товар в заказ или увеличивает количество существующей позиции.
func (s *OrderService) AddItem(ctx context.Context, orderID string, line orders.LineRequest) (domain.Order, error) {
	return s.manager.AddItemToOrder(ctx, orderID, line)
}

// SetItemQuantity задаёт количество позиции.
func (s *OrderService) SetItemQuantity(ctx context.Context, orderID, productID string, quantity int32) (domain.Order, error) {
	return s.manager.SetItemQuantity(ctx, orderID, productID, quantity)
}

// RemoveItem удаляет позицию.
func (s *OrderService) RemoveItem(ctx context.Context, orderID, productID string) (domain.Order, error) {
	return s.manager.RemoveItemFromOrder(ctx, orderID, productID)
}

func (s *OrderService) Delete(ctx context.Context, orderID string) error {
	return s.manager.DeleteOrder(ctx, orderID)
}

func (s *OrderService) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return s.manager.GetOrder(ctx, orderID)
}

func (s *OrderService) ListForCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	return s.manager.ListOrdersForCustomer(ctx, customerID)
}

func (s *OrderService) ListAll(ctx context.Context) ([]domain.Order, error) {
	return s.manager.ListAllOrders(ctx)
}
