package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OutboxWriter ставит событие в transactional outbox в рамках единицы работы.
type OutboxWriter interface {
	Enqueue(msg OutboxMessage) error
}

// OutboxRepository обслуживает публикацию уже зафиксированных сообщений outbox.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// AggregateTypeOrder — тип агрегата в outbox для событий заказа.
const AggregateTypeOrder = "order"

// OrderEventType перечисляет события агрегата заказа.
type OrderEventType string

const (
	OrderEventCreated         OrderEventType = "order.created"
	OrderEventItemAdded       OrderEventType = "order.item_added"
	OrderEventQuantityChanged OrderEventType = "order.item_quantity_changed"
	OrderEventItemRemoved     OrderEventType = "order.item_removed"
	OrderEventDeleted         OrderEventType = "order.deleted"
)

// OrderEventItem — позиция в полезной нагрузке события.
type OrderEventItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int32           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderEvent — полезная нагрузка событий заказа в outbox.
type OrderEvent struct {
	Type       OrderEventType   `json:"event_type"`
	OrderID    string           `json:"order_id"`
	CustomerID string           `json:"customer_id"`
	Version    int64            `json:"version"`
	Total      decimal.Decimal  `json:"total"`
	Items      []OrderEventItem `json:"items,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// NewOrderEvent собирает снимок заказа для события.
func NewOrderEvent(eventType OrderEventType, order Order, occurred time.Time) OrderEvent {
	items := make([]OrderEventItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderEventItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Version:    order.Version,
		Total:      order.Total(),
		Items:      items,
		OccurredAt: occurred,
	}
}
