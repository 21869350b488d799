// Package pricing применяет внешние события изменения цен к каталогу.
package pricing

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/messaging/kafka"
)

// PriceUpdater меняет цену товара.
type PriceUpdater interface {
	UpdatePrice(ctx context.Context, productID string, price decimal.Decimal) (domain.Product, error)
}

// Handler обрабатывает сообщения topic цен. Существующие позиции заказов сохраняют снимок цены.
type Handler struct {
	products PriceUpdater
	logger   *log.Entry
}

// NewHandler создаёт обработчик.
func NewHandler(products PriceUpdater, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "pricing-handler")
	}
	return &Handler{products: products, logger: logger}
}

// Handle подходит как kafka.MessageHandler. Ошибки данных (битое сообщение,
// неизвестный товар, недопустимая цена) помечаются как неповторяемые.
func (h *Handler) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := kafka.ParsePriceChangedEvent(message)
	if err != nil {
		return kafka.NonRetryable(err)
	}

	entry := h.logger.WithFields(log.Fields{
		"product_id": event.ProductID,
		"price":      event.Price.StringFixed(domain.PriceScale),
	})

	product, err := h.products.UpdatePrice(ctx, event.ProductID, event.Price)
	switch {
	case err == nil:
		entry.WithField("name", product.Name).Info("product price updated")
		return nil
	case domain.IsValidation(err), domain.IsNotFound(err):
		entry.WithError(err).Warn("price change rejected")
		return kafka.NonRetryable(err)
	default:
		return fmt.Errorf("update price of %s: %w", event.ProductID, err)
	}
}
