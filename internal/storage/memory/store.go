package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

// Store — in-memory хранилище для локальной разработки и тестов.
// Все единицы работы одного Store видят одни и те же зафиксированные данные.
type Store struct {
	mu     sync.RWMutex
	data   *tables
	outbox *outboxTable
	now    func() time.Time
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		data:   newTables(),
		outbox: newOutboxTable(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Begin открывает новую единицу работы.
func (s *Store) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newUnitOfWork(s), nil
}

// Ping нужен для health-check; in-memory хранилище доступно всегда.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Outbox возвращает репозиторий для outbox worker.
func (s *Store) Outbox() *OutboxRepository {
	return &OutboxRepository{store: s}
}

// commit применяет изменения к копии таблиц и подменяет состояние только при успехе.
func (s *Store) commit(changes []change, messages []domain.OutboxMessage) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()
	affected := 0
	for _, apply := range changes {
		n, err := apply(next)
		if err != nil {
			return 0, err
		}
		affected += n
	}

	s.data = next
	now := s.now()
	for _, msg := range messages {
		s.outbox.insert(msg, now)
	}
	return affected, nil
}

func (s *Store) customer(id string) (domain.Customer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data.customers[id]
	return c, ok
}

func (s *Store) customers() []domain.Customer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.data.customers))
	for _, c := range s.data.customers {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		return a.ID < b.ID
	})
	return result
}

func (s *Store) product(id string) (domain.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data.products[id]
	return p, ok
}

func (s *Store) products() []domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.data.products))
	for _, p := range s.data.products {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// order собирает агрегат; при eager дополнительно подставляет клиента и товары.
func (s *Store) order(id string, eager bool) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.data.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return s.data.assemble(id, row, eager), true
}

func (s *Store) orders(match func(orderRow) bool) []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.data.orders))
	for id, row := range s.data.orders {
		if match != nil && !match(row) {
			continue
		}
		result = append(result, s.data.assemble(id, row, false))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].OrderDate.Equal(result[j].OrderDate) {
			return result[i].OrderDate.Before(result[j].OrderDate)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (s *Store) hasOrdersForCustomer(customerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.customerReferenced(customerID)
}

func (s *Store) hasItemsForProduct(productID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.productReferenced(productID)
}

var _ domain.UnitOfWorkFactory = (*Store)(nil)
