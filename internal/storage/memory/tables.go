package memory

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

// change — отложенное изменение; возвращает число затронутых строк.
type change func(t *tables) (int, error)

// orderRow — строка таблицы orders без позиций.
type orderRow struct {
	CustomerID string
	OrderDate  time.Time
	Version    int64
}

// tables повторяет реляционную схему, включая ограничения внешних ключей.
type tables struct {
	customers map[string]domain.Customer
	products  map[string]domain.Product
	orders    map[string]orderRow
	// items хранит позиции заказа в порядке вставки.
	items map[string][]domain.OrderItem
}

func newTables() *tables {
	return &tables{
		customers: make(map[string]domain.Customer),
		products:  make(map[string]domain.Product),
		orders:    make(map[string]orderRow),
		items:     make(map[string][]domain.OrderItem),
	}
}

func (t *tables) clone() *tables {
	next := &tables{
		customers: make(map[string]domain.Customer, len(t.customers)),
		products:  make(map[string]domain.Product, len(t.products)),
		orders:    make(map[string]orderRow, len(t.orders)),
		items:     make(map[string][]domain.OrderItem, len(t.items)),
	}
	for k, v := range t.customers {
		next.customers[k] = v
	}
	for k, v := range t.products {
		next.products[k] = v
	}
	for k, v := range t.orders {
		next.orders[k] = v
	}
	for k, v := range t.items {
		next.items[k] = append([]domain.OrderItem(nil), v...)
	}
	return next
}

func (t *tables) assemble(id string, row orderRow, eager bool) domain.Order {
	order := domain.Order{
		ID:         id,
		CustomerID: row.CustomerID,
		OrderDate:  row.OrderDate,
		Version:    row.Version,
		Items:      make([]domain.OrderItem, 0, len(t.items[id])),
	}
	for _, item := range t.items[id] {
		if eager {
			if p, ok := t.products[item.ProductID]; ok {
				product := p
				item.Product = &product
			}
		}
		order.Items = append(order.Items, item)
	}
	if eager {
		if c, ok := t.customers[row.CustomerID]; ok {
			customer := c
			order.Customer = &customer
		}
	}
	return order
}

func (t *tables) customerReferenced(customerID string) bool {
	for _, row := range t.orders {
		if row.CustomerID == customerID {
			return true
		}
	}
	return false
}

func (t *tables) productReferenced(productID string) bool {
	for _, items := range t.items {
		for _, item := range items {
			if item.ProductID == productID {
				return true
			}
		}
	}
	return false
}

func (t *tables) emailTaken(email, exceptID string) bool {
	for id, c := range t.customers {
		if id != exceptID && c.Email == email {
			return true
		}
	}
	return false
}

func (t *tables) productNameTaken(name, exceptID string) bool {
	for id, p := range t.products {
		if id != exceptID && p.Name == name {
			return true
		}
	}
	return false
}

func insertCustomer(c domain.Customer) change {
	return func(t *tables) (int, error) {
		if _, exists := t.customers[c.ID]; exists {
			return 0, fmt.Errorf("%w: customer %s already exists", domain.ErrConstraintViolation, c.ID)
		}
		if t.emailTaken(c.Email, "") {
			return 0, domain.ErrDuplicateEmail
		}
		t.customers[c.ID] = c
		return 1, nil
	}
}

func updateCustomer(c domain.Customer) change {
	return func(t *tables) (int, error) {
		current, ok := t.customers[c.ID]
		if !ok {
			return 0, domain.ErrCustomerNotFound
		}
		if t.emailTaken(c.Email, c.ID) {
			return 0, domain.ErrDuplicateEmail
		}
		current.FirstName = c.FirstName
		current.LastName = c.LastName
		current.Email = c.Email
		t.customers[c.ID] = current
		return 1, nil
	}
}

func deleteCustomer(id string) change {
	return func(t *tables) (int, error) {
		if _, ok := t.customers[id]; !ok {
			return 0, domain.ErrCustomerNotFound
		}
		if t.customerReferenced(id) {
			return 0, domain.ErrCustomerHasOrders
		}
		delete(t.customers, id)
		return 1, nil
	}
}

func insertProduct(p domain.Product) change {
	return func(t *tables) (int, error) {
		if _, exists := t.products[p.ID]; exists {
			return 0, fmt.Errorf("%w: product %s already exists", domain.ErrConstraintViolation, p.ID)
		}
		if t.productNameTaken(p.Name, "") {
			return 0, domain.ErrDuplicateProductName
		}
		t.products[p.ID] = p
		return 1, nil
	}
}

func updateProduct(p domain.Product) change {
	return func(t *tables) (int, error) {
		current, ok := t.products[p.ID]
		if !ok {
			return 0, domain.ErrProductNotFound
		}
		if t.productNameTaken(p.Name, p.ID) {
			return 0, domain.ErrDuplicateProductName
		}
		current.Name = p.Name
		current.Price = p.Price
		t.products[p.ID] = current
		return 1, nil
	}
}

func deleteProduct(id string) change {
	return func(t *tables) (int, error) {
		if _, ok := t.products[id]; !ok {
			return 0, domain.ErrProductNotFound
		}
		if t.productReferenced(id) {
			return 0, domain.ErrProductInUse
		}
		delete(t.products, id)
		return 1, nil
	}
}

func insertOrder(o domain.Order) change {
	return func(t *tables) (int, error) {
		if _, exists := t.orders[o.ID]; exists {
			return 0, fmt.Errorf("%w: order %s already exists", domain.ErrConstraintViolation, o.ID)
		}
		if _, ok := t.customers[o.CustomerID]; !ok {
			return 0, fmt.Errorf("%w: customer %s", domain.ErrReferenceMissing, o.CustomerID)
		}
		t.orders[o.ID] = orderRow{CustomerID: o.CustomerID, OrderDate: o.OrderDate, Version: o.Version}

		affected := 1
		for _, item := range o.Items {
			item.OrderID = o.ID
			n, err := insertItem(item)(t)
			if err != nil {
				return 0, err
			}
			affected += n
		}
		return affected, nil
	}
}

func insertItem(item domain.OrderItem) change {
	return func(t *tables) (int, error) {
		if _, ok := t.orders[item.OrderID]; !ok {
			return 0, fmt.Errorf("%w: order %s", domain.ErrReferenceMissing, item.OrderID)
		}
		if _, ok := t.products[item.ProductID]; !ok {
			return 0, fmt.Errorf("%w: product %s", domain.ErrReferenceMissing, item.ProductID)
		}
		for _, existing := range t.items[item.OrderID] {
			if existing.ProductID == item.ProductID {
				return 0, domain.ErrDuplicateOrderItem
			}
		}
		item.Product = nil
		t.items[item.OrderID] = append(t.items[item.OrderID], item)
		return 1, nil
	}
}

func updateItemQuantity(orderID, productID string, quantity int32) change {
	return func(t *tables) (int, error) {
		items := t.items[orderID]
		for idx := range items {
			if items[idx].ProductID == productID {
				items[idx].Quantity = quantity
				return 1, nil
			}
		}
		return 0, domain.ErrOrderItemNotFound
	}
}

func deleteItem(orderID, productID string) change {
	return func(t *tables) (int, error) {
		items := t.items[orderID]
		for idx := range items {
			if items[idx].ProductID == productID {
				t.items[orderID] = append(items[:idx:idx], items[idx+1:]...)
				return 1, nil
			}
		}
		return 0, domain.ErrOrderItemNotFound
	}
}

// bumpVersion — аналог UPDATE ... WHERE version = expected.
func bumpVersion(orderID string, expected int64) change {
	return func(t *tables) (int, error) {
		row, ok := t.orders[orderID]
		if !ok || row.Version != expected {
			return 0, domain.ErrOrderVersionConflict
		}
		row.Version++
		t.orders[orderID] = row
		return 1, nil
	}
}

// deleteOrder удаляет заказ и каскадно его позиции.
func deleteOrder(id string) change {
	return func(t *tables) (int, error) {
		if _, ok := t.orders[id]; !ok {
			return 0, domain.ErrOrderNotFound
		}
		affected := 1 + len(t.items[id])
		delete(t.items, id)
		delete(t.orders, id)
		return affected, nil
	}
}
