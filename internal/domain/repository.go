package domain

import "context"

// UnitOfWork объединяет изменения одной логической операции.
// Чтения видят только зафиксированное состояние, методы Add/Update/Remove лишь
// ставят изменения в очередь. Всё поставленное становится видимым только после
// успешного Commit; при ошибке Commit не применяется ничего.
// Единица работы не предназначена для конкурентного использования.
type UnitOfWork interface {
	Customers() CustomerRepository
	Products() ProductRepository
	Orders() OrderRepository
	Outbox() OutboxWriter
	// Commit атомарно применяет все поставленные изменения и возвращает число затронутых строк.
	Commit(ctx context.Context) (int, error)
	// Rollback отбрасывает изменения. Повторный вызов и вызов после Commit безопасны.
	Rollback() error
}

// UnitOfWorkFactory открывает новые единицы работы над хранилищем.
type UnitOfWorkFactory interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// CustomerRepository описывает доступ к клиентам внутри единицы работы.
type CustomerRepository interface {
	// GetByID возвращает клиента или ErrCustomerNotFound.
	GetByID(ctx context.Context, id string) (Customer, error)
	// GetAll возвращает клиентов, отсортированных по фамилии, имени и ID.
	GetAll(ctx context.Context) ([]Customer, error)
	Add(customer Customer) error
	// Update перезаписывает FirstName, LastName и Email.
	Update(customer Customer) error
	Remove(id string) error
}

// ProductRepository описывает доступ к каталогу товаров внутри единицы работы.
type ProductRepository interface {
	// GetByID возвращает товар или ErrProductNotFound.
	GetByID(ctx context.Context, id string) (Product, error)
	// GetAll возвращает товары по возрастанию названия.
	GetAll(ctx context.Context) ([]Product, error)
	Add(product Product) error
	// Update перезаписывает Name и Price. Снимки цен в заказах не меняются.
	Update(product Product) error
	Remove(id string) error
}

// OrderRepository описывает доступ к агрегату заказа внутри единицы работы.
type OrderRepository interface {
	// GetByID возвращает заказ с позициями или ErrOrderNotFound.
	GetByID(ctx context.Context, id string) (Order, error)
	// GetByIDWithItems дополнительно загружает клиента и товар каждой позиции.
	GetByIDWithItems(ctx context.Context, id string) (Order, error)
	// GetAll возвращает все заказы по возрастанию даты, затем ID.
	GetAll(ctx context.Context) ([]Order, error)
	// GetByCustomerID возвращает заказы клиента в том же порядке, что и GetAll.
	GetByCustomerID(ctx context.Context, customerID string) ([]Order, error)
	// ExistsForCustomer сообщает, ссылается ли на клиента хотя бы один заказ.
	ExistsForCustomer(ctx context.Context, customerID string) (bool, error)
	// ExistsForProduct сообщает, ссылается ли на товар хотя бы одна позиция.
	ExistsForProduct(ctx context.Context, productID string) (bool, error)

	// Add ставит в очередь вставку заказа вместе со всеми позициями.
	Add(order Order) error
	AddItem(item OrderItem) error
	UpdateItemQuantity(orderID, productID string, quantity int32) error
	RemoveItem(orderID, productID string) error
	// BumpVersion увеличивает версию заказа, если текущая равна expected,
	// иначе Commit завершится ErrOrderVersionConflict.
	BumpVersion(orderID string, expected int64) error
	// Remove ставит в очередь удаление заказа; позиции удаляются каскадно.
	Remove(id string) error
}
