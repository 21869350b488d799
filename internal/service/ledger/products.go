package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/service/orders"
)

// ProductService управляет каталогом.
type ProductService struct {
	*base
	manager *orders.Manager
}

// ProductInput — изменяемые поля товара.
type ProductInput struct {
	Name  string
	Price decimal.Decimal
}

func (in ProductInput) apply(p domain.Product) domain.Product {
	p.Name = in.Name
	p.Price = in.Price
	return p.Normalize()
}

// Create обрезает название, проверяет и сохраняет товар.
func (s *ProductService) Create(ctx context.Context, in ProductInput) (product domain.Product, err error) {
	ctx, finish := s.instrument(ctx, "create_product")
	defer func() { finish(err) }()

	product = in.apply(domain.Product{ID: s.cfg.newID(), CreatedAt: s.timestamp()})
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	err = s.write(ctx, "create_product", func(_ context.Context, uow domain.UnitOfWork) error {
		return uow.Products().Add(product)
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// Get возвращает товар.
func (s *ProductService) Get(ctx context.Context, id string) (product domain.Product, err error) {
	err = s.read(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		product, err = uow.Products().GetByID(ctx, id)
		return err
	})
	return product, err
}

// List возвращает каталог по возрастанию названия.
func (s *ProductService) List(ctx context.Context) (products []domain.Product, err error) {
	err = s.read(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		products, err = uow.Products().GetAll(ctx)
		return err
	})
	return products, err
}

// Update перезаписывает название и цену. Позиции существующих заказов сохраняют свой снимок цены.
func (s *ProductService) Update(ctx context.Context, id string, in ProductInput) (product domain.Product, err error) {
	ctx, finish := s.instrument(ctx, "update_product", attribute.String("product.id", id))
	defer func() { finish(err) }()

	if err := in.apply(domain.Product{}).Validate(); err != nil {
		return domain.Product{}, err
	}

	err = s.write(ctx, "update_product", func(ctx context.Context, uow domain.UnitOfWork) error {
		existing, err := uow.Products().GetByID(ctx, id)
		if err != nil {
			return err
		}
		product = in.apply(existing)
		return uow.Products().Update(product)
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// UpdatePrice меняет только цену товара.
func (s *ProductService) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) (product domain.Product, err error) {
	ctx, finish := s.instrument(ctx, "update_product_price", attribute.String("product.id", id))
	defer func() { finish(err) }()

	if err := (domain.Product{Name: "-", Price: price}).Validate(); err != nil {
		return domain.Product{}, err
	}

	err = s.write(ctx, "update_product_price", func(ctx context.Context, uow domain.UnitOfWork) error {
		product, err = uow.Products().GetByID(ctx, id)
		if err != nil {
			return err
		}
		product.Price = price
		return uow.Products().Update(product)
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// Delete удаляет товар, если он не используется в заказах.
func (s *ProductService) Delete(ctx context.Context, id string) error {
	return s.manager.DeleteProduct(ctx, id)
}
