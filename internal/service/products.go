package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, classify("list products", err)
	}
	return products, nil
}

func (s *Service) FindProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, classify("find product", err)
	}
	return *p, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}

	at := s.timestamp()
	product := domain.Product{
		ID:        xid.New("prd"),
		SKU:       req.SKU,
		Name:      req.Name,
		Price:     req.Price,
		Quantity:  req.Quantity,
		CreatedAt: at,
		UpdatedAt: at,
	}
	err := s.inTx(ctx, "create_product", func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateProduct(ctx, product); err != nil {
			return err
		}
		return s.audit(ctx, tx, "product.create", "product", product.ID,
			fmt.Sprintf("name=%s,price=%s,stock=%d", product.Name, product.Price, product.Quantity))
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (s *Service) RestockProduct(ctx context.Context, id string, req domain.StockRequest) (domain.Product, error) {
	return s.moveStock(ctx, "restock", id, req, func(ctx context.Context, tx store.Tx, id string, qty int) (int, error) {
		return tx.IncreaseStock(ctx, id, qty, s.timestamp())
	})
}

// DecrementStock removes stock outside of an order, for example breakage.
// It fails with InsufficientStock rather than going below zero.
func (s *Service) DecrementStock(ctx context.Context, id string, req domain.StockRequest) (domain.Product, error) {
	return s.moveStock(ctx, "decrement_stock", id, req, func(ctx context.Context, tx store.Tx, id string, qty int) (int, error) {
		return tx.DecrementStock(ctx, id, qty, s.timestamp())
	})
}

func (s *Service) moveStock(ctx context.Context, op, id string, req domain.StockRequest, move func(context.Context, store.Tx, string, int) (int, error)) (domain.Product, error) {
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}
	id = strings.TrimSpace(id)

	var product *domain.Product
	err := s.inTx(ctx, op, func(ctx context.Context, tx store.Tx) error {
		remaining, err := move(ctx, tx, id, req.Qty)
		if err != nil {
			return err
		}
		if product, err = tx.GetProduct(ctx, id); err != nil {
			return err
		}
		return s.audit(ctx, tx, "product."+op, "product", id, fmt.Sprintf("qty=%d,remaining=%d", req.Qty, remaining))
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}
