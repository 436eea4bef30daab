package service

import (
	"context"
	"errors"
	"strings"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

// ProductService инкапсулирует бизнес-логику вокруг товаров
type ProductService struct {
	repo repository.ProductRepository
}

func NewProductService(repo repository.ProductRepository) *ProductService {
	return &ProductService{repo: repo}
}

func validateProduct(p domain.Product) error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return domain.Validationf("name is required")
	case p.Price.IsNegative():
		return domain.Validationf("price must not be negative")
	case p.Stock < 0:
		return domain.Validationf("stock must not be negative")
	}
	return nil
}

// Create добавляет товар в каталог; только для персонала
func (s *ProductService) Create(ctx context.Context, id domain.Identity, p domain.Product) (*domain.Product, error) {
	if !id.Staff {
		return nil, domain.ErrPermissionDenied
	}
	if strings.TrimSpace(p.SKU) == "" {
		return nil, domain.Validationf("sku is required")
	}
	if err := validateProduct(p); err != nil {
		return nil, err
	}
	cp := p
	cp.Price = cp.Price.Round(2)
	if err := s.repo.Create(ctx, &cp); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.Validationf("product with sku %q already exists", p.SKU)
		}
		return nil, err
	}
	return &cp, nil
}

func (s *ProductService) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	if id <= 0 {
		return nil, domain.Validationf("invalid product id")
	}
	return s.repo.GetByID(ctx, id)
}

// Update меняет название, цену, остаток и активность; sku неизменяем. Только для персонала
func (s *ProductService) Update(ctx context.Context, id domain.Identity, p domain.Product) (*domain.Product, error) {
	if !id.Staff {
		return nil, domain.ErrPermissionDenied
	}
	if p.ID <= 0 {
		return nil, domain.Validationf("invalid product id")
	}
	if err := validateProduct(p); err != nil {
		return nil, err
	}
	cur, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	cur.Name = p.Name
	cur.Price = p.Price.Round(2)
	cur.Stock = p.Stock
	cur.Active = p.Active
	if err := s.repo.Update(ctx, cur); err != nil {
		return nil, err
	}
	return cur, nil
}

func (s *ProductService) List(ctx context.Context, f repository.ProductFilter) ([]domain.Product, error) {
	return s.repo.List(ctx, f)
}
