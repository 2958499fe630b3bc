package service

import (
	"context"
	"fmt"
	"strings"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/store"
)

// defaultMinStock applies when a part is created without stock_minimo.
const defaultMinStock = 5

func (s *Service) ListServices(ctx context.Context) ([]domain.Service, error) {
	return s.repo.ListServices(ctx)
}

func (s *Service) GetService(ctx context.Context, id int64) (*domain.Service, error) {
	svc, err := s.repo.GetService(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("servicio %d: %w", id, err)
	}
	return svc, nil
}

func (s *Service) CreateService(ctx context.Context, req domain.ServiceCreateRequest) (*domain.Service, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.Price == nil {
		return nil, invalid("nombre y precio son obligatorios")
	}
	if req.Price.IsNegative() {
		return nil, invalid("precio no puede ser negativo")
	}

	return s.repo.CreateService(ctx, domain.Service{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Price:       req.Price.Round(2),
	})
}

func (s *Service) UpdateService(ctx context.Context, id int64, req domain.ServiceUpdateRequest) (*domain.Service, error) {
	svc, err := s.GetService(ctx, id)
	if err != nil {
		return nil, err
	}

	if v := trimmed(req.Name); v != nil {
		if *v == "" {
			return nil, invalid("nombre no puede estar vacío")
		}
		svc.Name = *v
	}
	if v := trimmed(req.Description); v != nil {
		svc.Description = *v
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return nil, invalid("precio no puede ser negativo")
		}
		svc.Price = req.Price.Round(2)
	}
	if req.Active != nil {
		svc.Active = *req.Active
	}

	updated, err := s.repo.UpdateService(ctx, *svc)
	if err != nil {
		return nil, fmt.Errorf("servicio %d: %w", id, err)
	}
	return updated, nil
}

func (s *Service) DeleteService(ctx context.Context, id int64) error {
	if err := s.repo.DeactivateService(ctx, id); err != nil {
		return fmt.Errorf("servicio %d: %w", id, err)
	}
	return nil
}

func (s *Service) ListParts(ctx context.Context, search string) ([]domain.Part, error) {
	return s.repo.ListParts(ctx, domain.PartFilter{Search: strings.TrimSpace(search)})
}

func (s *Service) GetPart(ctx context.Context, id int64) (*domain.Part, error) {
	part, err := s.repo.GetPart(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("repuesto %d: %w", id, err)
	}
	return part, nil
}

func (s *Service) CreatePart(ctx context.Context, req domain.PartCreateRequest) (*domain.Part, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.SalePrice == nil {
		return nil, invalid("nombre y precio_venta son obligatorios")
	}
	if req.SalePrice.IsNegative() {
		return nil, invalid("precio_venta no puede ser negativo")
	}
	if req.Stock < 0 {
		return nil, invalid("stock no puede ser negativo")
	}
	minStock := defaultMinStock
	if req.MinStock != nil {
		if *req.MinStock < 0 {
			return nil, invalid("stock_minimo no puede ser negativo")
		}
		minStock = *req.MinStock
	}

	part, err := s.repo.CreatePart(ctx, domain.Part{
		Name:      name,
		Brand:     strings.TrimSpace(req.Brand),
		SalePrice: req.SalePrice.Round(2),
		Stock:     req.Stock,
		MinStock:  minStock,
	})
	if err != nil {
		return nil, err
	}
	s.stockChanged(ctx)
	return part, nil
}

func (s *Service) UpdatePart(ctx context.Context, id int64, req domain.PartUpdateRequest) (*domain.Part, error) {
	patch := store.PartPatch{
		Name:     trimmed(req.Name),
		Brand:    trimmed(req.Brand),
		Stock:    req.Stock,
		MinStock: req.MinStock,
		Active:   req.Active,
	}
	if patch.Name != nil && *patch.Name == "" {
		return nil, invalid("nombre no puede estar vacío")
	}
	if req.SalePrice != nil {
		if req.SalePrice.IsNegative() {
			return nil, invalid("precio_venta no puede ser negativo")
		}
		price := req.SalePrice.Round(2)
		patch.SalePrice = &price
	}
	if req.Stock != nil && *req.Stock < 0 {
		return nil, invalid("stock no puede ser negativo")
	}
	if req.MinStock != nil && *req.MinStock < 0 {
		return nil, invalid("stock_minimo no puede ser negativo")
	}

	updated, err := s.repo.UpdatePart(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("repuesto %d: %w", id, err)
	}
	s.stockChanged(ctx)
	return updated, nil
}

func (s *Service) DeletePart(ctx context.Context, id int64) error {
	if err := s.repo.DeactivatePart(ctx, id); err != nil {
		return fmt.Errorf("repuesto %d: %w", id, err)
	}
	s.stockChanged(ctx)
	return nil
}

func (s *Service) LowStockParts(ctx context.Context) (domain.LowStockReport, error) {
	return s.restock.Report(ctx)
}
