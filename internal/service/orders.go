package service

import (
	"context"
	"fmt"
	"strings"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/events"
	"tallernegreira/backend/internal/reconcile"
	"tallernegreira/backend/internal/store"
)

func (s *Service) ListStatuses(ctx context.Context) ([]domain.OrderStatus, error) {
	return s.repo.ListStatuses(ctx)
}

func (s *Service) statusByName(ctx context.Context, name string) (domain.OrderStatus, error) {
	statuses, err := s.repo.ListStatuses(ctx)
	if err != nil {
		return domain.OrderStatus{}, err
	}
	for _, st := range statuses {
		if st.Name == name {
			return st, nil
		}
	}
	return domain.OrderStatus{}, fmt.Errorf("estado %q: %w", name, store.ErrNotFound)
}

func partLines(req []domain.PartLineRequest) []reconcile.PartLine {
	lines := make([]reconcile.PartLine, 0, len(req))
	for _, p := range req {
		lines = append(lines, reconcile.PartLine{PartID: p.PartID, Quantity: p.Quantity})
	}
	return lines
}

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (*domain.Order, error) {
	if req.VehicleID <= 0 || req.TechnicianID <= 0 {
		return nil, invalid("auto_id y tecnico_id son obligatorios")
	}

	order := domain.Order{
		VehicleID:       req.VehicleID,
		TechnicianID:    req.TechnicianID,
		StatusID:        req.StatusID,
		ProblemReported: strings.TrimSpace(req.ProblemReported),
		Diagnosis:       strings.TrimSpace(req.Diagnosis),
		DeliveredAt:     req.DeliveredAt,
	}
	if order.StatusID == 0 {
		pending, err := s.statusByName(ctx, domain.StatusPending)
		if err != nil {
			return nil, err
		}
		order.StatusID = pending.ID
	} else if order.DeliveredAt == nil {
		delivered, err := s.statusByName(ctx, domain.StatusDelivered)
		if err != nil {
			return nil, err
		}
		if order.StatusID == delivered.ID {
			now := s.now()
			order.DeliveredAt = &now
		}
	}

	created, err := s.repo.CreateOrder(ctx, order, reconcile.Desired{
		Services: req.Services,
		Parts:    partLines(req.Parts),
	})
	if err != nil {
		return nil, fmt.Errorf("crear orden: %w", err)
	}

	consumed := map[int64]int{}
	for _, line := range created.Parts {
		consumed[line.PartID] -= line.Quantity
	}
	s.metrics.OrderCreated()
	s.metrics.StockMoved(consumed)
	if len(consumed) > 0 {
		s.stockChanged(ctx)
	} else {
		s.reportsChanged(ctx)
	}
	s.publish(ctx, events.OrderCreated, orderKey(created.ID), created)
	s.logger.WithField("orden_id", created.ID).Info("order created")
	return created, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("orden %d: %w", id, err)
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) (domain.PageResult[domain.Order], error) {
	filter.Search = strings.TrimSpace(filter.Search)
	return s.repo.ListOrders(ctx, filter)
}

// UpdateOrder applies header changes and, when present, replaces the service
// or part lines of the order. Moving an order to Entregado stamps
// fecha_entrega unless it is already set or given.
func (s *Service) UpdateOrder(ctx context.Context, id int64, req domain.OrderUpdateRequest) (*domain.Order, error) {
	current, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	patch := store.OrderPatch{
		TechnicianID:    req.TechnicianID,
		StatusID:        req.StatusID,
		ProblemReported: trimmed(req.ProblemReported),
		Diagnosis:       trimmed(req.Diagnosis),
		DeliveredAt:     req.DeliveredAt,
	}
	if patch.TechnicianID != nil && *patch.TechnicianID <= 0 {
		return nil, invalid("tecnico_id inválido")
	}
	if patch.StatusID != nil && *patch.StatusID <= 0 {
		return nil, invalid("estado_id inválido")
	}

	desired := reconcile.Desired{}
	if req.Services != nil {
		desired.Services = *req.Services
		desired.SetServices = true
	}
	if req.Parts != nil {
		desired.Parts = partLines(*req.Parts)
		desired.SetParts = true
	}
	return s.applyOrderChange(ctx, current, patch, desired)
}

func (s *Service) UpdateOrderStatus(ctx context.Context, id int64, statusID int64) (*domain.Order, error) {
	if statusID <= 0 {
		return nil, invalid("estado_id es obligatorio")
	}
	current, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.applyOrderChange(ctx, current, store.OrderPatch{StatusID: &statusID}, reconcile.Desired{})
}

// AddServiceToOrder adds one service line. A service already on the order is
// left as it is.
func (s *Service) AddServiceToOrder(ctx context.Context, id int64, serviceID int64) (*domain.Order, error) {
	if serviceID <= 0 {
		return nil, invalid("servicio_id es obligatorio")
	}
	current, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.applyOrderChange(ctx, current, store.OrderPatch{}, reconcile.Desired{
		Services:    []int64{serviceID},
		SetServices: true,
		Additive:    true,
	})
}

// AddPartToOrder adds quantity units of a part, merging into the existing
// line for that part when there is one.
func (s *Service) AddPartToOrder(ctx context.Context, id int64, partID int64, quantity int) (*domain.Order, error) {
	if partID <= 0 {
		return nil, invalid("repuesto_id es obligatorio")
	}
	if quantity < 1 {
		return nil, invalid("cantidad debe ser mayor a cero")
	}
	current, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.applyOrderChange(ctx, current, store.OrderPatch{}, reconcile.Desired{
		Parts:    []reconcile.PartLine{{PartID: partID, Quantity: quantity}},
		SetParts: true,
		Additive: true,
	})
}

func (s *Service) applyOrderChange(ctx context.Context, current *domain.Order, patch store.OrderPatch, desired reconcile.Desired) (*domain.Order, error) {
	statusChanged := patch.StatusID != nil && *patch.StatusID != current.StatusID
	if statusChanged && patch.DeliveredAt == nil && current.DeliveredAt == nil {
		delivered, err := s.statusByName(ctx, domain.StatusDelivered)
		if err != nil {
			return nil, fmt.Errorf("orden %d: %w", current.ID, err)
		}
		if delivered.ID == *patch.StatusID {
			now := s.now()
			patch.DeliveredAt = &now
		}
	}

	updated, plan, err := s.repo.UpdateOrder(ctx, current.ID, patch, desired)
	if err != nil {
		return nil, fmt.Errorf("orden %d: %w", current.ID, err)
	}

	s.metrics.StockMoved(plan.StockDelta)
	if len(plan.StockDelta) > 0 {
		s.stockChanged(ctx)
	} else {
		s.reportsChanged(ctx)
	}
	s.publish(ctx, events.OrderUpdated, orderKey(updated.ID), updated)
	if statusChanged {
		s.publish(ctx, events.OrderStatusChanged, orderKey(updated.ID), map[string]any{
			"orden_id":        updated.ID,
			"estado_anterior": current.StatusName,
			"estado_nuevo":    updated.StatusName,
		})
	}
	return updated, nil
}

// DeleteOrder soft-deletes an order and returns its parts to stock. Orders
// with active payments are kept.
func (s *Service) DeleteOrder(ctx context.Context, id int64) error {
	order, err := s.repo.DeactivateOrder(ctx, id)
	if err != nil {
		return fmt.Errorf("orden %d: %w", id, err)
	}

	refunded := map[int64]int{}
	for _, line := range order.Parts {
		refunded[line.PartID] += line.Quantity
	}
	s.metrics.StockMoved(refunded)
	s.stockChanged(ctx)
	s.publish(ctx, events.OrderDeleted, orderKey(id), map[string]any{"orden_id": id})
	return nil
}

// OrderInvoice renders the printable service order.
func (s *Service) OrderInvoice(ctx context.Context, id int64) ([]byte, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	pdf, err := s.invoices.Bytes(*order)
	if err != nil {
		return nil, fmt.Errorf("render invoice %d: %w", id, err)
	}
	return pdf, nil
}
