package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/reconcile"
	"tallernegreira/backend/internal/store"
)

func (s *Store) CreateOrder(_ context.Context, order domain.Order, desired reconcile.Desired) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOrderRefs(order.VehicleID, order.TechnicianID, order.StatusID); err != nil {
		return nil, err
	}

	desired.SetServices = true
	desired.SetParts = true
	plan, err := reconcile.Build(0, nil, nil, desired, s.catalogFor(nil, nil, desired))
	if err != nil {
		return nil, err
	}

	order.ID = s.id("order")
	order.Active = true
	if order.ReceivedAt.IsZero() {
		order.ReceivedAt = s.now()
	}
	s.orders[order.ID] = order
	s.applyPlan(order.ID, plan)

	return s.orderView(s.orders[order.ID]), nil
}

func (s *Store) checkOrderRefs(vehicleID, technicianID, statusID int64) error {
	if v, ok := s.vehicles[vehicleID]; !ok || !v.Active {
		return fmt.Errorf("%w: auto no encontrado o inactivo", store.ErrInvalidInput)
	}
	if u, ok := s.users[technicianID]; !ok || !u.Active {
		return fmt.Errorf("%w: técnico no encontrado o inactivo", store.ErrInvalidInput)
	}
	if s.statusName(statusID) == "" {
		return fmt.Errorf("%w: estado %d no existe", store.ErrInvalidInput, statusID)
	}
	return nil
}

func (s *Store) catalogFor(services []domain.OrderServiceLine, parts []domain.OrderPartLine, desired reconcile.Desired) reconcile.Catalog {
	catalog := reconcile.Catalog{Services: map[int64]domain.Service{}, Parts: map[int64]domain.Part{}}
	for _, id := range reconcile.ReferencedServices(services, desired) {
		if svc, ok := s.services[id]; ok {
			catalog.Services[id] = svc
		}
	}
	for _, id := range reconcile.ReferencedParts(parts, desired) {
		if p, ok := s.parts[id]; ok {
			catalog.Parts[id] = p
		}
	}
	return catalog
}

// applyPlan writes the planned lines and stock movements. The caller holds the
// write lock and has already validated the plan.
func (s *Store) applyPlan(orderID int64, plan reconcile.Plan) {
	services := make([]domain.OrderServiceLine, 0, len(plan.Services))
	for _, line := range plan.Services {
		if line.ID == 0 {
			line.ID = s.id("order_service")
		}
		line.OrderID = orderID
		services = append(services, line)
	}
	parts := make([]domain.OrderPartLine, 0, len(plan.Parts))
	for _, line := range plan.Parts {
		if line.ID == 0 {
			line.ID = s.id("order_part")
		}
		line.OrderID = orderID
		parts = append(parts, line)
	}
	s.serviceLines[orderID] = services
	s.partLines[orderID] = parts

	for partID, delta := range plan.StockDelta {
		if p, ok := s.parts[partID]; ok {
			p.Stock += delta
			s.parts[partID] = p
		}
	}

	order := s.orders[orderID]
	order.EstimatedTotal = plan.Total
	s.orders[orderID] = order
}

func (s *Store) orderView(o domain.Order) *domain.Order {
	if v, ok := s.vehicles[o.VehicleID]; ok {
		o.Plate, o.Brand, o.Model, o.Year, o.VIN = v.Plate, v.Brand, v.Model, v.Year, v.VIN
		o.ClientID = v.ClientID
		if c, ok := s.clients[v.ClientID]; ok {
			o.ClientName = c.FullName()
			o.ClientCI = c.CI
		}
	}
	if u, ok := s.users[o.TechnicianID]; ok {
		o.TechnicianName = u.FullName()
	}
	o.StatusName = s.statusName(o.StatusID)

	o.Services = make([]domain.OrderServiceLine, 0, len(s.serviceLines[o.ID]))
	for _, line := range s.serviceLines[o.ID] {
		line.ServiceName = s.services[line.ServiceID].Name
		o.Services = append(o.Services, line)
	}
	o.Parts = make([]domain.OrderPartLine, 0, len(s.partLines[o.ID]))
	for _, line := range s.partLines[o.ID] {
		line.PartName = s.parts[line.PartID].Name
		o.Parts = append(o.Parts, line)
	}
	o.Payments = s.orderPayments(o.ID)
	return &o
}

func (s *Store) orderPayments(orderID int64) []domain.Payment {
	payments := make([]domain.Payment, 0)
	for _, p := range s.payments {
		if p.OrderID == orderID && p.Active {
			payments = append(payments, p)
		}
	}
	slices.SortFunc(payments, func(a, b domain.Payment) int {
		if c := a.PaidAt.Compare(b.PaidAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return payments
}

func (s *Store) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok || !order.Active {
		return nil, store.ErrNotFound
	}
	return s.orderView(order), nil
}

func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) (domain.PageResult[domain.Order], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if !o.Active {
			continue
		}
		if filter.StatusID != 0 && o.StatusID != filter.StatusID {
			continue
		}
		view := s.orderView(o)
		if filter.ClientID != 0 && view.ClientID != filter.ClientID {
			continue
		}
		if q := filter.Search; q != "" && !containsFold(view.Plate, q) && !containsFold(view.Brand, q) && !containsFold(view.Model, q) {
			continue
		}
		orders = append(orders, *view)
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		if c := b.ReceivedAt.Compare(a.ReceivedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return paginate(orders, filter.Page), nil
}

func (s *Store) UpdateOrder(_ context.Context, id int64, patch store.OrderPatch, desired reconcile.Desired) (*domain.Order, reconcile.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok || !order.Active {
		return nil, reconcile.Plan{}, store.ErrNotFound
	}

	if patch.TechnicianID != nil {
		order.TechnicianID = *patch.TechnicianID
	}
	if patch.StatusID != nil {
		order.StatusID = *patch.StatusID
	}
	if patch.ProblemReported != nil {
		order.ProblemReported = *patch.ProblemReported
	}
	if patch.Diagnosis != nil {
		order.Diagnosis = *patch.Diagnosis
	}
	if patch.DeliveredAt != nil {
		at := *patch.DeliveredAt
		order.DeliveredAt = &at
	}
	if err := s.checkOrderRefs(order.VehicleID, order.TechnicianID, order.StatusID); err != nil {
		return nil, reconcile.Plan{}, err
	}

	services, parts := s.serviceLines[id], s.partLines[id]
	plan, err := reconcile.Build(id, services, parts, desired, s.catalogFor(services, parts, desired))
	if err != nil {
		return nil, reconcile.Plan{}, err
	}

	s.orders[id] = order
	s.applyPlan(id, plan)
	return s.orderView(s.orders[id]), plan, nil
}

func (s *Store) DeactivateOrder(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok || !order.Active {
		return nil, store.ErrNotFound
	}
	if len(s.orderPayments(id)) > 0 {
		return nil, store.ErrHasPayments
	}

	for _, line := range s.partLines[id] {
		if p, ok := s.parts[line.PartID]; ok {
			p.Stock += line.Quantity
			s.parts[line.PartID] = p
		}
	}
	order.Active = false
	s.orders[id] = order
	return s.orderView(order), nil
}

func (s *Store) CreatePayment(_ context.Context, payment domain.Payment, check store.PaymentCheck) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[payment.OrderID]
	if !ok || !order.Active {
		return nil, store.ErrNotFound
	}
	if check != nil {
		if err := check(*s.orderView(order)); err != nil {
			return nil, err
		}
	}

	payment.ID = s.id("payment")
	payment.Active = true
	if payment.PaidAt.IsZero() {
		payment.PaidAt = s.now()
	}
	s.payments[payment.ID] = payment
	return s.paymentView(payment), nil
}

func (s *Store) paymentView(p domain.Payment) *domain.Payment {
	if o, ok := s.orders[p.OrderID]; ok {
		view := s.orderView(o)
		p.ClientName = view.ClientName
		p.Plate = view.Plate
		total := o.EstimatedTotal
		p.OrderTotal = &total
	}
	return &p
}

func (s *Store) GetPayment(_ context.Context, id int64) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, ok := s.payments[id]
	if !ok || !payment.Active {
		return nil, store.ErrNotFound
	}
	return s.paymentView(payment), nil
}

func inRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

func (s *Store) ListPayments(_ context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := make([]domain.Payment, 0)
	for _, p := range s.payments {
		if p.Active && inRange(p.PaidAt, filter.From, filter.To) {
			view := s.paymentView(p)
			view.OrderTotal = nil
			payments = append(payments, *view)
		}
	}
	slices.SortFunc(payments, func(a, b domain.Payment) int {
		if c := b.PaidAt.Compare(a.PaidAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(payments) > filter.Limit {
		payments = payments[:filter.Limit]
	}
	return payments, nil
}

func (s *Store) ListOrderPayments(_ context.Context, orderID int64) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.orders[orderID]; !ok {
		return nil, store.ErrNotFound
	}
	return s.orderPayments(orderID), nil
}

func (s *Store) DeactivatePayment(_ context.Context, id int64) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[id]
	if !ok || !payment.Active {
		return nil, store.ErrNotFound
	}
	payment.Active = false
	s.payments[id] = payment
	return s.paymentView(payment), nil
}

func (s *Store) RevenueSummary(_ context.Context, from, to *time.Time) (domain.RevenueSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.RevenueSummary{TotalIncome: decimal.Zero}
	for _, p := range s.payments {
		if p.Active && inRange(p.PaidAt, from, to) {
			summary.TotalIncome = summary.TotalIncome.Add(p.Amount)
			summary.TotalPayments++
		}
	}
	return summary, nil
}

func (s *Store) DashboardMetrics(_ context.Context, monthStart, monthEnd time.Time) (domain.DashboardMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics := domain.DashboardMetrics{
		EstimatedIncome: decimal.Zero,
		RevenueMonth:    decimal.Zero,
		OrdersByStatus:  map[string]int{},
	}
	for _, o := range s.orders {
		if !o.Active {
			continue
		}
		if !o.ReceivedAt.Before(monthStart) && o.ReceivedAt.Before(monthEnd) {
			metrics.TotalOrdersMonth++
		}
		name := s.statusName(o.StatusID)
		metrics.OrdersByStatus[name]++
		if slices.Contains(domain.IncomeStatuses, name) {
			metrics.EstimatedIncome = metrics.EstimatedIncome.Add(o.EstimatedTotal)
		}
	}
	for _, c := range s.clients {
		if c.Active {
			metrics.ClientsTotal++
		}
	}
	for _, p := range s.parts {
		if p.Active && p.LowStock() {
			metrics.LowStockParts++
		}
	}
	for _, p := range s.payments {
		if p.Active && !p.PaidAt.Before(monthStart) && p.PaidAt.Before(monthEnd) {
			metrics.RevenueMonth = metrics.RevenueMonth.Add(p.Amount)
		}
	}
	return metrics, nil
}
