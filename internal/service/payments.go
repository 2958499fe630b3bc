package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/events"
)

const defaultHistoryLimit = 1000

// CreatePayment records a payment against a finished or delivered order. The
// amount may not exceed the outstanding balance by more than the tolerance.
func (s *Service) CreatePayment(ctx context.Context, req domain.PaymentCreateRequest) (*domain.PaymentResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	if req.OrderID <= 0 {
		return nil, invalid("orden_id es obligatorio")
	}
	if req.Amount == nil || !req.Amount.IsPositive() {
		return nil, invalid("monto debe ser mayor a cero")
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		return nil, invalid("metodo_pago es obligatorio")
	}
	amount := req.Amount.Round(2)

	payment, err := s.repo.CreatePayment(ctx, domain.Payment{
		OrderID:   req.OrderID,
		Amount:    amount,
		PaidAt:    s.now(),
		Method:    method,
		Reference: strings.TrimSpace(req.Reference),
		UserID:    actor.UserID,
	}, func(order domain.Order) error {
		if !slices.Contains(domain.PayableStatuses, order.StatusName) {
			return invalid("solo se registran pagos de órdenes finalizadas o entregadas (estado actual: %s)", order.StatusName)
		}
		balance := order.Balance()
		if amount.GreaterThan(balance.Outstanding.Add(domain.PaymentTolerance)) {
			return invalid("el monto %s excede el saldo pendiente %s", amount.StringFixed(2), balance.Outstanding.StringFixed(2))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pago de orden %d: %w", req.OrderID, err)
	}

	balance, err := s.balance(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	s.metrics.PaymentRecorded(payment.Amount.InexactFloat64())
	s.reportsChanged(ctx)
	s.publish(ctx, events.PaymentRecorded, orderKey(payment.OrderID), payment)
	s.logger.WithField("orden_id", payment.OrderID).WithField("pago_id", payment.ID).Info("payment recorded")
	return &domain.PaymentResponse{Payment: *payment, Balance: balance}, nil
}

func (s *Service) balance(ctx context.Context, orderID int64) (domain.Balance, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Balance{}, err
	}
	balance := order.Balance()
	balance.OrderID = order.ID
	return balance, nil
}

func (s *Service) GetPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	payment, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("pago %d: %w", id, err)
	}
	return payment, nil
}

// PaymentHistory lists active payments newest first.
func (s *Service) PaymentHistory(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, invalid("fecha_fin no puede ser anterior a fecha_inicio")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	return s.repo.ListPayments(ctx, filter)
}

func (s *Service) Revenue(ctx context.Context, from, to *time.Time) (domain.RevenueSummary, error) {
	if from != nil && to != nil && to.Before(*from) {
		return domain.RevenueSummary{}, invalid("fecha_fin no puede ser anterior a fecha_inicio")
	}
	return s.repo.RevenueSummary(ctx, from, to)
}

func (s *Service) OrderBalance(ctx context.Context, orderID int64) (*domain.OrderBalanceResponse, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListOrderPayments(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("pagos de la orden %d: %w", orderID, err)
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	balance := domain.ComputeBalance(order.EstimatedTotal, payments)
	balance.OrderID = order.ID
	return &domain.OrderBalanceResponse{
		Balance:        balance,
		EstimatedTotal: order.EstimatedTotal,
		StatusName:     order.StatusName,
		Payments:       payments,
	}, nil
}

func (s *Service) VoidPayment(ctx context.Context, id int64) error {
	payment, err := s.repo.DeactivatePayment(ctx, id)
	if err != nil {
		return fmt.Errorf("pago %d: %w", id, err)
	}
	s.reportsChanged(ctx)
	s.publish(ctx, events.PaymentVoided, orderKey(payment.OrderID), map[string]any{
		"pago_id":  payment.ID,
		"orden_id": payment.OrderID,
		"monto":    payment.Amount,
	})
	return nil
}
