package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/reconcile"
)

var (
	ErrNotFound     = errors.New("no encontrado")
	ErrConflict     = errors.New("ya existe")
	ErrInvalidInput = errors.New("datos inválidos")
	// ErrInsufficientStock is shared with the reconcile planner so callers can
	// match either with errors.Is.
	ErrInsufficientStock = reconcile.ErrInsufficientStock
	// ErrHasPayments rejects deleting an order that still has active payments.
	ErrHasPayments = errors.New("la orden tiene pagos activos")
	// ErrConcurrent reports a transaction that lost a serialization race.
	ErrConcurrent = errors.New("operación concurrente, reintente")
)

// OrderPatch carries the header fields of an order update. Nil means unchanged.
type OrderPatch struct {
	TechnicianID    *int64
	StatusID        *int64
	ProblemReported *string
	Diagnosis       *string
	DeliveredAt     *time.Time
}

// PartPatch carries a partial part update. Nil means unchanged, so concurrent
// stock movements survive edits that do not name stock.
type PartPatch struct {
	Name      *string
	Brand     *string
	SalePrice *decimal.Decimal
	Stock     *int
	MinStock  *int
	Active    *bool
}

// PaymentCheck runs inside the payment transaction with the order locked.
type PaymentCheck func(order domain.Order) error

type Repository interface {
	Ping(ctx context.Context) error

	ListRoles(ctx context.Context) ([]domain.Role, error)
	ListStatuses(ctx context.Context) ([]domain.OrderStatus, error)

	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context, roleName string) ([]domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) (*domain.User, error)
	UpdateUserPassword(ctx context.Context, id int64, password string) error
	DeactivateUser(ctx context.Context, id int64) error

	CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	GetClient(ctx context.Context, id int64) (*domain.Client, error)
	ListClients(ctx context.Context, filter domain.ClientFilter) (domain.PageResult[domain.Client], error)
	UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	DeactivateClient(ctx context.Context, id int64) error

	CreateVehicle(ctx context.Context, vehicle domain.Vehicle) (*domain.Vehicle, error)
	GetVehicle(ctx context.Context, id int64) (*domain.Vehicle, error)
	ListVehicles(ctx context.Context, clientID int64) ([]domain.Vehicle, error)
	UpdateVehicle(ctx context.Context, vehicle domain.Vehicle) (*domain.Vehicle, error)
	DeactivateVehicle(ctx context.Context, id int64) error

	CreateService(ctx context.Context, svc domain.Service) (*domain.Service, error)
	GetService(ctx context.Context, id int64) (*domain.Service, error)
	ListServices(ctx context.Context) ([]domain.Service, error)
	UpdateService(ctx context.Context, svc domain.Service) (*domain.Service, error)
	DeactivateService(ctx context.Context, id int64) error

	CreatePart(ctx context.Context, part domain.Part) (*domain.Part, error)
	GetPart(ctx context.Context, id int64) (*domain.Part, error)
	ListParts(ctx context.Context, filter domain.PartFilter) ([]domain.Part, error)
	UpdatePart(ctx context.Context, id int64, patch PartPatch) (*domain.Part, error)
	DeactivatePart(ctx context.Context, id int64) error
	ListLowStockParts(ctx context.Context) ([]domain.Part, error)

	CreateOrder(ctx context.Context, order domain.Order, desired reconcile.Desired) (*domain.Order, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) (domain.PageResult[domain.Order], error)
	UpdateOrder(ctx context.Context, id int64, patch OrderPatch, desired reconcile.Desired) (*domain.Order, reconcile.Plan, error)
	DeactivateOrder(ctx context.Context, id int64) (*domain.Order, error)

	CreatePayment(ctx context.Context, payment domain.Payment, check PaymentCheck) (*domain.Payment, error)
	GetPayment(ctx context.Context, id int64) (*domain.Payment, error)
	ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error)
	ListOrderPayments(ctx context.Context, orderID int64) ([]domain.Payment, error)
	DeactivatePayment(ctx context.Context, id int64) (*domain.Payment, error)
	RevenueSummary(ctx context.Context, from, to *time.Time) (domain.RevenueSummary, error)

	DashboardMetrics(ctx context.Context, monthStart, monthEnd time.Time) (domain.DashboardMetrics, error)
}

// MonthRange returns the first instant of the UTC month containing t and the
// first instant of the following month.
func MonthRange(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// ReorderSuggestion is how many units bring a part back to twice its minimum.
func ReorderSuggestion(p domain.Part) int {
	n := 2*p.MinStock - p.Stock
	if n < 0 {
		return 0
	}
	return n
}
