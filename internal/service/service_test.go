package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/events"
	"tallernegreira/backend/internal/reconcile"
	"tallernegreira/backend/internal/store"
	"tallernegreira/backend/internal/store/memory"
)

const (
	statusPending   int64 = 1
	statusFinished  int64 = 3
	statusDelivered int64 = 4
	mechanicID      int64 = 3
	seededVehicle   int64 = 1
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestService() (*Service, *memory.Store, *recordingPublisher) {
	repo := memory.NewSeeded()
	pub := &recordingPublisher{}
	return New(repo, Options{Publisher: pub}), repo, pub
}

func actorCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: 1, Email: "admin@taller.com", Role: domain.RoleAdmin})
}

func money(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func partStock(t *testing.T, repo *memory.Store, id int64) int {
	t.Helper()
	part, err := repo.GetPart(context.Background(), id)
	if err != nil {
		t.Fatalf("get part %d: %v", id, err)
	}
	return part.Stock
}

func createOrder(t *testing.T, svc *Service, parts ...domain.PartLineRequest) *domain.Order {
	t.Helper()
	order, err := svc.CreateOrder(context.Background(), domain.OrderCreateRequest{
		VehicleID:       seededVehicle,
		TechnicianID:    mechanicID,
		ProblemReported: "ruido al frenar",
		Services:        []int64{1},
		Parts:           parts,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestCreateOrderConsumesStockAndPricesLines(t *testing.T) {
	svc, repo, pub := newTestService()

	order := createOrder(t, svc, domain.PartLineRequest{PartID: 1, Quantity: 2})

	if order.StatusName != domain.StatusPending {
		t.Fatalf("expected default status %s, got %s", domain.StatusPending, order.StatusName)
	}
	if !order.EstimatedTotal.Equal(decimal.NewFromInt(240)) {
		t.Fatalf("expected total 240, got %s", order.EstimatedTotal)
	}
	if got := partStock(t, repo, 1); got != 18 {
		t.Fatalf("expected stock 18, got %d", got)
	}
	if types := pub.types(); len(types) != 1 || types[0] != events.OrderCreated {
		t.Fatalf("expected one order.created event, got %v", types)
	}
}

func TestCreateOrderRejectsInsufficientStock(t *testing.T) {
	svc, repo, _ := newTestService()

	_, err := svc.CreateOrder(context.Background(), domain.OrderCreateRequest{
		VehicleID:    seededVehicle,
		TechnicianID: mechanicID,
		Parts:        []domain.PartLineRequest{{PartID: 4, Quantity: 5}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := partStock(t, repo, 4); got != 3 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
}

func TestCreateOrderRequiresVehicleAndTechnician(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.CreateOrder(context.Background(), domain.OrderCreateRequest{VehicleID: seededVehicle})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateOrderReplacesPartLines(t *testing.T) {
	svc, repo, _ := newTestService()
	order := createOrder(t, svc, domain.PartLineRequest{PartID: 1, Quantity: 2})

	parts := []domain.PartLineRequest{{PartID: 1, Quantity: 1}, {PartID: 2, Quantity: 3}}
	updated, err := svc.UpdateOrder(context.Background(), order.ID, domain.OrderUpdateRequest{Parts: &parts})
	if err != nil {
		t.Fatalf("update order: %v", err)
	}

	if got := partStock(t, repo, 1); got != 19 {
		t.Fatalf("expected part 1 stock 19, got %d", got)
	}
	if got := partStock(t, repo, 2); got != 37 {
		t.Fatalf("expected part 2 stock 37, got %d", got)
	}
	// 150 service + 45 + 3*60
	if !updated.EstimatedTotal.Equal(decimal.NewFromInt(375)) {
		t.Fatalf("expected total 375, got %s", updated.EstimatedTotal)
	}
	if len(updated.Services) != 1 {
		t.Fatalf("expected services untouched, got %d lines", len(updated.Services))
	}
}

func TestUpdateOrderStatusToDeliveredStampsDate(t *testing.T) {
	svc, _, pub := newTestService()
	order := createOrder(t, svc)

	updated, err := svc.UpdateOrderStatus(context.Background(), order.ID, statusDelivered)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.DeliveredAt == nil {
		t.Fatalf("expected fecha_entrega to be set")
	}

	var changed bool
	for _, typ := range pub.types() {
		if typ == events.OrderStatusChanged {
			changed = true
		}
	}
	if !changed {
		t.Fatalf("expected order.status_changed event, got %v", pub.types())
	}
}

func TestAddPartMergesIntoExistingLine(t *testing.T) {
	svc, repo, _ := newTestService()
	order := createOrder(t, svc, domain.PartLineRequest{PartID: 1, Quantity: 2})

	updated, err := svc.AddPartToOrder(context.Background(), order.ID, 1, 3)
	if err != nil {
		t.Fatalf("add part: %v", err)
	}
	if len(updated.Parts) != 1 || updated.Parts[0].Quantity != 5 {
		t.Fatalf("expected one line with 5 units, got %+v", updated.Parts)
	}
	if got := partStock(t, repo, 1); got != 15 {
		t.Fatalf("expected stock 15, got %d", got)
	}

	if _, err := svc.AddPartToOrder(context.Background(), order.ID, 1, 0); err == nil {
		t.Fatalf("expected zero quantity to be rejected")
	}
}

func TestAddServiceKeepsExistingLine(t *testing.T) {
	svc, _, _ := newTestService()
	order := createOrder(t, svc)

	updated, err := svc.AddServiceToOrder(context.Background(), order.ID, 1)
	if err != nil {
		t.Fatalf("add existing service: %v", err)
	}
	if len(updated.Services) != 1 {
		t.Fatalf("expected a single service line, got %d", len(updated.Services))
	}

	updated, err = svc.AddServiceToOrder(context.Background(), order.ID, 3)
	if err != nil {
		t.Fatalf("add service: %v", err)
	}
	if len(updated.Services) != 2 || !updated.EstimatedTotal.Equal(decimal.NewFromInt(230)) {
		t.Fatalf("expected two lines totalling 230, got %d lines total %s", len(updated.Services), updated.EstimatedTotal)
	}
}

func TestDeleteOrderRefundsStock(t *testing.T) {
	svc, repo, _ := newTestService()
	order := createOrder(t, svc, domain.PartLineRequest{PartID: 2, Quantity: 4})

	if err := svc.DeleteOrder(context.Background(), order.ID); err != nil {
		t.Fatalf("delete order: %v", err)
	}
	if got := partStock(t, repo, 2); got != 40 {
		t.Fatalf("expected stock restored to 40, got %d", got)
	}
	if _, err := svc.GetOrder(context.Background(), order.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted order to be hidden, got %v", err)
	}
}

func TestDeleteOrderWithPaymentsIsRejected(t *testing.T) {
	svc, _, _ := newTestService()
	order := createOrder(t, svc)
	if _, err := svc.UpdateOrderStatus(context.Background(), order.ID, statusFinished); err != nil {
		t.Fatalf("finish order: %v", err)
	}
	if _, err := svc.CreatePayment(actorCtx(), domain.PaymentCreateRequest{OrderID: order.ID, Amount: money("50"), Method: "efectivo"}); err != nil {
		t.Fatalf("create payment: %v", err)
	}

	if err := svc.DeleteOrder(context.Background(), order.ID); !errors.Is(err, store.ErrHasPayments) {
		t.Fatalf("expected has-payments error, got %v", err)
	}
}

func TestCreatePaymentRequiresPayableStatus(t *testing.T) {
	svc, _, _ := newTestService()
	order := createOrder(t, svc)

	_, err := svc.CreatePayment(actorCtx(), domain.PaymentCreateRequest{OrderID: order.ID, Amount: money("10"), Method: "efectivo"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for pending order, got %v", err)
	}
}

func TestCreatePaymentTracksBalance(t *testing.T) {
	svc, _, pub := newTestService()
	order := createOrder(t, svc)
	if _, err := svc.UpdateOrderStatus(context.Background(), order.ID, statusFinished); err != nil {
		t.Fatalf("finish order: %v", err)
	}
	ctx := actorCtx()

	resp, err := svc.CreatePayment(ctx, domain.PaymentCreateRequest{OrderID: order.ID, Amount: money("100"), Method: "qr"})
	if err != nil {
		t.Fatalf("first payment: %v", err)
	}
	if !resp.Balance.Outstanding.Equal(decimal.NewFromInt(50)) || resp.Balance.FullyPaid {
		t.Fatalf("expected 50 outstanding, got %+v", resp.Balance)
	}
	if resp.Payment.UserID != 1 {
		t.Fatalf("expected payment to record the acting user, got %d", resp.Payment.UserID)
	}

	if _, err := svc.CreatePayment(ctx, domain.PaymentCreateRequest{OrderID: order.ID, Amount: money("50.02"), Method: "qr"}); err == nil {
		t.Fatalf("expected overpayment to be rejected")
	}

	resp, err = svc.CreatePayment(ctx, domain.PaymentCreateRequest{OrderID: order.ID, Amount: money("50.01"), Method: "qr"})
	if err != nil {
		t.Fatalf("settling payment within tolerance: %v", err)
	}
	if !resp.Balance.FullyPaid || !resp.Balance.Outstanding.IsZero() {
		t.Fatalf("expected order fully paid, got %+v", resp.Balance)
	}

	var recorded int
	for _, typ := range pub.types() {
		if typ == events.PaymentRecorded {
			recorded++
		}
	}
	if recorded != 2 {
		t.Fatalf("expected 2 payment.recorded events, got %d", recorded)
	}
}

func TestCreatePaymentRequiresActor(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.CreatePayment(context.Background(), domain.PaymentCreateRequest{OrderID: 1, Amount: money("1"), Method: "qr"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden without actor, got %v", err)
	}
}

func TestVoidPaymentRestoresBalance(t *testing.T) {
	svc, _, _ := newTestService()
	order := createOrder(t, svc)
	if _, err := svc.UpdateOrderStatus(context.Background(), order.ID, statusFinished); err != nil {
		t.Fatalf("finish order: %v", err)
	}
	resp, err := svc.CreatePayment(actorCtx(), domain.PaymentCreateRequest{OrderID: order.ID, Amount: money("150"), Method: "efectivo"})
	if err != nil {
		t.Fatalf("payment: %v", err)
	}

	if err := svc.VoidPayment(context.Background(), resp.Payment.ID); err != nil {
		t.Fatalf("void: %v", err)
	}
	balance, err := svc.OrderBalance(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Outstanding.Equal(decimal.NewFromInt(150)) || len(balance.Payments) != 0 {
		t.Fatalf("expected full balance outstanding after void, got %+v", balance)
	}
}

func TestDashboardAggregatesOrders(t *testing.T) {
	svc, _, _ := newTestService()
	first := createOrder(t, svc)
	createOrder(t, svc)
	if _, err := svc.UpdateOrderStatus(context.Background(), first.ID, statusFinished); err != nil {
		t.Fatalf("finish order: %v", err)
	}

	metrics, err := svc.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if metrics.TotalOrdersMonth != 2 {
		t.Fatalf("expected 2 orders this month, got %d", metrics.TotalOrdersMonth)
	}
	if metrics.OrdersByStatus[domain.StatusPending] != 1 || metrics.OrdersByStatus[domain.StatusFinished] != 1 {
		t.Fatalf("unexpected status counts %v", metrics.OrdersByStatus)
	}
	if !metrics.EstimatedIncome.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("expected estimated income 150, got %s", metrics.EstimatedIncome)
	}
	if metrics.ClientsTotal != 1 || metrics.LowStockParts != 1 {
		t.Fatalf("expected 1 client and 1 low stock part, got %+v", metrics)
	}
}

func TestCreateClientValidatesAndNormalizesPlate(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateClient(ctx, domain.ClientCreateRequest{CI: "999"}); err == nil {
		t.Fatalf("expected missing names to be rejected")
	}

	client, err := svc.CreateClient(ctx, domain.ClientCreateRequest{CI: " 7654321 ", FirstName: "Ana", LastName: "Mamani"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if client.CI != "7654321" {
		t.Fatalf("expected trimmed ci, got %q", client.CI)
	}

	vehicle, err := svc.AddVehicle(ctx, client.ID, domain.VehicleCreateRequest{Plate: "2345 xyz", Brand: "Nissan"})
	if err != nil {
		t.Fatalf("add vehicle: %v", err)
	}
	if vehicle.Plate != "2345XYZ" {
		t.Fatalf("expected normalized plate, got %q", vehicle.Plate)
	}

	if _, err := svc.CreateClient(ctx, domain.ClientCreateRequest{CI: "7654321", FirstName: "Otra", LastName: "Persona"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected duplicate ci conflict, got %v", err)
	}
}

func TestLowStockPartsSuggestsReorder(t *testing.T) {
	svc, _, _ := newTestService()

	report, err := svc.LowStockParts(context.Background())
	if err != nil {
		t.Fatalf("low stock: %v", err)
	}
	if len(report.Items) != 1 || report.Items[0].ID != 4 || report.Items[0].SuggestedReorder != 13 {
		t.Fatalf("unexpected low stock report %+v", report.Items)
	}
}

// racingPartRepo lets an order consume stock right before a part edit reaches
// the repository.
type racingPartRepo struct {
	*memory.Store
	consume func()
}

func (r *racingPartRepo) UpdatePart(ctx context.Context, id int64, patch store.PartPatch) (*domain.Part, error) {
	r.fire()
	return r.Store.UpdatePart(ctx, id, patch)
}

func (r *racingPartRepo) fire() {
	if r.consume != nil {
		consume := r.consume
		r.consume = nil
		consume()
	}
}

func TestUpdatePartKeepsConcurrentStockMovements(t *testing.T) {
	base := memory.NewSeeded()
	repo := &racingPartRepo{Store: base}
	svc := New(repo, Options{})
	other := New(base, Options{})

	repo.consume = func() {
		if _, err := other.CreateOrder(context.Background(), domain.OrderCreateRequest{
			VehicleID:    seededVehicle,
			TechnicianID: mechanicID,
			Parts:        []domain.PartLineRequest{{PartID: 1, Quantity: 4}},
		}); err != nil {
			t.Fatalf("concurrent order: %v", err)
		}
	}

	name := "Filtro de aceite premium"
	updated, err := svc.UpdatePart(context.Background(), 1, domain.PartUpdateRequest{Name: &name})
	if err != nil {
		t.Fatalf("update part: %v", err)
	}
	if updated.Name != name || updated.Stock != 16 {
		t.Fatalf("expected renamed part with stock 16, got %q stock %d", updated.Name, updated.Stock)
	}
	if got := partStock(t, base, 1); got != 16 {
		t.Fatalf("expected stock 16 after rename, got %d", got)
	}
}

func TestUpdatePartValidatesFields(t *testing.T) {
	svc, repo, _ := newTestService()

	blank := "  "
	if _, err := svc.UpdatePart(context.Background(), 1, domain.PartUpdateRequest{Name: &blank}); !isValidation(err) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
	negative := -1
	if _, err := svc.UpdatePart(context.Background(), 1, domain.PartUpdateRequest{Stock: &negative}); !isValidation(err) {
		t.Fatalf("expected validation error for negative stock, got %v", err)
	}
	stock := 7
	if _, err := svc.UpdatePart(context.Background(), 1, domain.PartUpdateRequest{Stock: &stock}); err != nil {
		t.Fatalf("explicit stock update: %v", err)
	}
	if got := partStock(t, repo, 1); got != 7 {
		t.Fatalf("expected explicit stock 7, got %d", got)
	}
	if _, err := svc.UpdatePart(context.Background(), 99, domain.PartUpdateRequest{Stock: &stock}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func isValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

type orderWriteRepo struct {
	*memory.Store
	updates   int
	statusErr error
}

func (r *orderWriteRepo) UpdateOrder(ctx context.Context, id int64, patch store.OrderPatch, desired reconcile.Desired) (*domain.Order, reconcile.Plan, error) {
	r.updates++
	return r.Store.UpdateOrder(ctx, id, patch, desired)
}

func (r *orderWriteRepo) ListStatuses(ctx context.Context) ([]domain.OrderStatus, error) {
	if r.statusErr != nil {
		return nil, r.statusErr
	}
	return r.Store.ListStatuses(ctx)
}

func TestCreateOrderDeliveredStampsDateInOneWrite(t *testing.T) {
	repo := &orderWriteRepo{Store: memory.NewSeeded()}
	svc := New(repo, Options{})

	order, err := svc.CreateOrder(context.Background(), domain.OrderCreateRequest{
		VehicleID:    seededVehicle,
		TechnicianID: mechanicID,
		StatusID:     statusDelivered,
		Services:     []int64{1},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.DeliveredAt == nil {
		t.Fatalf("expected fecha_entrega on an order created as delivered")
	}
	if repo.updates != 0 {
		t.Fatalf("expected no follow-up update, got %d", repo.updates)
	}
}

func TestStatusChangeFailsWhenStatusesUnavailable(t *testing.T) {
	repo := &orderWriteRepo{Store: memory.NewSeeded()}
	svc := New(repo, Options{})
	order := createOrder(t, svc)

	repo.statusErr = errors.New("catalogo de estados caido")
	if _, err := svc.UpdateOrderStatus(context.Background(), order.ID, statusDelivered); !errors.Is(err, repo.statusErr) {
		t.Fatalf("expected status lookup error, got %v", err)
	}
	if repo.updates != 0 {
		t.Fatalf("expected the order to stay untouched, got %d updates", repo.updates)
	}

	current, err := repo.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if current.StatusID != statusPending || current.DeliveredAt != nil {
		t.Fatalf("expected pending order without delivery date, got %+v", current)
	}
}

type paymentsFailRepo struct {
	*memory.Store
	err error
}

func (r *paymentsFailRepo) ListOrderPayments(context.Context, int64) ([]domain.Payment, error) {
	return nil, r.err
}

func TestOrderBalanceListsPayments(t *testing.T) {
	svc, _, _ := newTestService()
	order := createOrder(t, svc)
	if _, err := svc.UpdateOrderStatus(context.Background(), order.ID, statusFinished); err != nil {
		t.Fatalf("finish order: %v", err)
	}
	if _, err := svc.CreatePayment(actorCtx(), domain.PaymentCreateRequest{OrderID: order.ID, Amount: money("40"), Method: "efectivo"}); err != nil {
		t.Fatalf("payment: %v", err)
	}

	balance, err := svc.OrderBalance(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if len(balance.Payments) != 1 || !balance.TotalPaid.Equal(decimal.NewFromInt(40)) || !balance.Outstanding.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("unexpected balance %+v", balance)
	}
	if balance.OrderID != order.ID {
		t.Fatalf("expected balance for order %d, got %d", order.ID, balance.OrderID)
	}

	if _, err := svc.OrderBalance(context.Background(), 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for missing order, got %v", err)
	}
}

func TestOrderBalancePropagatesPaymentReadErrors(t *testing.T) {
	repo := &paymentsFailRepo{Store: memory.NewSeeded(), err: errors.New("lectura fallida")}
	svc := New(repo, Options{})
	order := createOrder(t, svc)

	if _, err := svc.OrderBalance(context.Background(), order.ID); !errors.Is(err, repo.err) {
		t.Fatalf("expected payment read error, got %v", err)
	}
}
