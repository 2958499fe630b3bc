package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/reconcile"
	"tallernegreira/backend/internal/store"
)

func TestOrderLifecycleMovesStock(t *testing.T) {
	databaseURL := os.Getenv("TALLER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TALLER_TEST_DATABASE_URL to run postgres integration test")
	}

	if _, err := Migrate(databaseURL, "up", 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	tech, err := s.CreateUser(ctx, domain.User{
		FirstName: "Mecánico", Email: fmt.Sprintf("mec-%d@taller.test", stamp), Password: "x", RoleID: 3,
	})
	if err != nil {
		t.Fatalf("create technician: %v", err)
	}
	client, err := s.CreateClient(ctx, domain.Client{CI: fmt.Sprintf("IT-%d", stamp), FirstName: "Cliente IT"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	vehicle, err := s.CreateVehicle(ctx, domain.Vehicle{ClientID: client.ID, Plate: fmt.Sprintf("IT%d", stamp%1_000_000)})
	if err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
	part, err := s.CreatePart(ctx, domain.Part{Name: "Filtro IT", SalePrice: decimal.NewFromInt(40), Stock: 5, MinStock: 1})
	if err != nil {
		t.Fatalf("create part: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM pagos WHERE orden_id IN (SELECT id FROM ordenes WHERE auto_id = $1)`, vehicle.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM ordenes WHERE auto_id = $1`, vehicle.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM repuestos WHERE id = $1`, part.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM autos WHERE id = $1`, vehicle.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM clientes WHERE id = $1`, client.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM usuarios WHERE id = $1`, tech.ID)
	})

	order, err := s.CreateOrder(ctx, domain.Order{VehicleID: vehicle.ID, TechnicianID: tech.ID, StatusID: 1}, reconcile.Desired{
		Parts: []reconcile.PartLine{{PartID: part.ID, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if !order.EstimatedTotal.Equal(decimal.NewFromInt(120)) || len(order.Parts) != 1 {
		t.Fatalf("unexpected order %+v", order)
	}

	_, _, err = s.UpdateOrder(ctx, order.ID, store.OrderPatch{}, reconcile.Desired{
		Parts: []reconcile.PartLine{{PartID: part.ID, Quantity: 9}}, SetParts: true,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	if _, err := s.DeactivateOrder(ctx, order.ID); err != nil {
		t.Fatalf("deactivate order: %v", err)
	}
	got, err := s.GetPart(ctx, part.ID)
	if err != nil {
		t.Fatalf("get part: %v", err)
	}
	if got.Stock != 5 {
		t.Fatalf("expected stock restored to 5, got %d", got.Stock)
	}
}
