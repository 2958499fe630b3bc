package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/reconcile"
	"tallernegreira/backend/internal/store"
)

// decimalArg matches a decimal argument by value regardless of its exponent.
type decimalArg string

func (d decimalArg) Match(v driver.Value) bool {
	got, ok := v.(decimal.Decimal)
	return ok && got.Equal(decimal.RequireFromString(string(d)))
}

var orderColumns = []string{
	"id", "auto_id", "placa", "marca", "modelo", "anio", "vin", "cliente_id",
	"cliente_nombre", "cliente_ci", "tecnico_id", "tecnico_nombre",
	"estado_id", "estado_nombre", "fecha_ingreso", "fecha_entrega",
	"problema_reportado", "diagnostico", "total_estimado", "activo",
}

func orderRow(diagnosis, total string) *sqlmock.Rows {
	return sqlmock.NewRows(orderColumns).AddRow(
		int64(7), int64(1), "1234ABC", "Toyota", "Corolla", int64(2015), "", int64(1),
		"Juan Pérez", "1234567", int64(3), "Mario Mecánico",
		int64(1), "Pendiente", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), nil,
		"ruido al frenar", diagnosis, total, true,
	)
}

func serviceLineRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "orden_id", "servicio_id", "servicio_nombre", "precio_aplicado"}).
		AddRow(int64(11), int64(7), int64(1), "Cambio de aceite", "150.00")
}

func emptyPaymentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "orden_id", "monto", "fecha_pago", "metodo_pago", "referencia", "usuario_id", "activo"})
}

var partLineColumns = []string{"id", "orden_id", "repuesto_id", "repuesto_nombre", "cantidad", "precio_unitario_aplicado"}

func TestUpdateOrderAppliesLineChangesInOneTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)FROM ordenes o.*FOR UPDATE OF o").WithArgs(int64(7)).WillReturnRows(orderRow("", "300.00"))
	mock.ExpectQuery("FROM orden_detalle_servicios").WillReturnRows(serviceLineRows())
	mock.ExpectQuery("FROM orden_detalle_repuestos").WillReturnRows(sqlmock.NewRows(partLineColumns).
		AddRow(int64(21), int64(7), int64(1), "Filtro de aceite", int64(2), "45.00").
		AddRow(int64(22), int64(7), int64(2), "Pastillas de freno", int64(1), "60.00"))
	mock.ExpectQuery("FROM pagos p").WillReturnRows(emptyPaymentRows())

	mock.ExpectQuery("SELECT\\s+EXISTS").WithArgs(int64(1), int64(3), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"auto", "tecnico", "estado"}).AddRow(true, true, true))
	mock.ExpectQuery("FROM servicios WHERE id = ANY").WithArgs([]int64{1}).
		WillReturnRows(sqlmock.NewRows([]string{"id", "nombre", "descripcion", "precio", "activo"}).
			AddRow(int64(1), "Cambio de aceite", "", "150.00", true))
	mock.ExpectQuery("FROM repuestos WHERE id = ANY\\(\\$1\\) ORDER BY id FOR UPDATE").WithArgs([]int64{1, 2, 3}).
		WillReturnRows(sqlmock.NewRows([]string{"id", "nombre", "marca", "precio_venta", "stock", "stock_minimo", "activo"}).
			AddRow(int64(1), "Filtro de aceite", "Bosch", "45.00", int64(20), int64(5), true).
			AddRow(int64(2), "Pastillas de freno", "Brembo", "60.00", int64(40), int64(10), true).
			AddRow(int64(3), "Batería 12V", "Varta", "180.00", int64(6), int64(4), true))

	mock.ExpectExec("UPDATE ordenes\\s+SET tecnico_id").
		WithArgs(int64(7), int64(3), int64(1), "ruido al frenar", "pastillas gastadas", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM orden_detalle_repuestos").WithArgs(int64(7), []int64{21}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orden_detalle_repuestos SET cantidad").WithArgs(int64(22), 3, decimalArg("60")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO orden_detalle_repuestos").WithArgs(int64(7), int64(3), 1, decimalArg("180")).
		WillReturnResult(sqlmock.NewResult(23, 1))
	mock.ExpectExec("UPDATE repuestos SET stock = stock \\+ \\$2").WithArgs(int64(1), 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE repuestos SET stock = stock \\+ \\$2").WithArgs(int64(2), -2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE repuestos SET stock = stock \\+ \\$2").WithArgs(int64(3), -1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE ordenes SET total_estimado").WithArgs(int64(7), decimalArg("510")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("FROM ordenes o").WithArgs(int64(7)).WillReturnRows(orderRow("pastillas gastadas", "510.00"))
	mock.ExpectQuery("FROM orden_detalle_servicios").WillReturnRows(serviceLineRows())
	mock.ExpectQuery("FROM orden_detalle_repuestos").WillReturnRows(sqlmock.NewRows(partLineColumns).
		AddRow(int64(22), int64(7), int64(2), "Pastillas de freno", int64(3), "60.00").
		AddRow(int64(23), int64(7), int64(3), "Batería 12V", int64(1), "180.00"))
	mock.ExpectQuery("FROM pagos p").WillReturnRows(emptyPaymentRows())

	diagnosis := "pastillas gastadas"
	order, plan, err := s.UpdateOrder(context.Background(), 7, store.OrderPatch{Diagnosis: &diagnosis}, reconcile.Desired{
		Parts:    []reconcile.PartLine{{PartID: 2, Quantity: 3}, {PartID: 3, Quantity: 1}},
		SetParts: true,
	})
	if err != nil {
		t.Fatalf("update order: %v", err)
	}
	if !plan.Total.Equal(decimal.NewFromInt(510)) {
		t.Fatalf("expected total 510, got %s", plan.Total)
	}
	if plan.StockDelta[1] != 2 || plan.StockDelta[2] != -2 || plan.StockDelta[3] != -1 {
		t.Fatalf("unexpected stock delta %v", plan.StockDelta)
	}
	if order.Diagnosis != diagnosis || len(order.Parts) != 2 {
		t.Fatalf("unexpected reloaded order %+v", order)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateOrderRollsBackOnInsufficientStock(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT\\s+EXISTS").WithArgs(int64(1), int64(3), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"auto", "tecnico", "estado"}).AddRow(true, true, true))
	mock.ExpectQuery("FROM repuestos WHERE id = ANY\\(\\$1\\) ORDER BY id FOR UPDATE").WithArgs([]int64{4}).
		WillReturnRows(sqlmock.NewRows([]string{"id", "nombre", "marca", "precio_venta", "stock", "stock_minimo", "activo"}).
			AddRow(int64(4), "Foco H4", "Philips", "25.00", int64(3), int64(8), true))
	mock.ExpectRollback()

	_, err := s.CreateOrder(context.Background(), domain.Order{VehicleID: 1, TechnicianID: 3, StatusID: 1}, reconcile.Desired{
		Parts: []reconcile.PartLine{{PartID: 4, Quantity: 5}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdatePartSendsOnlyPatchedColumns(t *testing.T) {
	s, mock := newMockStore(t)

	name := "Filtro de aceite premium"
	mock.ExpectQuery("stock = COALESCE\\(\\$5::integer, stock\\)").
		WithArgs(int64(1), &name, (*string)(nil), (*decimal.Decimal)(nil), (*int)(nil), (*int)(nil), (*bool)(nil)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "nombre", "marca", "precio_venta", "stock", "stock_minimo", "activo"}).
			AddRow(int64(1), name, "Bosch", "45.00", int64(16), int64(5), true))

	part, err := s.UpdatePart(context.Background(), 1, store.PartPatch{Name: &name})
	if err != nil {
		t.Fatalf("update part: %v", err)
	}
	if part.Stock != 16 || part.Name != name {
		t.Fatalf("unexpected part %+v", part)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
