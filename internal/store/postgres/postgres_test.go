package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/store"
)

// passthrough lets array arguments such as []int64 reach the mock unchanged.
type passthrough struct{}

func (passthrough) ConvertValue(v any) (driver.Value, error) { return v, nil }

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passthrough{}))
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestMapError(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"23505", store.ErrConflict},
		{"23503", store.ErrInvalidInput},
		{"23514", store.ErrInvalidInput},
		{"40001", store.ErrConcurrent},
	}
	for _, tc := range cases {
		if err := mapError(&pgconn.PgError{Code: tc.code}); !errors.Is(err, tc.want) {
			t.Fatalf("code %s: expected %v, got %v", tc.code, tc.want, err)
		}
	}
	if err := mapError(errors.New("boom")); err == nil || errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected unrelated error to pass through, got %v", err)
	}
}

func TestDeactivateClientMissingRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE clientes SET activo = false").
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeactivateClient(context.Background(), 9); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRevenueSummaryScansTotals(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(monto\\), 0\\)").
		WillReturnRows(sqlmock.NewRows([]string{"total", "count"}).AddRow("150.50", int64(2)))

	summary, err := s.RevenueSummary(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("revenue: %v", err)
	}
	if summary.TotalIncome.String() != "150.5" || summary.TotalPayments != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyStockMapsCheckViolation(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE repuestos SET stock = stock \\+ \\$2").
		WithArgs(int64(10), -3).
		WillReturnError(&pgconn.PgError{Code: "23514"})
	mock.ExpectRollback()

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		return applyStock(ctx, tx, map[int64]int{10: -3})
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreatePaymentRollsBackWhenCheckFails(t *testing.T) {
	s, mock := newMockStore(t)
	rejected := errors.New("orden no finalizada")

	orderRow := sqlmock.NewRows([]string{
		"id", "auto_id", "placa", "marca", "modelo", "anio", "vin", "cliente_id",
		"cliente_nombre", "cliente_ci", "tecnico_id", "tecnico_nombre",
		"estado_id", "estado_nombre", "fecha_ingreso", "fecha_entrega",
		"problema_reportado", "diagnostico", "total_estimado", "activo",
	}).AddRow(
		int64(7), int64(1), "1234ABC", "Toyota", "Corolla", int64(2015), "", int64(1),
		"Juan Pérez", "1234567", int64(3), "Mario Mecánico",
		int64(1), domain.StatusPending, time.Now(), nil,
		"ruido", "", "150.00", true,
	)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM ordenes o").WithArgs(int64(7)).WillReturnRows(orderRow)
	mock.ExpectQuery("FROM orden_detalle_servicios").
		WillReturnRows(sqlmock.NewRows([]string{"id", "orden_id", "servicio_id", "servicio_nombre", "precio_aplicado"}))
	mock.ExpectQuery("FROM orden_detalle_repuestos").
		WillReturnRows(sqlmock.NewRows([]string{"id", "orden_id", "repuesto_id", "repuesto_nombre", "cantidad", "precio_unitario_aplicado"}))
	mock.ExpectQuery("FROM pagos p").
		WillReturnRows(sqlmock.NewRows([]string{"id", "orden_id", "monto", "fecha_pago", "metodo_pago", "referencia", "usuario_id", "activo"}))
	mock.ExpectRollback()

	var seen domain.Order
	_, err := s.CreatePayment(context.Background(), domain.Payment{OrderID: 7, UserID: 1}, func(order domain.Order) error {
		seen = order
		return rejected
	})
	if !errors.Is(err, rejected) {
		t.Fatalf("expected check error, got %v", err)
	}
	if seen.Plate != "1234ABC" || seen.StatusName != domain.StatusPending {
		t.Fatalf("expected check to see the locked order, got %+v", seen)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
