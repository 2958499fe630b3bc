package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/store"
)

const paymentColumns = `p.id, p.orden_id, p.monto, p.fecha_pago, p.metodo_pago, p.referencia, p.usuario_id, p.activo`

// paymentDetail joins the client and plate of the paid order.
const paymentDetail = `SELECT ` + paymentColumns + `,
		trim(c.nombre || ' ' || c.apellido_p) AS cliente_nombre, a.placa, o.total_estimado AS total_orden
	FROM pagos p
	JOIN ordenes o ON o.id = p.orden_id
	JOIN autos a ON a.id = o.auto_id
	JOIN clientes c ON c.id = a.cliente_id`

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment, check store.PaymentCheck) (*domain.Payment, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		order, err := s.loadOrder(ctx, tx, payment.OrderID, true)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(*order); err != nil {
				return err
			}
		}
		return tx.QueryRowxContext(ctx, `
			INSERT INTO pagos (orden_id, monto, fecha_pago, metodo_pago, referencia, usuario_id, activo)
			VALUES ($1, $2, COALESCE($3, now()), $4, $5, $6, true)
			RETURNING id
		`, payment.OrderID, payment.Amount, nullTime(payment.PaidAt), payment.Method, payment.Reference, payment.UserID).Scan(&id)
	})
	if err != nil {
		return nil, err
	}
	return s.getPayment(ctx, id, true)
}

func (s *Store) GetPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	return s.getPayment(ctx, id, true)
}

func (s *Store) getPayment(ctx context.Context, id int64, activeOnly bool) (*domain.Payment, error) {
	query := paymentDetail + ` WHERE p.id = $1`
	if activeOnly {
		query += ` AND p.activo`
	}
	var payment domain.Payment
	if err := s.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, mapError(err)
	}
	return &payment, nil
}

func (s *Store) ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	query := paymentDetail + `
		WHERE p.activo
		AND ($1::timestamptz IS NULL OR p.fecha_pago >= $1)
		AND ($2::timestamptz IS NULL OR p.fecha_pago <= $2)
		ORDER BY p.fecha_pago DESC, p.id DESC`
	args := []any{filter.From, filter.To}
	if filter.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, filter.Limit)
	}
	payments := make([]domain.Payment, 0, 32)
	if err := s.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, err
	}
	for i := range payments {
		payments[i].OrderTotal = nil
	}
	return payments, nil
}

func (s *Store) ListOrderPayments(ctx context.Context, orderID int64) ([]domain.Payment, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM ordenes WHERE id = $1)`, orderID); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	payments := make([]domain.Payment, 0, 4)
	err := s.db.SelectContext(ctx, &payments, `SELECT `+paymentColumns+`
		FROM pagos p
		WHERE p.activo AND p.orden_id = $1
		ORDER BY p.fecha_pago, p.id`, orderID)
	return payments, err
}

func (s *Store) DeactivatePayment(ctx context.Context, id int64) (*domain.Payment, error) {
	if err := expectAffected(s.db.ExecContext(ctx, `UPDATE pagos SET activo = false WHERE id = $1 AND activo`, id)); err != nil {
		return nil, err
	}
	return s.getPayment(ctx, id, false)
}

func (s *Store) RevenueSummary(ctx context.Context, from, to *time.Time) (domain.RevenueSummary, error) {
	var row struct {
		Total decimal.Decimal `db:"total"`
		Count int             `db:"count"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT COALESCE(SUM(monto), 0) AS total, COUNT(*) AS count
		FROM pagos
		WHERE activo
		AND ($1::timestamptz IS NULL OR fecha_pago >= $1)
		AND ($2::timestamptz IS NULL OR fecha_pago <= $2)
	`, from, to)
	if err != nil {
		return domain.RevenueSummary{}, err
	}
	return domain.RevenueSummary{TotalIncome: row.Total, TotalPayments: row.Count}, nil
}

func (s *Store) DashboardMetrics(ctx context.Context, monthStart, monthEnd time.Time) (domain.DashboardMetrics, error) {
	metrics := domain.DashboardMetrics{OrdersByStatus: map[string]int{}}

	var counters struct {
		OrdersMonth     int             `db:"orders_month"`
		EstimatedIncome decimal.Decimal `db:"estimated_income"`
		Clients         int             `db:"clients"`
		LowStock        int             `db:"low_stock"`
		RevenueMonth    decimal.Decimal `db:"revenue_month"`
	}
	err := s.db.GetContext(ctx, &counters, `
		SELECT
			(SELECT COUNT(*) FROM ordenes WHERE activo AND fecha_ingreso >= $1 AND fecha_ingreso < $2) AS orders_month,
			(SELECT COALESCE(SUM(o.total_estimado), 0)
				FROM ordenes o JOIN estados_orden e ON e.id = o.estado_id
				WHERE o.activo AND e.nombre_estado = ANY($3)) AS estimated_income,
			(SELECT COUNT(*) FROM clientes WHERE activo) AS clients,
			(SELECT COUNT(*) FROM repuestos WHERE activo AND stock <= stock_minimo) AS low_stock,
			(SELECT COALESCE(SUM(monto), 0) FROM pagos WHERE activo AND fecha_pago >= $1 AND fecha_pago < $2) AS revenue_month
	`, monthStart, monthEnd, domain.IncomeStatuses)
	if err != nil {
		return metrics, err
	}
	metrics.TotalOrdersMonth = counters.OrdersMonth
	metrics.EstimatedIncome = counters.EstimatedIncome
	metrics.ClientsTotal = counters.Clients
	metrics.LowStockParts = counters.LowStock
	metrics.RevenueMonth = counters.RevenueMonth

	var byStatus []struct {
		Name  string `db:"nombre_estado"`
		Count int    `db:"count"`
	}
	err = s.db.SelectContext(ctx, &byStatus, `
		SELECT e.nombre_estado, COUNT(*) AS count
		FROM ordenes o JOIN estados_orden e ON e.id = o.estado_id
		WHERE o.activo
		GROUP BY e.nombre_estado`)
	if err != nil {
		return metrics, err
	}
	for _, row := range byStatus {
		metrics.OrdersByStatus[row.Name] = row.Count
	}
	return metrics, nil
}
