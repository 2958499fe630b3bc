package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jmoiron/sqlx"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/reconcile"
	"tallernegreira/backend/internal/store"
)

const orderSelect = `
	SELECT o.id, o.auto_id, a.placa, a.marca, a.modelo, a.anio, a.vin, a.cliente_id,
		trim(c.nombre || ' ' || c.apellido_p) AS cliente_nombre, c.ci AS cliente_ci,
		o.tecnico_id, trim(u.nombre || ' ' || u.apellido_p) AS tecnico_nombre,
		o.estado_id, e.nombre_estado AS estado_nombre, o.fecha_ingreso, o.fecha_entrega,
		o.problema_reportado, o.diagnostico, o.total_estimado, o.activo
	FROM ordenes o
	JOIN autos a ON a.id = o.auto_id
	JOIN clientes c ON c.id = a.cliente_id
	JOIN usuarios u ON u.id = o.tecnico_id
	JOIN estados_orden e ON e.id = o.estado_id`

func (s *Store) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return s.loadOrder(ctx, s.db, id, false)
}

func (s *Store) loadOrder(ctx context.Context, q sqlx.QueryerContext, id int64, lock bool) (*domain.Order, error) {
	query := orderSelect + ` WHERE o.id = $1 AND o.activo`
	if lock {
		query += ` FOR UPDATE OF o`
	}
	var order domain.Order
	if err := sqlx.GetContext(ctx, q, &order, query, id); err != nil {
		return nil, mapError(err)
	}
	orders := []domain.Order{order}
	if err := hydrateOrders(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// hydrateOrders attaches detail lines and active payments to each order.
func hydrateOrders(ctx context.Context, q sqlx.QueryerContext, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = i
		orders[i].Services = []domain.OrderServiceLine{}
		orders[i].Parts = []domain.OrderPartLine{}
		orders[i].Payments = []domain.Payment{}
	}

	var services []domain.OrderServiceLine
	err := sqlx.SelectContext(ctx, q, &services, `
		SELECT d.id, d.orden_id, d.servicio_id, s.nombre AS servicio_nombre, d.precio_aplicado
		FROM orden_detalle_servicios d JOIN servicios s ON s.id = d.servicio_id
		WHERE d.orden_id = ANY($1)
		ORDER BY d.id`, ids)
	if err != nil {
		return fmt.Errorf("load service lines: %w", err)
	}
	for _, line := range services {
		i := index[line.OrderID]
		orders[i].Services = append(orders[i].Services, line)
	}

	var parts []domain.OrderPartLine
	err = sqlx.SelectContext(ctx, q, &parts, `
		SELECT d.id, d.orden_id, d.repuesto_id, r.nombre AS repuesto_nombre, d.cantidad, d.precio_unitario_aplicado
		FROM orden_detalle_repuestos d JOIN repuestos r ON r.id = d.repuesto_id
		WHERE d.orden_id = ANY($1)
		ORDER BY d.id`, ids)
	if err != nil {
		return fmt.Errorf("load part lines: %w", err)
	}
	for _, line := range parts {
		i := index[line.OrderID]
		orders[i].Parts = append(orders[i].Parts, line)
	}

	var payments []domain.Payment
	err = sqlx.SelectContext(ctx, q, &payments, `SELECT `+paymentColumns+`
		FROM pagos p
		WHERE p.activo AND p.orden_id = ANY($1)
		ORDER BY p.fecha_pago, p.id`, ids)
	if err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	for _, p := range payments {
		i := index[p.OrderID]
		orders[i].Payments = append(orders[i].Payments, p)
	}
	return nil
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) (domain.PageResult[domain.Order], error) {
	conds := []string{"o.activo"}
	args := []any{}
	if filter.StatusID != 0 {
		args = append(args, filter.StatusID)
		conds = append(conds, "o.estado_id = $"+itoa(len(args)))
	}
	if filter.ClientID != 0 {
		args = append(args, filter.ClientID)
		conds = append(conds, "a.cliente_id = $"+itoa(len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := itoa(len(args))
		conds = append(conds, "(a.placa ILIKE $"+n+" OR a.marca ILIKE $"+n+" OR a.modelo ILIKE $"+n+")")
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	err := s.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM ordenes o JOIN autos a ON a.id = o.auto_id`+where, args...)
	if err != nil {
		return domain.PageResult[domain.Order]{}, err
	}

	args = append(args, filter.Page.PerPage, filter.Page.Offset())
	query := orderSelect + where +
		` ORDER BY o.fecha_ingreso DESC, o.id DESC LIMIT $` + itoa(len(args)-1) + ` OFFSET $` + itoa(len(args))
	orders := make([]domain.Order, 0, filter.Page.PerPage)
	if err := s.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return domain.PageResult[domain.Order]{}, err
	}
	if err := hydrateOrders(ctx, s.db, orders); err != nil {
		return domain.PageResult[domain.Order]{}, err
	}
	return domain.NewPageResult(orders, total, filter.Page), nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order, desired reconcile.Desired) (*domain.Order, error) {
	desired.SetServices = true
	desired.SetParts = true

	var id int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := checkOrderRefs(ctx, tx, order.VehicleID, order.TechnicianID, order.StatusID); err != nil {
			return err
		}
		catalog, err := lockCatalog(ctx, tx, nil, nil, desired)
		if err != nil {
			return err
		}
		plan, err := reconcile.Build(0, nil, nil, desired, catalog)
		if err != nil {
			return err
		}

		err = tx.QueryRowxContext(ctx, `
			INSERT INTO ordenes (auto_id, tecnico_id, estado_id, fecha_ingreso, fecha_entrega, problema_reportado, diagnostico, total_estimado, activo)
			VALUES ($1, $2, $3, COALESCE($4, now()), $5, $6, $7, 0, true)
			RETURNING id
		`, order.VehicleID, order.TechnicianID, order.StatusID, nullTime(order.ReceivedAt), order.DeliveredAt,
			order.ProblemReported, order.Diagnosis).Scan(&id)
		if err != nil {
			return err
		}
		return applyPlan(ctx, tx, id, plan)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("order_id", id).Debug("order created")
	return s.GetOrder(ctx, id)
}

func (s *Store) UpdateOrder(ctx context.Context, id int64, patch store.OrderPatch, desired reconcile.Desired) (*domain.Order, reconcile.Plan, error) {
	var plan reconcile.Plan
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.loadOrder(ctx, tx, id, true)
		if err != nil {
			return err
		}

		if patch.TechnicianID != nil {
			current.TechnicianID = *patch.TechnicianID
		}
		if patch.StatusID != nil {
			current.StatusID = *patch.StatusID
		}
		if patch.ProblemReported != nil {
			current.ProblemReported = *patch.ProblemReported
		}
		if patch.Diagnosis != nil {
			current.Diagnosis = *patch.Diagnosis
		}
		if patch.DeliveredAt != nil {
			at := *patch.DeliveredAt
			current.DeliveredAt = &at
		}
		if err := checkOrderRefs(ctx, tx, current.VehicleID, current.TechnicianID, current.StatusID); err != nil {
			return err
		}

		catalog, err := lockCatalog(ctx, tx, current.Services, current.Parts, desired)
		if err != nil {
			return err
		}
		plan, err = reconcile.Build(id, current.Services, current.Parts, desired, catalog)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE ordenes
			SET tecnico_id = $2, estado_id = $3, problema_reportado = $4, diagnostico = $5, fecha_entrega = $6
			WHERE id = $1
		`, id, current.TechnicianID, current.StatusID, current.ProblemReported, current.Diagnosis, current.DeliveredAt)
		if err != nil {
			return err
		}
		return applyPlan(ctx, tx, id, plan)
	})
	if err != nil {
		return nil, reconcile.Plan{}, err
	}
	order, err := s.GetOrder(ctx, id)
	return order, plan, err
}

func (s *Store) DeactivateOrder(ctx context.Context, id int64) (*domain.Order, error) {
	var order *domain.Order
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		order, err = s.loadOrder(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if len(order.Payments) > 0 {
			return store.ErrHasPayments
		}

		refunds := map[int64]int{}
		for _, line := range order.Parts {
			refunds[line.PartID] += line.Quantity
		}
		if err := applyStock(ctx, tx, refunds); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE ordenes SET activo = false WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	order.Active = false
	return order, nil
}

func checkOrderRefs(ctx context.Context, tx *sqlx.Tx, vehicleID, technicianID, statusID int64) error {
	var vehicleOK, technicianOK, statusOK bool
	err := tx.QueryRowxContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM autos WHERE id = $1 AND activo),
			EXISTS (SELECT 1 FROM usuarios WHERE id = $2 AND activo),
			EXISTS (SELECT 1 FROM estados_orden WHERE id = $3)
	`, vehicleID, technicianID, statusID).Scan(&vehicleOK, &technicianOK, &statusOK)
	switch {
	case err != nil:
		return err
	case !vehicleOK:
		return fmt.Errorf("%w: auto no encontrado o inactivo", store.ErrInvalidInput)
	case !technicianOK:
		return fmt.Errorf("%w: técnico no encontrado o inactivo", store.ErrInvalidInput)
	case !statusOK:
		return fmt.Errorf("%w: estado %d no existe", store.ErrInvalidInput, statusID)
	}
	return nil
}

// lockCatalog loads every service and part the plan can touch. Parts are
// locked in id order so concurrent orders queue on the same rows instead of
// deadlocking.
func lockCatalog(ctx context.Context, tx *sqlx.Tx, services []domain.OrderServiceLine, parts []domain.OrderPartLine, desired reconcile.Desired) (reconcile.Catalog, error) {
	catalog := reconcile.Catalog{Services: map[int64]domain.Service{}, Parts: map[int64]domain.Part{}}

	if ids := reconcile.ReferencedServices(services, desired); len(ids) > 0 {
		var rows []domain.Service
		if err := tx.SelectContext(ctx, &rows, `SELECT `+serviceColumns+` FROM servicios WHERE id = ANY($1)`, ids); err != nil {
			return catalog, err
		}
		for _, svc := range rows {
			catalog.Services[svc.ID] = svc
		}
	}
	if ids := reconcile.ReferencedParts(parts, desired); len(ids) > 0 {
		var rows []domain.Part
		if err := tx.SelectContext(ctx, &rows, `SELECT `+partColumns+` FROM repuestos WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids); err != nil {
			return catalog, err
		}
		for _, p := range rows {
			catalog.Parts[p.ID] = p
		}
	}
	return catalog, nil
}

func applyPlan(ctx context.Context, tx *sqlx.Tx, orderID int64, plan reconcile.Plan) error {
	if len(plan.DeleteServices) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM orden_detalle_servicios WHERE orden_id = $1 AND id = ANY($2)`, orderID, plan.DeleteServices); err != nil {
			return err
		}
	}
	for _, line := range plan.UpdateServices {
		if _, err := tx.ExecContext(ctx, `UPDATE orden_detalle_servicios SET precio_aplicado = $2 WHERE id = $1`, line.ID, line.AppliedPrice); err != nil {
			return err
		}
	}
	for _, line := range plan.InsertServices {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orden_detalle_servicios (orden_id, servicio_id, precio_aplicado) VALUES ($1, $2, $3)
		`, orderID, line.ServiceID, line.AppliedPrice)
		if err != nil {
			return err
		}
	}

	if len(plan.DeleteParts) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM orden_detalle_repuestos WHERE orden_id = $1 AND id = ANY($2)`, orderID, plan.DeleteParts); err != nil {
			return err
		}
	}
	for _, line := range plan.UpdateParts {
		_, err := tx.ExecContext(ctx, `
			UPDATE orden_detalle_repuestos SET cantidad = $2, precio_unitario_aplicado = $3 WHERE id = $1
		`, line.ID, line.Quantity, line.UnitPrice)
		if err != nil {
			return err
		}
	}
	for _, line := range plan.InsertParts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orden_detalle_repuestos (orden_id, repuesto_id, cantidad, precio_unitario_aplicado) VALUES ($1, $2, $3, $4)
		`, orderID, line.PartID, line.Quantity, line.UnitPrice)
		if err != nil {
			return err
		}
	}

	if err := applyStock(ctx, tx, plan.StockDelta); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE ordenes SET total_estimado = $2 WHERE id = $1`, orderID, plan.Total)
	return err
}

// applyStock moves stock by delta per part, in id order. A violation of the
// stock >= 0 constraint means the planner raced a concurrent writer.
func applyStock(ctx context.Context, tx *sqlx.Tx, delta map[int64]int) error {
	partIDs := make([]int64, 0, len(delta))
	for partID := range delta {
		partIDs = append(partIDs, partID)
	}
	slices.Sort(partIDs)
	for _, partID := range partIDs {
		n := delta[partID]
		if n == 0 {
			continue
		}
		res, err := tx.ExecContext(ctx, `UPDATE repuestos SET stock = stock + $2 WHERE id = $1`, partID, n)
		if err != nil {
			if isCheckViolation(err) {
				return store.ErrInsufficientStock
			}
			return err
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return fmt.Errorf("%w: repuesto %d", store.ErrInvalidInput, partID)
		}
	}
	return nil
}
