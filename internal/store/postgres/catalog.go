package postgres

import (
	"context"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/store"
)

const clientColumns = `id, ci, nombre, apellido_p, apellido_m, correo, celular, direccion, activo, creado_at`

const vehicleColumns = `id, cliente_id, placa, marca, modelo, anio, color, vin, activo`

func (s *Store) CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO clientes (ci, nombre, apellido_p, apellido_m, correo, celular, direccion, activo, creado_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,true,now())
		RETURNING id
	`, client.CI, client.FirstName, client.LastName, client.MotherLastName, client.Email, client.Phone, client.Address).Scan(&id)
	if err != nil {
		return nil, mapError(err)
	}
	return s.GetClient(ctx, id)
}

func (s *Store) GetClient(ctx context.Context, id int64) (*domain.Client, error) {
	var client domain.Client
	if err := s.db.GetContext(ctx, &client, `SELECT `+clientColumns+` FROM clientes WHERE id = $1 AND activo`, id); err != nil {
		return nil, mapError(err)
	}
	vehicles, err := s.vehiclesOf(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	client.Vehicles = vehicles[id]
	if client.Vehicles == nil {
		client.Vehicles = []domain.Vehicle{}
	}
	return &client, nil
}

func (s *Store) vehiclesOf(ctx context.Context, clientIDs []int64) (map[int64][]domain.Vehicle, error) {
	vehicles := make([]domain.Vehicle, 0)
	err := s.db.SelectContext(ctx, &vehicles, `SELECT `+vehicleColumns+`
		FROM autos WHERE activo AND cliente_id = ANY($1) ORDER BY id`, clientIDs)
	if err != nil {
		return nil, err
	}
	byClient := make(map[int64][]domain.Vehicle, len(clientIDs))
	for _, v := range vehicles {
		byClient[v.ClientID] = append(byClient[v.ClientID], v)
	}
	return byClient, nil
}

func (s *Store) ListClients(ctx context.Context, filter domain.ClientFilter) (domain.PageResult[domain.Client], error) {
	where := `WHERE activo`
	args := []any{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where += ` AND (nombre ILIKE $1 OR apellido_p ILIKE $1 OR ci ILIKE $1 OR correo ILIKE $1)`
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM clientes `+where, args...); err != nil {
		return domain.PageResult[domain.Client]{}, err
	}

	clients := make([]domain.Client, 0, filter.Page.PerPage)
	args = append(args, filter.Page.PerPage, filter.Page.Offset())
	query := `SELECT ` + clientColumns + ` FROM clientes ` + where +
		` ORDER BY creado_at DESC, id DESC LIMIT $` + itoa(len(args)-1) + ` OFFSET $` + itoa(len(args))
	if err := s.db.SelectContext(ctx, &clients, query, args...); err != nil {
		return domain.PageResult[domain.Client]{}, err
	}

	if len(clients) > 0 {
		ids := make([]int64, len(clients))
		for i, c := range clients {
			ids[i] = c.ID
		}
		vehicles, err := s.vehiclesOf(ctx, ids)
		if err != nil {
			return domain.PageResult[domain.Client]{}, err
		}
		for i := range clients {
			clients[i].Vehicles = vehicles[clients[i].ID]
			if clients[i].Vehicles == nil {
				clients[i].Vehicles = []domain.Vehicle{}
			}
		}
	}
	return domain.NewPageResult(clients, total, filter.Page), nil
}

func (s *Store) UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	err := expectAffected(s.db.ExecContext(ctx, `
		UPDATE clientes
		SET ci = $2, nombre = $3, apellido_p = $4, apellido_m = $5, correo = $6, celular = $7, direccion = $8
		WHERE id = $1 AND activo
	`, client.ID, client.CI, client.FirstName, client.LastName, client.MotherLastName, client.Email, client.Phone, client.Address))
	if err != nil {
		return nil, err
	}
	return s.GetClient(ctx, client.ID)
}

func (s *Store) DeactivateClient(ctx context.Context, id int64) error {
	return expectAffected(s.db.ExecContext(ctx, `UPDATE clientes SET activo = false WHERE id = $1 AND activo`, id))
}

func (s *Store) CreateVehicle(ctx context.Context, vehicle domain.Vehicle) (*domain.Vehicle, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM clientes WHERE id = $1 AND activo)`, vehicle.ClientID); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	var created domain.Vehicle
	err := s.db.GetContext(ctx, &created, `
		INSERT INTO autos (cliente_id, placa, marca, modelo, anio, color, vin, activo)
		VALUES ($1,$2,$3,$4,$5,$6,$7,true)
		RETURNING `+vehicleColumns,
		vehicle.ClientID, vehicle.Plate, vehicle.Brand, vehicle.Model, vehicle.Year, vehicle.Color, vehicle.VIN)
	if err != nil {
		return nil, mapError(err)
	}
	return &created, nil
}

func (s *Store) GetVehicle(ctx context.Context, id int64) (*domain.Vehicle, error) {
	var vehicle domain.Vehicle
	if err := s.db.GetContext(ctx, &vehicle, `SELECT `+vehicleColumns+` FROM autos WHERE id = $1 AND activo`, id); err != nil {
		return nil, mapError(err)
	}
	return &vehicle, nil
}

func (s *Store) ListVehicles(ctx context.Context, clientID int64) ([]domain.Vehicle, error) {
	vehicles := make([]domain.Vehicle, 0)
	if clientID == 0 {
		err := s.db.SelectContext(ctx, &vehicles, `SELECT `+vehicleColumns+` FROM autos WHERE activo ORDER BY id`)
		return vehicles, err
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM clientes WHERE id = $1 AND activo)`, clientID); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	err := s.db.SelectContext(ctx, &vehicles, `SELECT `+vehicleColumns+` FROM autos WHERE activo AND cliente_id = $1 ORDER BY id`, clientID)
	return vehicles, err
}

func (s *Store) UpdateVehicle(ctx context.Context, vehicle domain.Vehicle) (*domain.Vehicle, error) {
	var updated domain.Vehicle
	err := s.db.GetContext(ctx, &updated, `
		UPDATE autos
		SET placa = $2, marca = $3, modelo = $4, anio = $5, color = $6, vin = $7
		WHERE id = $1 AND activo
		RETURNING `+vehicleColumns,
		vehicle.ID, vehicle.Plate, vehicle.Brand, vehicle.Model, vehicle.Year, vehicle.Color, vehicle.VIN)
	if err != nil {
		return nil, mapError(err)
	}
	return &updated, nil
}

func (s *Store) DeactivateVehicle(ctx context.Context, id int64) error {
	return expectAffected(s.db.ExecContext(ctx, `UPDATE autos SET activo = false WHERE id = $1 AND activo`, id))
}

const serviceColumns = `id, nombre, descripcion, precio, activo`

func (s *Store) CreateService(ctx context.Context, svc domain.Service) (*domain.Service, error) {
	var created domain.Service
	err := s.db.GetContext(ctx, &created, `
		INSERT INTO servicios (nombre, descripcion, precio, activo)
		VALUES ($1,$2,$3,true)
		RETURNING `+serviceColumns, svc.Name, svc.Description, svc.Price)
	if err != nil {
		return nil, mapError(err)
	}
	return &created, nil
}

func (s *Store) GetService(ctx context.Context, id int64) (*domain.Service, error) {
	var svc domain.Service
	if err := s.db.GetContext(ctx, &svc, `SELECT `+serviceColumns+` FROM servicios WHERE id = $1`, id); err != nil {
		return nil, mapError(err)
	}
	return &svc, nil
}

func (s *Store) ListServices(ctx context.Context) ([]domain.Service, error) {
	services := make([]domain.Service, 0, 32)
	err := s.db.SelectContext(ctx, &services, `SELECT `+serviceColumns+` FROM servicios WHERE activo ORDER BY nombre`)
	return services, err
}

func (s *Store) UpdateService(ctx context.Context, svc domain.Service) (*domain.Service, error) {
	var updated domain.Service
	err := s.db.GetContext(ctx, &updated, `
		UPDATE servicios SET nombre = $2, descripcion = $3, precio = $4, activo = $5
		WHERE id = $1
		RETURNING `+serviceColumns, svc.ID, svc.Name, svc.Description, svc.Price, svc.Active)
	if err != nil {
		return nil, mapError(err)
	}
	return &updated, nil
}

func (s *Store) DeactivateService(ctx context.Context, id int64) error {
	return expectAffected(s.db.ExecContext(ctx, `UPDATE servicios SET activo = false WHERE id = $1 AND activo`, id))
}

const partColumns = `id, nombre, marca, precio_venta, stock, stock_minimo, activo`

func (s *Store) CreatePart(ctx context.Context, part domain.Part) (*domain.Part, error) {
	var created domain.Part
	err := s.db.GetContext(ctx, &created, `
		INSERT INTO repuestos (nombre, marca, precio_venta, stock, stock_minimo, activo)
		VALUES ($1,$2,$3,$4,$5,true)
		RETURNING `+partColumns, part.Name, part.Brand, part.SalePrice, part.Stock, part.MinStock)
	if err != nil {
		return nil, mapError(err)
	}
	return &created, nil
}

func (s *Store) GetPart(ctx context.Context, id int64) (*domain.Part, error) {
	var part domain.Part
	if err := s.db.GetContext(ctx, &part, `SELECT `+partColumns+` FROM repuestos WHERE id = $1`, id); err != nil {
		return nil, mapError(err)
	}
	return &part, nil
}

func (s *Store) ListParts(ctx context.Context, filter domain.PartFilter) ([]domain.Part, error) {
	parts := make([]domain.Part, 0, 64)
	err := s.db.SelectContext(ctx, &parts, `SELECT `+partColumns+`
		FROM repuestos
		WHERE activo AND ($1 = '' OR nombre ILIKE '%' || $1 || '%' OR marca ILIKE '%' || $1 || '%')
		ORDER BY nombre`, filter.Search)
	return parts, err
}

func (s *Store) UpdatePart(ctx context.Context, id int64, patch store.PartPatch) (*domain.Part, error) {
	var updated domain.Part
	err := s.db.GetContext(ctx, &updated, `
		UPDATE repuestos
		SET nombre = COALESCE($2::text, nombre),
			marca = COALESCE($3::text, marca),
			precio_venta = COALESCE($4::numeric, precio_venta),
			stock = COALESCE($5::integer, stock),
			stock_minimo = COALESCE($6::integer, stock_minimo),
			activo = COALESCE($7::boolean, activo)
		WHERE id = $1
		RETURNING `+partColumns, id, patch.Name, patch.Brand, patch.SalePrice, patch.Stock, patch.MinStock, patch.Active)
	if err != nil {
		return nil, mapError(err)
	}
	return &updated, nil
}

func (s *Store) DeactivatePart(ctx context.Context, id int64) error {
	return expectAffected(s.db.ExecContext(ctx, `UPDATE repuestos SET activo = false WHERE id = $1 AND activo`, id))
}

func (s *Store) ListLowStockParts(ctx context.Context) ([]domain.Part, error) {
	parts := make([]domain.Part, 0, 16)
	err := s.db.SelectContext(ctx, &parts, `SELECT `+partColumns+`
		FROM repuestos
		WHERE activo AND stock <= stock_minimo
		ORDER BY stock - stock_minimo, id`)
	return parts, err
}
