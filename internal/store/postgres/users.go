package postgres

import (
	"context"

	"tallernegreira/backend/internal/domain"
)

const userColumns = `
	u.id, u.nombre, u.apellido_p, u.apellido_m, u.correo, u.celular, u.password,
	u.rol_id, r.nombre_rol AS rol_nombre, u.activo, u.creado_at`

func (s *Store) ListRoles(ctx context.Context) ([]domain.Role, error) {
	roles := make([]domain.Role, 0, 3)
	err := s.db.SelectContext(ctx, &roles, `SELECT id, nombre_rol FROM roles ORDER BY id`)
	return roles, err
}

func (s *Store) ListStatuses(ctx context.Context) ([]domain.OrderStatus, error) {
	statuses := make([]domain.OrderStatus, 0, 5)
	err := s.db.SelectContext(ctx, &statuses, `SELECT id, nombre_estado FROM estados_orden ORDER BY id`)
	return statuses, err
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO usuarios (nombre, apellido_p, apellido_m, correo, celular, password, rol_id, activo, creado_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,true,now())
		RETURNING id
	`, user.FirstName, user.LastName, user.MotherLastName, user.Email, user.Phone, user.Password, user.RoleID).Scan(&id)
	if err != nil {
		return nil, mapError(err)
	}
	return s.GetUser(ctx, id)
}

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var user domain.User
	err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+`
		FROM usuarios u JOIN roles r ON r.id = u.rol_id
		WHERE u.id = $1`, id)
	if err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+`
		FROM usuarios u JOIN roles r ON r.id = u.rol_id
		WHERE lower(u.correo) = lower($1)`, email)
	if err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context, roleName string) ([]domain.User, error) {
	users := make([]domain.User, 0, 16)
	err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+`
		FROM usuarios u JOIN roles r ON r.id = u.rol_id
		WHERE u.activo AND ($1 = '' OR r.nombre_rol = $1)
		ORDER BY u.id`, roleName)
	return users, err
}

func (s *Store) UpdateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	err := expectAffected(s.db.ExecContext(ctx, `
		UPDATE usuarios
		SET nombre = $2, apellido_p = $3, apellido_m = $4, correo = $5, celular = $6,
		    rol_id = $7, activo = $8, password = COALESCE(NULLIF($9, ''), password)
		WHERE id = $1
	`, user.ID, user.FirstName, user.LastName, user.MotherLastName, user.Email, user.Phone, user.RoleID, user.Active, user.Password))
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, user.ID)
}

func (s *Store) UpdateUserPassword(ctx context.Context, id int64, password string) error {
	return expectAffected(s.db.ExecContext(ctx, `UPDATE usuarios SET password = $2 WHERE id = $1`, id, password))
}

func (s *Store) DeactivateUser(ctx context.Context, id int64) error {
	return expectAffected(s.db.ExecContext(ctx, `UPDATE usuarios SET activo = false WHERE id = $1 AND activo`, id))
}
