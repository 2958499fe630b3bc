package service

import (
	"context"
	"fmt"
	"strings"

	"tallernegreira/backend/internal/domain"
)

func (s *Service) CreateClient(ctx context.Context, req domain.ClientCreateRequest) (*domain.Client, error) {
	client := domain.Client{
		CI:             strings.TrimSpace(req.CI),
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		MotherLastName: strings.TrimSpace(req.MotherLastName),
		Email:          strings.TrimSpace(req.Email),
		Phone:          strings.TrimSpace(req.Phone),
		Address:        strings.TrimSpace(req.Address),
	}
	if client.CI == "" || client.FirstName == "" || client.LastName == "" {
		return nil, invalid("ci, nombre y apellido_p son obligatorios")
	}

	created, err := s.repo.CreateClient(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("cliente con CI %s: %w", client.CI, err)
	}
	s.reportsChanged(ctx)
	return created, nil
}

func (s *Service) GetClient(ctx context.Context, id int64) (*domain.Client, error) {
	client, err := s.repo.GetClient(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cliente %d: %w", id, err)
	}
	return client, nil
}

func (s *Service) ListClients(ctx context.Context, filter domain.ClientFilter) (domain.PageResult[domain.Client], error) {
	filter.Search = strings.TrimSpace(filter.Search)
	return s.repo.ListClients(ctx, filter)
}

func (s *Service) UpdateClient(ctx context.Context, id int64, req domain.ClientUpdateRequest) (*domain.Client, error) {
	client, err := s.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct {
		src      *string
		dst      *string
		required string
	}{
		{req.CI, &client.CI, "ci"},
		{req.FirstName, &client.FirstName, "nombre"},
		{req.LastName, &client.LastName, "apellido_p"},
		{req.MotherLastName, &client.MotherLastName, ""},
		{req.Email, &client.Email, ""},
		{req.Phone, &client.Phone, ""},
		{req.Address, &client.Address, ""},
	} {
		v := trimmed(f.src)
		if v == nil {
			continue
		}
		if *v == "" && f.required != "" {
			return nil, invalid("%s no puede estar vacío", f.required)
		}
		*f.dst = *v
	}

	updated, err := s.repo.UpdateClient(ctx, *client)
	if err != nil {
		return nil, fmt.Errorf("cliente %d: %w", id, err)
	}
	return updated, nil
}

func (s *Service) DeleteClient(ctx context.Context, id int64) error {
	if err := s.repo.DeactivateClient(ctx, id); err != nil {
		return fmt.Errorf("cliente %d: %w", id, err)
	}
	s.reportsChanged(ctx)
	return nil
}

func normalizePlate(plate string) string {
	return strings.ToUpper(strings.Join(strings.Fields(plate), ""))
}

func (s *Service) AddVehicle(ctx context.Context, clientID int64, req domain.VehicleCreateRequest) (*domain.Vehicle, error) {
	vehicle := domain.Vehicle{
		ClientID: clientID,
		Plate:    normalizePlate(req.Plate),
		Brand:    strings.TrimSpace(req.Brand),
		Model:    strings.TrimSpace(req.Model),
		Year:     req.Year,
		Color:    strings.TrimSpace(req.Color),
		VIN:      strings.ToUpper(strings.TrimSpace(req.VIN)),
	}
	if vehicle.Plate == "" {
		return nil, invalid("placa es obligatoria")
	}
	if vehicle.Year < 0 {
		return nil, invalid("anio inválido")
	}

	created, err := s.repo.CreateVehicle(ctx, vehicle)
	if err != nil {
		return nil, fmt.Errorf("auto %s: %w", vehicle.Plate, err)
	}
	return created, nil
}

func (s *Service) ListClientVehicles(ctx context.Context, clientID int64) ([]domain.Vehicle, error) {
	vehicles, err := s.repo.ListVehicles(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("cliente %d: %w", clientID, err)
	}
	return vehicles, nil
}

func (s *Service) ListVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	return s.repo.ListVehicles(ctx, 0)
}

func (s *Service) UpdateVehicle(ctx context.Context, id int64, req domain.VehicleUpdateRequest) (*domain.Vehicle, error) {
	vehicle, err := s.repo.GetVehicle(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("auto %d: %w", id, err)
	}

	if req.Plate != nil {
		plate := normalizePlate(*req.Plate)
		if plate == "" {
			return nil, invalid("placa no puede estar vacía")
		}
		vehicle.Plate = plate
	}
	if v := trimmed(req.Brand); v != nil {
		vehicle.Brand = *v
	}
	if v := trimmed(req.Model); v != nil {
		vehicle.Model = *v
	}
	if req.Year != nil {
		if *req.Year < 0 {
			return nil, invalid("anio inválido")
		}
		vehicle.Year = *req.Year
	}
	if v := trimmed(req.Color); v != nil {
		vehicle.Color = *v
	}
	if v := trimmed(req.VIN); v != nil {
		vehicle.VIN = strings.ToUpper(*v)
	}

	updated, err := s.repo.UpdateVehicle(ctx, *vehicle)
	if err != nil {
		return nil, fmt.Errorf("auto %d: %w", id, err)
	}
	return updated, nil
}

func (s *Service) DeleteVehicle(ctx context.Context, id int64) error {
	if err := s.repo.DeactivateVehicle(ctx, id); err != nil {
		return fmt.Errorf("auto %d: %w", id, err)
	}
	return nil
}
