package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/store"
)

func (s *Store) CreateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client.CI == "" || client.FirstName == "" {
		return nil, store.ErrInvalidInput
	}
	if err := s.checkClientCI(0, client.CI); err != nil {
		return nil, err
	}

	client.ID = s.id("client")
	client.Active = true
	client.CreatedAt = s.now()
	client.Vehicles = nil
	s.clients[client.ID] = client
	return s.clientView(client), nil
}

func (s *Store) checkClientCI(selfID int64, ci string) error {
	for _, existing := range s.clients {
		if existing.ID != selfID && strings.EqualFold(existing.CI, ci) {
			return fmt.Errorf("%w: ci %s", store.ErrConflict, ci)
		}
	}
	return nil
}

func (s *Store) clientView(c domain.Client) *domain.Client {
	c.Vehicles = s.activeVehicles(c.ID)
	return &c
}

func (s *Store) activeVehicles(clientID int64) []domain.Vehicle {
	vehicles := make([]domain.Vehicle, 0)
	for _, v := range s.vehicles {
		if v.Active && (clientID == 0 || v.ClientID == clientID) {
			vehicles = append(vehicles, v)
		}
	}
	slices.SortFunc(vehicles, func(a, b domain.Vehicle) int { return cmp.Compare(a.ID, b.ID) })
	return vehicles
}

func (s *Store) GetClient(_ context.Context, id int64) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok || !client.Active {
		return nil, store.ErrNotFound
	}
	return s.clientView(client), nil
}

func (s *Store) ListClients(_ context.Context, filter domain.ClientFilter) (domain.PageResult[domain.Client], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		if !c.Active {
			continue
		}
		if q := filter.Search; q != "" &&
			!containsFold(c.FirstName, q) && !containsFold(c.LastName, q) &&
			!containsFold(c.CI, q) && !containsFold(c.Email, q) {
			continue
		}
		clients = append(clients, *s.clientView(c))
	}
	slices.SortFunc(clients, func(a, b domain.Client) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return paginate(clients, filter.Page), nil
}

func (s *Store) UpdateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.clients[client.ID]
	if !ok || !existing.Active {
		return nil, store.ErrNotFound
	}
	if err := s.checkClientCI(client.ID, client.CI); err != nil {
		return nil, err
	}
	client.Active = existing.Active
	client.CreatedAt = existing.CreatedAt
	client.Vehicles = nil
	s.clients[client.ID] = client
	return s.clientView(client), nil
}

func (s *Store) DeactivateClient(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[id]
	if !ok || !client.Active {
		return store.ErrNotFound
	}
	client.Active = false
	s.clients[id] = client
	return nil
}

func (s *Store) CreateVehicle(_ context.Context, vehicle domain.Vehicle) (*domain.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if vehicle.Plate == "" {
		return nil, store.ErrInvalidInput
	}
	owner, ok := s.clients[vehicle.ClientID]
	if !ok || !owner.Active {
		return nil, store.ErrNotFound
	}
	if err := s.checkPlate(0, vehicle.Plate); err != nil {
		return nil, err
	}

	vehicle.ID = s.id("vehicle")
	vehicle.Active = true
	s.vehicles[vehicle.ID] = vehicle
	created := vehicle
	return &created, nil
}

func (s *Store) checkPlate(selfID int64, plate string) error {
	for _, existing := range s.vehicles {
		if existing.ID != selfID && strings.EqualFold(existing.Plate, plate) {
			return fmt.Errorf("%w: placa %s", store.ErrConflict, plate)
		}
	}
	return nil
}

func (s *Store) GetVehicle(_ context.Context, id int64) (*domain.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicle, ok := s.vehicles[id]
	if !ok || !vehicle.Active {
		return nil, store.ErrNotFound
	}
	return &vehicle, nil
}

// ListVehicles lists active vehicles of one client, or of every client when
// clientID is zero.
func (s *Store) ListVehicles(_ context.Context, clientID int64) ([]domain.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if clientID != 0 {
		if c, ok := s.clients[clientID]; !ok || !c.Active {
			return nil, store.ErrNotFound
		}
	}
	return s.activeVehicles(clientID), nil
}

func (s *Store) UpdateVehicle(_ context.Context, vehicle domain.Vehicle) (*domain.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.vehicles[vehicle.ID]
	if !ok || !existing.Active {
		return nil, store.ErrNotFound
	}
	if vehicle.Plate == "" {
		return nil, store.ErrInvalidInput
	}
	if err := s.checkPlate(vehicle.ID, vehicle.Plate); err != nil {
		return nil, err
	}
	vehicle.ClientID = existing.ClientID
	vehicle.Active = existing.Active
	s.vehicles[vehicle.ID] = vehicle
	updated := vehicle
	return &updated, nil
}

func (s *Store) DeactivateVehicle(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vehicle, ok := s.vehicles[id]
	if !ok || !vehicle.Active {
		return store.ErrNotFound
	}
	vehicle.Active = false
	s.vehicles[id] = vehicle
	return nil
}

func (s *Store) CreateService(_ context.Context, svc domain.Service) (*domain.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc.Name == "" || svc.Price.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	svc.ID = s.id("service")
	svc.Active = true
	s.services[svc.ID] = svc
	created := svc
	return &created, nil
}

func (s *Store) GetService(_ context.Context, id int64) (*domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &svc, nil
}

func (s *Store) ListServices(_ context.Context) ([]domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	services := make([]domain.Service, 0, len(s.services))
	for _, svc := range s.services {
		if svc.Active {
			services = append(services, svc)
		}
	}
	slices.SortFunc(services, func(a, b domain.Service) int { return cmp.Compare(a.Name, b.Name) })
	return services, nil
}

func (s *Store) UpdateService(_ context.Context, svc domain.Service) (*domain.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.services[svc.ID]; !ok {
		return nil, store.ErrNotFound
	}
	if svc.Name == "" || svc.Price.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	s.services[svc.ID] = svc
	updated := svc
	return &updated, nil
}

func (s *Store) DeactivateService(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[id]
	if !ok || !svc.Active {
		return store.ErrNotFound
	}
	svc.Active = false
	s.services[id] = svc
	return nil
}

func (s *Store) CreatePart(_ context.Context, part domain.Part) (*domain.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if part.Name == "" || part.SalePrice.IsNegative() || part.Stock < 0 || part.MinStock < 0 {
		return nil, store.ErrInvalidInput
	}
	part.ID = s.id("part")
	part.Active = true
	s.parts[part.ID] = part
	created := part
	return &created, nil
}

func (s *Store) GetPart(_ context.Context, id int64) (*domain.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part, ok := s.parts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &part, nil
}

func (s *Store) ListParts(_ context.Context, filter domain.PartFilter) ([]domain.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := make([]domain.Part, 0, len(s.parts))
	for _, p := range s.parts {
		if !p.Active {
			continue
		}
		if q := filter.Search; q != "" && !containsFold(p.Name, q) && !containsFold(p.Brand, q) {
			continue
		}
		parts = append(parts, p)
	}
	slices.SortFunc(parts, func(a, b domain.Part) int { return cmp.Compare(a.Name, b.Name) })
	return parts, nil
}

func (s *Store) UpdatePart(_ context.Context, id int64, patch store.PartPatch) (*domain.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.parts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.Name != nil {
		part.Name = *patch.Name
	}
	if patch.Brand != nil {
		part.Brand = *patch.Brand
	}
	if patch.SalePrice != nil {
		part.SalePrice = *patch.SalePrice
	}
	if patch.Stock != nil {
		part.Stock = *patch.Stock
	}
	if patch.MinStock != nil {
		part.MinStock = *patch.MinStock
	}
	if patch.Active != nil {
		part.Active = *patch.Active
	}
	if part.Name == "" || part.SalePrice.IsNegative() || part.Stock < 0 || part.MinStock < 0 {
		return nil, store.ErrInvalidInput
	}
	s.parts[id] = part
	updated := part
	return &updated, nil
}

func (s *Store) DeactivatePart(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.parts[id]
	if !ok || !part.Active {
		return store.ErrNotFound
	}
	part.Active = false
	s.parts[id] = part
	return nil
}

func (s *Store) ListLowStockParts(_ context.Context) ([]domain.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := make([]domain.Part, 0)
	for _, p := range s.parts {
		if p.Active && p.LowStock() {
			parts = append(parts, p)
		}
	}
	slices.SortFunc(parts, func(a, b domain.Part) int {
		if c := cmp.Compare(a.Stock-a.MinStock, b.Stock-b.MinStock); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return parts, nil
}
