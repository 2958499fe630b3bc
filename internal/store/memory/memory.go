package memory

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/store"
)

type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	nextID map[string]int64

	roles    []domain.Role
	statuses []domain.OrderStatus
	users    map[int64]domain.User
	clients  map[int64]domain.Client
	vehicles map[int64]domain.Vehicle
	services map[int64]domain.Service
	parts    map[int64]domain.Part
	orders   map[int64]domain.Order
	// order lines are kept apart from the order header, as in the database
	serviceLines map[int64][]domain.OrderServiceLine
	partLines    map[int64][]domain.OrderPartLine
	payments     map[int64]domain.Payment
}

// New returns an empty store holding only the master roles and statuses.
func New() *Store {
	s := &Store{
		now:          func() time.Time { return time.Now().UTC() },
		nextID:       map[string]int64{},
		users:        map[int64]domain.User{},
		clients:      map[int64]domain.Client{},
		vehicles:     map[int64]domain.Vehicle{},
		services:     map[int64]domain.Service{},
		parts:        map[int64]domain.Part{},
		orders:       map[int64]domain.Order{},
		serviceLines: map[int64][]domain.OrderServiceLine{},
		partLines:    map[int64][]domain.OrderPartLine{},
		payments:     map[int64]domain.Payment{},
	}
	for i, name := range domain.DefaultRoles {
		s.roles = append(s.roles, domain.Role{ID: int64(i + 1), Name: name})
	}
	for i, name := range domain.DefaultStatuses {
		s.statuses = append(s.statuses, domain.OrderStatus{ID: int64(i + 1), Name: name})
	}
	return s
}

// SetClock replaces the store's time source. Tests use it to pin fecha_ingreso
// and fecha_pago.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// NewSeeded returns a store with demo catalog data and one user per role.
// Passwords come from SEED_ADMIN_PASSWORD, SEED_RECEPTION_PASSWORD and
// SEED_MECHANIC_PASSWORD; dev defaults are used with a warning when unset.
func NewSeeded() *Store {
	s := New()
	logger := log.WithField("component", "memory-store")

	if os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD, SEED_RECEPTION_PASSWORD and SEED_MECHANIC_PASSWORD to override")
	}
	for _, u := range []struct {
		first, last, email, envKey, fallback, role string
	}{
		{"Admin", "Taller", "admin@taller.com", "SEED_ADMIN_PASSWORD", "admin123", domain.RoleAdmin},
		{"Rosa", "Quispe", "recepcion@taller.com", "SEED_RECEPTION_PASSWORD", "recepcion123", domain.RoleReception},
		{"Mario", "Condori", "mecanico@taller.com", "SEED_MECHANIC_PASSWORD", "mecanico123", domain.RoleMechanic},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(envOr(u.envKey, u.fallback)), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatalf("failed to hash seed password for %s: %v", u.email, err)
		}
		role, _ := s.roleByName(u.role)
		id := s.id("user")
		s.users[id] = domain.User{
			ID: id, FirstName: u.first, LastName: u.last, Email: u.email,
			Password: string(hash), RoleID: role.ID, Active: true, CreatedAt: s.now(),
		}
	}

	for _, svc := range []domain.Service{
		{Name: "Cambio de aceite", Description: "Aceite y filtro", Price: decimal.NewFromInt(150)},
		{Name: "Alineado y balanceo", Description: "Cuatro ruedas", Price: decimal.NewFromInt(120)},
		{Name: "Diagnóstico por escáner", Price: decimal.NewFromInt(80)},
		{Name: "Cambio de pastillas de freno", Price: decimal.NewFromInt(200)},
	} {
		svc.ID = s.id("service")
		svc.Active = true
		s.services[svc.ID] = svc
	}

	for _, p := range []domain.Part{
		{Name: "Filtro de aceite", Brand: "Bosch", SalePrice: decimal.NewFromInt(45), Stock: 20, MinStock: 5},
		{Name: "Aceite 10W-40 (litro)", Brand: "Castrol", SalePrice: decimal.NewFromInt(60), Stock: 40, MinStock: 10},
		{Name: "Pastillas de freno", Brand: "Brembo", SalePrice: decimal.NewFromInt(180), Stock: 6, MinStock: 4},
		{Name: "Bujía", Brand: "NGK", SalePrice: decimal.NewFromInt(25), Stock: 3, MinStock: 8},
	} {
		p.ID = s.id("part")
		p.Active = true
		s.parts[p.ID] = p
	}

	clientID := s.id("client")
	s.clients[clientID] = domain.Client{
		ID: clientID, CI: "1234567", FirstName: "Juan", LastName: "Pérez",
		Email: "juan.perez@example.com", Phone: "70000000", Active: true, CreatedAt: s.now(),
	}
	vehicleID := s.id("vehicle")
	s.vehicles[vehicleID] = domain.Vehicle{
		ID: vehicleID, ClientID: clientID, Plate: "1234ABC", Brand: "Toyota", Model: "Corolla",
		Year: 2015, Color: "Blanco", Active: true,
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) id(kind string) int64 {
	s.nextID[kind]++
	return s.nextID[kind]
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) ListRoles(_ context.Context) ([]domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.roles), nil
}

func (s *Store) ListStatuses(_ context.Context) ([]domain.OrderStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.statuses), nil
}

func (s *Store) roleByName(name string) (domain.Role, bool) {
	for _, r := range s.roles {
		if r.Name == name {
			return r, true
		}
	}
	return domain.Role{}, false
}

func (s *Store) roleName(id int64) string {
	for _, r := range s.roles {
		if r.ID == id {
			return r.Name
		}
	}
	return ""
}

func (s *Store) statusName(id int64) string {
	for _, st := range s.statuses {
		if st.ID == id {
			return st.Name
		}
	}
	return ""
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Email == "" || user.Password == "" {
		return nil, store.ErrInvalidInput
	}
	if s.roleName(user.RoleID) == "" {
		return nil, fmt.Errorf("%w: rol %d", store.ErrInvalidInput, user.RoleID)
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return nil, fmt.Errorf("%w: correo %s", store.ErrConflict, user.Email)
		}
	}

	user.ID = s.id("user")
	user.Active = true
	user.CreatedAt = s.now()
	s.users[user.ID] = user
	return s.userView(user), nil
}

func (s *Store) userView(u domain.User) *domain.User {
	u.RoleName = s.roleName(u.RoleID)
	return &u
}

func (s *Store) GetUser(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.userView(user), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return s.userView(user), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context, roleName string) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.users))
	for _, user := range s.users {
		if !user.Active {
			continue
		}
		view := s.userView(user)
		if roleName != "" && view.RoleName != roleName {
			continue
		}
		users = append(users, *view)
	}
	slices.SortFunc(users, func(a, b domain.User) int { return cmp.Compare(a.ID, b.ID) })
	return users, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.roleName(user.RoleID) == "" {
		return nil, fmt.Errorf("%w: rol %d", store.ErrInvalidInput, user.RoleID)
	}
	for _, other := range s.users {
		if other.ID != user.ID && strings.EqualFold(other.Email, user.Email) {
			return nil, fmt.Errorf("%w: correo %s", store.ErrConflict, user.Email)
		}
	}

	user.CreatedAt = existing.CreatedAt
	if user.Password == "" {
		user.Password = existing.Password
	}
	s.users[user.ID] = user
	return s.userView(user), nil
}

func (s *Store) UpdateUserPassword(_ context.Context, id int64, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[id] = user
	return nil
}

func (s *Store) DeactivateUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok || !user.Active {
		return store.ErrNotFound
	}
	user.Active = false
	s.users[id] = user
	return nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func paginate[T any](items []T, page domain.Page) domain.PageResult[T] {
	total := len(items)
	start := min(page.Offset(), total)
	end := total
	if page.PerPage > 0 {
		end = min(start+page.PerPage, total)
	}
	return domain.NewPageResult(slices.Clone(items[start:end]), total, page)
}
