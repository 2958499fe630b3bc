package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/service"
	"tallernegreira/backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("credenciales inválidas")
	ErrInactiveAccount    = errors.New("la cuenta está inactiva")
	errInvalidToken       = errors.New("token inválido o expirado")
)

const minPasswordLength = 6

// UserStore is the slice of the repository the auth layer needs.
type UserStore interface {
	ListRoles(ctx context.Context) ([]domain.Role, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context, roleName string) ([]domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) (*domain.User, error)
	UpdateUserPassword(ctx context.Context, id int64, password string) error
	DeactivateUser(ctx context.Context, id int64) error
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    UserStore
	logger   *log.Entry
	now      func() time.Time
}

type tallerClaims struct {
	jwtlib.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		logger:   log.WithField("component", "auth"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a worker account. Only an admin caller may create another
// admin; anonymous registration gets recepcion by default.
func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest, caller *domain.Actor) (*domain.User, error) {
	user := domain.User{
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		MotherLastName: strings.TrimSpace(req.MotherLastName),
		Email:          normalizeEmail(req.Email),
		Phone:          strings.TrimSpace(req.Phone),
	}
	if user.FirstName == "" || user.LastName == "" || user.Email == "" || req.Password == "" {
		return nil, &service.ValidationError{Msg: "nombre, apellido_p, correo y password son obligatorios"}
	}
	if !strings.Contains(user.Email, "@") {
		return nil, &service.ValidationError{Msg: "correo inválido"}
	}
	if len(req.Password) < minPasswordLength {
		return nil, &service.ValidationError{Msg: fmt.Sprintf("password debe tener al menos %d caracteres", minPasswordLength)}
	}

	roleName := strings.TrimSpace(req.RoleName)
	if roleName == "" && req.RoleID == 0 {
		roleName = domain.RoleReception
	}
	role, err := a.resolveRole(ctx, req.RoleID, roleName)
	if err != nil {
		return nil, err
	}
	if role.Name == domain.RoleAdmin && (caller == nil || caller.Role != domain.RoleAdmin) {
		return nil, service.ErrForbidden
	}
	user.RoleID = role.ID

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user.Password = hash

	created, err := a.users.CreateUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("usuario %s: %w", user.Email, err)
	}
	a.logger.WithField("user_id", created.ID).WithField("rol", role.Name).Info("user registered")
	return created, nil
}

func (a *AuthManager) resolveRole(ctx context.Context, id int64, name string) (domain.Role, error) {
	roles, err := a.users.ListRoles(ctx)
	if err != nil {
		return domain.Role{}, err
	}
	for _, role := range roles {
		if (id != 0 && role.ID == id) || (id == 0 && strings.EqualFold(role.Name, name)) {
			return role, nil
		}
	}
	return domain.Role{}, &service.ValidationError{Msg: "rol inválido"}
}

func (a *AuthManager) ListRoles(ctx context.Context) ([]domain.Role, error) {
	return a.users.ListRoles(ctx)
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return domain.LoginResponse{}, &service.ValidationError{Msg: "correo y password son obligatorios"}
	}

	user, err := a.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.LoginResponse{}, err
	}

	switch {
	case isPasswordHash(user.Password):
		if !verifyPassword(user.Password, req.Password) {
			return domain.LoginResponse{}, ErrInvalidCredentials
		}
	case subtle.ConstantTimeCompare([]byte(user.Password), []byte(req.Password)) == 1:
		a.upgradePassword(ctx, *user, req.Password)
	default:
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !user.Active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(*user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		User:        *user,
	}, nil
}

func (a *AuthManager) upgradePassword(ctx context.Context, user domain.User, plain string) {
	hash, err := hashPassword(plain)
	if err != nil {
		return
	}
	if err := a.users.UpdateUserPassword(ctx, user.ID, hash); err != nil {
		a.logger.WithError(err).WithField("user_id", user.ID).Warn("legacy password upgrade failed")
	}
}

// UpgradeLegacyPasswords hashes every stored password that is still plain
// text. It returns how many accounts were upgraded.
func (a *AuthManager) UpgradeLegacyPasswords(ctx context.Context) (int, error) {
	users, err := a.users.ListUsers(ctx, "")
	if err != nil {
		return 0, err
	}

	upgraded := 0
	for _, user := range users {
		if user.Password == "" || isPasswordHash(user.Password) {
			continue
		}
		hash, err := hashPassword(user.Password)
		if err != nil {
			return upgraded, err
		}
		if err := a.users.UpdateUserPassword(ctx, user.ID, hash); err != nil {
			return upgraded, fmt.Errorf("upgrade password of user %d: %w", user.ID, err)
		}
		upgraded++
	}
	return upgraded, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &tallerClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errInvalidToken
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{UserID: id, Email: claims.Email, Role: claims.Role}, nil
}

func (a *AuthManager) sign(user domain.User, expiresAt time.Time) (string, error) {
	claims := tallerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "taller-negreira",
		},
		Role:  user.RoleName,
		Email: user.Email,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	user, err := a.users.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("usuario %d: %w", id, err)
	}
	return user, nil
}

func (a *AuthManager) ListUsers(ctx context.Context, roleName string) ([]domain.User, error) {
	return a.users.ListUsers(ctx, strings.TrimSpace(roleName))
}

func (a *AuthManager) UpdateUser(ctx context.Context, id int64, req domain.UserUpdateRequest) (*domain.User, error) {
	user, err := a.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct {
		src      *string
		dst      *string
		required string
	}{
		{req.FirstName, &user.FirstName, "nombre"},
		{req.LastName, &user.LastName, "apellido_p"},
		{req.MotherLastName, &user.MotherLastName, ""},
		{req.Phone, &user.Phone, ""},
	} {
		if f.src == nil {
			continue
		}
		v := strings.TrimSpace(*f.src)
		if v == "" && f.required != "" {
			return nil, &service.ValidationError{Msg: f.required + " no puede estar vacío"}
		}
		*f.dst = v
	}
	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		if !strings.Contains(email, "@") {
			return nil, &service.ValidationError{Msg: "correo inválido"}
		}
		user.Email = email
	}
	if req.RoleID != nil {
		role, err := a.resolveRole(ctx, *req.RoleID, "")
		if err != nil {
			return nil, err
		}
		user.RoleID = role.ID
	}
	if req.Active != nil {
		user.Active = *req.Active
	}
	// empty keeps the stored hash
	user.Password = ""
	if req.Password != nil {
		if len(*req.Password) < minPasswordLength {
			return nil, &service.ValidationError{Msg: fmt.Sprintf("password debe tener al menos %d caracteres", minPasswordLength)}
		}
		hash, err := hashPassword(*req.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.Password = hash
	}

	updated, err := a.users.UpdateUser(ctx, *user)
	if err != nil {
		return nil, fmt.Errorf("usuario %d: %w", id, err)
	}
	return updated, nil
}

// DeleteUser deactivates an account. Users cannot deactivate themselves.
func (a *AuthManager) DeleteUser(ctx context.Context, id int64, actor domain.Actor) error {
	if actor.UserID == id {
		return &service.ValidationError{Msg: "no puede desactivar su propia cuenta"}
	}
	if err := a.users.DeactivateUser(ctx, id); err != nil {
		return fmt.Errorf("usuario %d: %w", id, err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

// loginLimiter keeps one token bucket per client address.
type loginLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
}

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

const (
	maxTrackedClients = 4096
	visitorIdleTTL    = 10 * time.Minute
)

func newLoginLimiter(perMinute int) *loginLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &loginLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		visitors: make(map[string]*visitor),
	}
}

func (l *loginLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.visitors) >= maxTrackedClients {
		for k, v := range l.visitors {
			if now.Sub(v.seen) > visitorIdleTTL {
				delete(l.visitors, k)
			}
		}
	}
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.seen = now
	return v.limiter.AllowN(now, 1)
}
