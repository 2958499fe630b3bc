package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Email    string `json:"correo"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
	User        User   `json:"user"`
}

type RegisterRequest struct {
	FirstName      string `json:"nombre"`
	LastName       string `json:"apellido_p"`
	MotherLastName string `json:"apellido_m"`
	Email          string `json:"correo"`
	Phone          string `json:"celular"`
	Password       string `json:"password"`
	RoleID         int64  `json:"rol_id"`
	RoleName       string `json:"rol"`
}

type UserUpdateRequest struct {
	FirstName      *string `json:"nombre"`
	LastName       *string `json:"apellido_p"`
	MotherLastName *string `json:"apellido_m"`
	Email          *string `json:"correo"`
	Phone          *string `json:"celular"`
	Password       *string `json:"password"`
	RoleID         *int64  `json:"rol_id"`
	Active         *bool   `json:"activo"`
}

type ClientCreateRequest struct {
	CI             string `json:"ci"`
	FirstName      string `json:"nombre"`
	LastName       string `json:"apellido_p"`
	MotherLastName string `json:"apellido_m"`
	Email          string `json:"correo"`
	Phone          string `json:"celular"`
	Address        string `json:"direccion"`
}

type ClientUpdateRequest struct {
	CI             *string `json:"ci"`
	FirstName      *string `json:"nombre"`
	LastName       *string `json:"apellido_p"`
	MotherLastName *string `json:"apellido_m"`
	Email          *string `json:"correo"`
	Phone          *string `json:"celular"`
	Address        *string `json:"direccion"`
}

type VehicleCreateRequest struct {
	Plate string `json:"placa"`
	Brand string `json:"marca"`
	Model string `json:"modelo"`
	Year  int    `json:"anio"`
	Color string `json:"color"`
	VIN   string `json:"vin"`
}

type VehicleUpdateRequest struct {
	Plate *string `json:"placa"`
	Brand *string `json:"marca"`
	Model *string `json:"modelo"`
	Year  *int    `json:"anio"`
	Color *string `json:"color"`
	VIN   *string `json:"vin"`
}

type ServiceCreateRequest struct {
	Name        string           `json:"nombre"`
	Description string           `json:"descripcion"`
	Price       *decimal.Decimal `json:"precio"`
}

type ServiceUpdateRequest struct {
	Name        *string          `json:"nombre"`
	Description *string          `json:"descripcion"`
	Price       *decimal.Decimal `json:"precio"`
	Active      *bool            `json:"activo"`
}

type PartCreateRequest struct {
	Name      string           `json:"nombre"`
	Brand     string           `json:"marca"`
	SalePrice *decimal.Decimal `json:"precio_venta"`
	Stock     int              `json:"stock"`
	MinStock  *int             `json:"stock_minimo"`
}

type PartUpdateRequest struct {
	Name      *string          `json:"nombre"`
	Brand     *string          `json:"marca"`
	SalePrice *decimal.Decimal `json:"precio_venta"`
	Stock     *int             `json:"stock"`
	MinStock  *int             `json:"stock_minimo"`
	Active    *bool            `json:"activo"`
}

type PartLineRequest struct {
	PartID   int64 `json:"repuesto_id"`
	Quantity int   `json:"cantidad"`
}

type OrderCreateRequest struct {
	VehicleID       int64             `json:"auto_id"`
	TechnicianID    int64             `json:"tecnico_id"`
	StatusID        int64             `json:"estado_id"`
	ProblemReported string            `json:"problema_reportado"`
	Diagnosis       string            `json:"diagnostico"`
	DeliveredAt     *time.Time        `json:"fecha_entrega"`
	Services        []int64           `json:"servicios"`
	Parts           []PartLineRequest `json:"repuestos"`
}

// OrderUpdateRequest is a partial update. A present servicios or repuestos list
// replaces the order's lines of that kind; an absent one leaves them alone.
type OrderUpdateRequest struct {
	TechnicianID    *int64             `json:"tecnico_id"`
	StatusID        *int64             `json:"estado_id"`
	ProblemReported *string            `json:"problema_reportado"`
	Diagnosis       *string            `json:"diagnostico"`
	DeliveredAt     *time.Time         `json:"fecha_entrega"`
	Services        *[]int64           `json:"servicios"`
	Parts           *[]PartLineRequest `json:"repuestos"`
}

type OrderStatusRequest struct {
	StatusID int64 `json:"estado_id"`
}

type AddServiceRequest struct {
	ServiceID int64 `json:"servicio_id"`
}

type AddPartRequest struct {
	PartID   int64 `json:"repuesto_id"`
	Quantity int   `json:"cantidad"`
}

type PaymentCreateRequest struct {
	OrderID   int64            `json:"orden_id"`
	Amount    *decimal.Decimal `json:"monto"`
	Method    string           `json:"metodo_pago"`
	Reference string           `json:"referencia"`
}

type Page struct {
	Number  int
	PerPage int
}

// Offset is the number of rows before the page. It saturates at math.MaxInt
// instead of overflowing.
func (p Page) Offset() int {
	if p.Number < 1 || p.PerPage < 1 {
		return 0
	}
	if p.Number-1 > math.MaxInt/p.PerPage {
		return math.MaxInt
	}
	return (p.Number - 1) * p.PerPage
}

type PageResult[T any] struct {
	Items       []T `json:"items"`
	Total       int `json:"total"`
	Pages       int `json:"pages"`
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
}

// NewPageResult fills the page counters from the total row count.
func NewPageResult[T any](items []T, total int, page Page) PageResult[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if page.PerPage > 0 {
		pages = (total + page.PerPage - 1) / page.PerPage
	}
	return PageResult[T]{
		Items:       items,
		Total:       total,
		Pages:       pages,
		CurrentPage: page.Number,
		PerPage:     page.PerPage,
	}
}

type ClientFilter struct {
	Page   Page
	Search string
}

type PartFilter struct {
	Search string
}

type OrderFilter struct {
	Page     Page
	StatusID int64
	ClientID int64
	Search   string
}

type PaymentFilter struct {
	From  *time.Time
	To    *time.Time
	Limit int
}
