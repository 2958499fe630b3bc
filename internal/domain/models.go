package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Money travels as plain JSON numbers, the way the shop frontend sends it.
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	RoleAdmin     = "admin"
	RoleReception = "recepcion"
	RoleMechanic  = "mecanico"
)

const (
	StatusPending    = "Pendiente"
	StatusInProgress = "En Proceso"
	StatusFinished   = "Finalizado"
	StatusDelivered  = "Entregado"
	StatusCancelled  = "Cancelado"
)

// DefaultRoles and DefaultStatuses are the master rows every store starts with.
// Their position defines their id.
var (
	DefaultRoles    = []string{RoleAdmin, RoleReception, RoleMechanic}
	DefaultStatuses = []string{StatusPending, StatusInProgress, StatusFinished, StatusDelivered, StatusCancelled}
)

// PaymentTolerance absorbs rounding when a payment settles the whole balance.
var PaymentTolerance = decimal.RequireFromString("0.01")

type Role struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"nombre_rol" db:"nombre_rol"`
}

type OrderStatus struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"nombre_estado" db:"nombre_estado"`
}

type User struct {
	ID             int64     `json:"id" db:"id"`
	FirstName      string    `json:"nombre" db:"nombre"`
	LastName       string    `json:"apellido_p" db:"apellido_p"`
	MotherLastName string    `json:"apellido_m" db:"apellido_m"`
	Email          string    `json:"correo" db:"correo"`
	Phone          string    `json:"celular" db:"celular"`
	Password       string    `json:"-" db:"password"`
	RoleID         int64     `json:"rol_id" db:"rol_id"`
	RoleName       string    `json:"rol_nombre" db:"rol_nombre"`
	Active         bool      `json:"activo" db:"activo"`
	CreatedAt      time.Time `json:"creado_at" db:"creado_at"`
}

func (u User) FullName() string {
	return joinName(u.FirstName, u.LastName)
}

type Client struct {
	ID             int64     `json:"id" db:"id"`
	CI             string    `json:"ci" db:"ci"`
	FirstName      string    `json:"nombre" db:"nombre"`
	LastName       string    `json:"apellido_p" db:"apellido_p"`
	MotherLastName string    `json:"apellido_m" db:"apellido_m"`
	Email          string    `json:"correo" db:"correo"`
	Phone          string    `json:"celular" db:"celular"`
	Address        string    `json:"direccion" db:"direccion"`
	Active         bool      `json:"activo" db:"activo"`
	CreatedAt      time.Time `json:"creado_at" db:"creado_at"`
	Vehicles       []Vehicle `json:"autos" db:"-"`
}

func (c Client) FullName() string {
	return joinName(c.FirstName, c.LastName)
}

type Vehicle struct {
	ID       int64  `json:"id" db:"id"`
	ClientID int64  `json:"cliente_id" db:"cliente_id"`
	Plate    string `json:"placa" db:"placa"`
	Brand    string `json:"marca" db:"marca"`
	Model    string `json:"modelo" db:"modelo"`
	Year     int    `json:"anio" db:"anio"`
	Color    string `json:"color" db:"color"`
	VIN      string `json:"vin" db:"vin"`
	Active   bool   `json:"activo" db:"activo"`
}

type Service struct {
	ID          int64           `json:"id" db:"id"`
	Name        string          `json:"nombre" db:"nombre"`
	Description string          `json:"descripcion" db:"descripcion"`
	Price       decimal.Decimal `json:"precio" db:"precio"`
	Active      bool            `json:"activo" db:"activo"`
}

type Part struct {
	ID        int64           `json:"id" db:"id"`
	Name      string          `json:"nombre" db:"nombre"`
	Brand     string          `json:"marca" db:"marca"`
	SalePrice decimal.Decimal `json:"precio_venta" db:"precio_venta"`
	Stock     int             `json:"stock" db:"stock"`
	MinStock  int             `json:"stock_minimo" db:"stock_minimo"`
	Active    bool            `json:"activo" db:"activo"`
}

func (p Part) LowStock() bool {
	return p.Stock <= p.MinStock
}

type OrderServiceLine struct {
	ID           int64           `json:"id" db:"id"`
	OrderID      int64           `json:"orden_id" db:"orden_id"`
	ServiceID    int64           `json:"servicio_id" db:"servicio_id"`
	ServiceName  string          `json:"servicio_nombre" db:"servicio_nombre"`
	AppliedPrice decimal.Decimal `json:"precio_aplicado" db:"precio_aplicado"`
}

type OrderPartLine struct {
	ID        int64           `json:"id" db:"id"`
	OrderID   int64           `json:"orden_id" db:"orden_id"`
	PartID    int64           `json:"repuesto_id" db:"repuesto_id"`
	PartName  string          `json:"repuesto_nombre" db:"repuesto_nombre"`
	Quantity  int             `json:"cantidad" db:"cantidad"`
	UnitPrice decimal.Decimal `json:"precio_unitario_aplicado" db:"precio_unitario_aplicado"`
}

func (l OrderPartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Payment struct {
	ID         int64           `json:"id" db:"id"`
	OrderID    int64           `json:"orden_id" db:"orden_id"`
	Amount     decimal.Decimal `json:"monto" db:"monto"`
	PaidAt     time.Time       `json:"fecha_pago" db:"fecha_pago"`
	Method     string          `json:"metodo_pago" db:"metodo_pago"`
	Reference  string          `json:"referencia" db:"referencia"`
	UserID     int64           `json:"usuario_id" db:"usuario_id"`
	Active     bool            `json:"activo" db:"activo"`
	ClientName string          `json:"cliente_nombre,omitempty" db:"cliente_nombre"`
	Plate      string          `json:"placa,omitempty" db:"placa"`
	OrderTotal *decimal.Decimal `json:"total_orden,omitempty" db:"total_orden"`
}

// Order is a work order with its vehicle, technician and status resolved.
type Order struct {
	ID              int64              `json:"id" db:"id"`
	VehicleID       int64              `json:"auto_id" db:"auto_id"`
	Plate           string             `json:"placa" db:"placa"`
	Brand           string             `json:"marca" db:"marca"`
	Model           string             `json:"modelo" db:"modelo"`
	Year            int                `json:"anio" db:"anio"`
	VIN             string             `json:"vin" db:"vin"`
	ClientID        int64              `json:"cliente_id" db:"cliente_id"`
	ClientName      string             `json:"cliente_nombre" db:"cliente_nombre"`
	ClientCI        string             `json:"cliente_ci" db:"cliente_ci"`
	TechnicianID    int64              `json:"tecnico_id" db:"tecnico_id"`
	TechnicianName  string             `json:"tecnico_nombre" db:"tecnico_nombre"`
	StatusID        int64              `json:"estado_id" db:"estado_id"`
	StatusName      string             `json:"estado_nombre" db:"estado_nombre"`
	ReceivedAt      time.Time          `json:"fecha_ingreso" db:"fecha_ingreso"`
	DeliveredAt     *time.Time         `json:"fecha_entrega" db:"fecha_entrega"`
	ProblemReported string             `json:"problema_reportado" db:"problema_reportado"`
	Diagnosis       string             `json:"diagnostico" db:"diagnostico"`
	EstimatedTotal  decimal.Decimal    `json:"total_estimado" db:"total_estimado"`
	Active          bool               `json:"activo" db:"activo"`
	Services        []OrderServiceLine `json:"detalles_servicios" db:"-"`
	Parts           []OrderPartLine    `json:"detalles_repuestos" db:"-"`
	Payments        []Payment          `json:"pagos" db:"-"`
}

// MarshalJSON adds the balance fields and the legacy aliases of fecha_entrega.
func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	balance := o.Balance()
	services := o.Services
	if services == nil {
		services = []OrderServiceLine{}
	}
	parts := o.Parts
	if parts == nil {
		parts = []OrderPartLine{}
	}
	payments := o.Payments
	if payments == nil {
		payments = []Payment{}
	}
	p := plain(o)
	p.Services, p.Parts, p.Payments = services, parts, payments
	return json.Marshal(struct {
		plain
		EstimatedExit *time.Time      `json:"fecha_estimada_salida"`
		Exit          *time.Time      `json:"fecha_salida"`
		TotalPaid     decimal.Decimal `json:"total_pagado"`
		Outstanding   decimal.Decimal `json:"saldo_pendiente"`
		FullyPaid     bool            `json:"pagado_completamente"`
	}{
		plain:         p,
		EstimatedExit: o.DeliveredAt,
		Exit:          o.DeliveredAt,
		TotalPaid:     balance.TotalPaid,
		Outstanding:   balance.Outstanding,
		FullyPaid:     balance.FullyPaid,
	})
}

// Balance is the account state of an order.
type Balance struct {
	OrderID     int64           `json:"orden_id,omitempty"`
	OrderTotal  decimal.Decimal `json:"total_orden"`
	TotalPaid   decimal.Decimal `json:"total_pagado"`
	Outstanding decimal.Decimal `json:"saldo_pendiente"`
	FullyPaid   bool            `json:"pagado_completamente"`
}

func (o Order) Balance() Balance {
	return ComputeBalance(o.EstimatedTotal, o.Payments)
}

// ComputeBalance sums active payments against total. Outstanding never goes
// below zero.
func ComputeBalance(total decimal.Decimal, payments []Payment) Balance {
	paid := decimal.Zero
	for _, p := range payments {
		if p.Active {
			paid = paid.Add(p.Amount)
		}
	}
	outstanding := total.Sub(paid)
	if outstanding.IsNegative() {
		outstanding = decimal.Zero
	}
	return Balance{
		OrderTotal:  total,
		TotalPaid:   paid,
		Outstanding: outstanding,
		FullyPaid:   outstanding.LessThanOrEqual(PaymentTolerance),
	}
}

type OrderBalanceResponse struct {
	Balance
	EstimatedTotal decimal.Decimal `json:"total_estimado"`
	StatusName     string          `json:"estado_orden"`
	Payments       []Payment       `json:"pagos"`
}

type PaymentResponse struct {
	Payment Payment `json:"payment"`
	Balance Balance `json:"balance"`
}

type RevenueSummary struct {
	TotalIncome   decimal.Decimal `json:"total_ingresos"`
	TotalPayments int             `json:"total_pagos"`
}

type DashboardMetrics struct {
	TotalOrdersMonth int             `json:"total_orders_month"`
	EstimatedIncome  decimal.Decimal `json:"estimated_income"`
	OrdersByStatus   map[string]int  `json:"orders_by_status"`
	ClientsTotal     int             `json:"clients_total"`
	LowStockParts    int             `json:"low_stock_parts"`
	RevenueMonth     decimal.Decimal `json:"revenue_month"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

// IncomeStatuses are the order states counted as committed income.
var IncomeStatuses = []string{StatusInProgress, StatusFinished, StatusDelivered}

// PayableStatuses are the order states that accept payments.
var PayableStatuses = []string{StatusFinished, StatusDelivered}

type LowStockItem struct {
	Part
	SuggestedReorder int `json:"sugerido_reponer"`
}

type LowStockReport struct {
	Items       []LowStockItem `json:"items"`
	GeneratedAt time.Time      `json:"generated_at"`
}

type Actor struct {
	UserID int64
	Email  string
	Role   string
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
