// Package reconcile computes the changes needed to bring the detail lines of a
// work order to a desired state, including the stock movements they imply.
//
// The planner is pure: stores load the current lines and the catalog rows
// inside their own transaction, call Build, and apply the resulting Plan.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tallernegreira/backend/internal/domain"
)

var (
	ErrServiceUnavailable = errors.New("servicio no encontrado o inactivo")
	ErrPartUnavailable    = errors.New("repuesto no encontrado o inactivo")
	ErrInvalidQuantity    = errors.New("cantidad debe ser mayor a cero")
	ErrInsufficientStock  = errors.New("stock insuficiente")
)

type PartLine struct {
	PartID   int64
	Quantity int
}

// Desired is the target state of an order's lines. A list is only applied when
// its Set flag is true; otherwise the current lines are left untouched.
// With Additive set the lists are added on top of the current lines instead of
// replacing them: services already on the order are ignored and part
// quantities are summed.
type Desired struct {
	Services    []int64
	Parts       []PartLine
	SetServices bool
	SetParts    bool
	Additive    bool
}

// Catalog holds the catalog rows referenced by the current and desired lines.
type Catalog struct {
	Services map[int64]domain.Service
	Parts    map[int64]domain.Part
}

type Plan struct {
	DeleteServices []int64
	UpdateServices []domain.OrderServiceLine
	InsertServices []domain.OrderServiceLine

	DeleteParts []int64
	UpdateParts []domain.OrderPartLine
	InsertParts []domain.OrderPartLine

	// StockDelta is the change to apply to each part's stock. Negative values
	// consume stock, positive values refund it.
	StockDelta map[int64]int

	Services []domain.OrderServiceLine
	Parts    []domain.OrderPartLine
	Total    decimal.Decimal
}

// Empty reports whether applying the plan would change nothing but the total.
func (p Plan) Empty() bool {
	return len(p.DeleteServices) == 0 && len(p.UpdateServices) == 0 && len(p.InsertServices) == 0 &&
		len(p.DeleteParts) == 0 && len(p.UpdateParts) == 0 && len(p.InsertParts) == 0
}

func Build(orderID int64, services []domain.OrderServiceLine, parts []domain.OrderPartLine, desired Desired, catalog Catalog) (Plan, error) {
	plan := Plan{StockDelta: map[int64]int{}}
	if desired.Additive {
		desired = merge(services, parts, desired)
	}

	if desired.SetServices {
		if err := planServices(&plan, orderID, services, desired.Services, catalog.Services); err != nil {
			return Plan{}, err
		}
	} else {
		plan.Services = append(plan.Services, services...)
	}

	if desired.SetParts {
		if err := planParts(&plan, orderID, parts, desired.Parts, catalog.Parts); err != nil {
			return Plan{}, err
		}
	} else {
		plan.Parts = append(plan.Parts, parts...)
	}

	plan.Total = Total(plan.Services, plan.Parts)
	for id, delta := range plan.StockDelta {
		if delta == 0 {
			delete(plan.StockDelta, id)
		}
	}
	return plan, nil
}

func planServices(plan *Plan, orderID int64, current []domain.OrderServiceLine, desired []int64, catalog map[int64]domain.Service) error {
	existing := make(map[int64]domain.OrderServiceLine, len(current))
	for _, line := range current {
		if _, dup := existing[line.ServiceID]; dup {
			plan.DeleteServices = append(plan.DeleteServices, line.ID)
			continue
		}
		existing[line.ServiceID] = line
	}

	wanted := make(map[int64]bool, len(desired))
	for _, serviceID := range desired {
		if wanted[serviceID] {
			continue
		}
		wanted[serviceID] = true

		svc, ok := catalog[serviceID]
		line, kept := existing[serviceID]
		switch {
		case kept && ok && svc.Active:
			if !line.AppliedPrice.Equal(svc.Price) {
				line.AppliedPrice = svc.Price
				plan.UpdateServices = append(plan.UpdateServices, line)
			}
			line.ServiceName = svc.Name
		case kept && ok:
			// Retired from the catalog: the line keeps its snapshot price.
			line.ServiceName = svc.Name
		case kept:
			return fmt.Errorf("%w: id %d", ErrServiceUnavailable, serviceID)
		case !ok || !svc.Active:
			return fmt.Errorf("%w: id %d", ErrServiceUnavailable, serviceID)
		default:
			line = domain.OrderServiceLine{
				OrderID:      orderID,
				ServiceID:    serviceID,
				ServiceName:  svc.Name,
				AppliedPrice: svc.Price,
			}
			plan.InsertServices = append(plan.InsertServices, line)
		}
		plan.Services = append(plan.Services, line)
	}

	for _, line := range current {
		if kept, ok := existing[line.ServiceID]; ok && kept.ID == line.ID && !wanted[line.ServiceID] {
			plan.DeleteServices = append(plan.DeleteServices, line.ID)
		}
	}
	return nil
}

func planParts(plan *Plan, orderID int64, current []domain.OrderPartLine, desired []PartLine, catalog map[int64]domain.Part) error {
	quantities := make(map[int64]int, len(desired))
	order := make([]int64, 0, len(desired))
	for _, want := range desired {
		if want.Quantity < 1 {
			return fmt.Errorf("%w: repuesto %d", ErrInvalidQuantity, want.PartID)
		}
		if _, seen := quantities[want.PartID]; !seen {
			order = append(order, want.PartID)
		}
		quantities[want.PartID] += want.Quantity
	}

	available := make(map[int64]int, len(catalog))
	for id, part := range catalog {
		available[id] = part.Stock
	}

	// Refunds come first so that stock released by removed rows is visible to
	// the checks below.
	existing := make(map[int64]domain.OrderPartLine, len(current))
	for _, line := range current {
		_, dup := existing[line.PartID]
		_, wanted := quantities[line.PartID]
		if dup || !wanted {
			plan.DeleteParts = append(plan.DeleteParts, line.ID)
			plan.StockDelta[line.PartID] += line.Quantity
			available[line.PartID] += line.Quantity
			continue
		}
		existing[line.PartID] = line
	}

	for _, partID := range order {
		qty := quantities[partID]
		part, ok := catalog[partID]
		line, kept := existing[partID]

		if !ok {
			return fmt.Errorf("%w: id %d", ErrPartUnavailable, partID)
		}

		if kept {
			delta := qty - line.Quantity
			if delta > 0 {
				if !part.Active {
					return fmt.Errorf("%w: %s", ErrPartUnavailable, part.Name)
				}
				if available[partID] < delta {
					return fmt.Errorf("%w: %s (disponible %d, requerido %d)", ErrInsufficientStock, part.Name, available[partID], delta)
				}
			}
			available[partID] -= delta
			plan.StockDelta[partID] -= delta

			changed := delta != 0
			if part.Active && !line.UnitPrice.Equal(part.SalePrice) {
				line.UnitPrice = part.SalePrice
				changed = true
			}
			line.Quantity = qty
			line.PartName = part.Name
			if changed {
				plan.UpdateParts = append(plan.UpdateParts, line)
			}
			plan.Parts = append(plan.Parts, line)
			continue
		}

		if !part.Active {
			return fmt.Errorf("%w: %s", ErrPartUnavailable, part.Name)
		}
		if available[partID] < qty {
			return fmt.Errorf("%w: %s (disponible %d, requerido %d)", ErrInsufficientStock, part.Name, available[partID], qty)
		}
		available[partID] -= qty
		plan.StockDelta[partID] -= qty

		line = domain.OrderPartLine{
			OrderID:   orderID,
			PartID:    partID,
			PartName:  part.Name,
			Quantity:  qty,
			UnitPrice: part.SalePrice,
		}
		plan.InsertParts = append(plan.InsertParts, line)
		plan.Parts = append(plan.Parts, line)
	}
	return nil
}

func merge(services []domain.OrderServiceLine, parts []domain.OrderPartLine, add Desired) Desired {
	out := Desired{SetServices: add.SetServices, SetParts: add.SetParts}
	if add.SetServices {
		for _, line := range services {
			out.Services = append(out.Services, line.ServiceID)
		}
		out.Services = append(out.Services, add.Services...)
	}
	if add.SetParts {
		for _, line := range parts {
			out.Parts = append(out.Parts, PartLine{PartID: line.PartID, Quantity: line.Quantity})
		}
		out.Parts = append(out.Parts, add.Parts...)
	}
	return out
}

// Total is the sum of service prices plus unit price times quantity of parts.
func Total(services []domain.OrderServiceLine, parts []domain.OrderPartLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range services {
		total = total.Add(line.AppliedPrice)
	}
	for _, line := range parts {
		total = total.Add(line.Subtotal())
	}
	return total
}

// ReferencedServices returns the service ids a Build call needs in its catalog.
func ReferencedServices(current []domain.OrderServiceLine, desired Desired) []int64 {
	seen := map[int64]bool{}
	ids := make([]int64, 0, len(current)+len(desired.Services))
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, line := range current {
		add(line.ServiceID)
	}
	if desired.SetServices {
		for _, id := range desired.Services {
			add(id)
		}
	}
	return ids
}

// ReferencedParts returns the part ids a Build call needs in its catalog.
func ReferencedParts(current []domain.OrderPartLine, desired Desired) []int64 {
	seen := map[int64]bool{}
	ids := make([]int64, 0, len(current)+len(desired.Parts))
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, line := range current {
		add(line.PartID)
	}
	if desired.SetParts {
		for _, line := range desired.Parts {
			add(line.PartID)
		}
	}
	return ids
}
