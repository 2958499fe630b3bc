// Package invoice renders work orders as printable PDF service orders.
package invoice

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"tallernegreira/backend/internal/domain"
)

type Workshop struct {
	Name    string
	Address string
	Phone   string
	Email   string
}

type Generator struct {
	workshop Workshop
	now      func() time.Time
}

func NewGenerator(workshop Workshop) *Generator {
	if workshop.Name == "" {
		workshop.Name = "Taller Mecánico"
	}
	return &Generator{workshop: workshop, now: time.Now}
}

// column widths of the items table, in mm; letter width minus margins is 196.
var widths = [4]float64{106, 20, 35, 35}

func (g *Generator) Render(w io.Writer, order domain.Order) error {
	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetTitle(fmt.Sprintf("Orden de servicio %d", order.ID), true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	g.header(pdf, tr)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 9, tr(fmt.Sprintf("ORDEN DE SERVICIO #%d", order.ID)), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 5, tr("Fecha de ingreso: "+order.ReceivedAt.Format("02/01/2006")+"   Emitido: "+g.now().Format("02/01/2006 15:04")), "", 1, "C", false, 0, "")
	pdf.Ln(3)

	block(pdf, tr, "CLIENTE", []string{
		"Nombre: " + order.ClientName,
		"CI: " + order.ClientCI,
	})
	block(pdf, tr, "VEHÍCULO", []string{
		vehicleLine(order),
		"Placa: " + order.Plate,
	})
	if order.ProblemReported != "" || order.Diagnosis != "" {
		block(pdf, tr, "TRABAJO", []string{
			"Problema reportado: " + order.ProblemReported,
			"Diagnóstico: " + order.Diagnosis,
			"Técnico: " + order.TechnicianName,
		})
	}

	tableHeader(pdf, tr)
	if len(order.Services) > 0 {
		section(pdf, tr, "SERVICIOS")
		for _, line := range order.Services {
			row(pdf, tr, line.ServiceName, 1, line.AppliedPrice, line.AppliedPrice)
		}
	}
	if len(order.Parts) > 0 {
		section(pdf, tr, "REPUESTOS")
		for _, line := range order.Parts {
			row(pdf, tr, line.PartName, line.Quantity, line.UnitPrice, line.Subtotal())
		}
	}

	balance := order.Balance()
	pdf.Ln(2)
	totalRow(pdf, tr, "TOTAL (Bs)", order.EstimatedTotal, true)
	totalRow(pdf, tr, "PAGADO (Bs)", balance.TotalPaid, false)
	totalRow(pdf, tr, "SALDO (Bs)", balance.Outstanding, true)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.Output(w)
}

func (g *Generator) Bytes(order domain.Order) ([]byte, error) {
	var buf bytes.Buffer
	if err := g.Render(&buf, order); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Generator) header(pdf *fpdf.Fpdf, tr func(string) string) {
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 8, tr(g.workshop.Name), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	for _, line := range []string{g.workshop.Address, g.workshop.Phone, g.workshop.Email} {
		if line != "" {
			pdf.CellFormat(0, 4.5, tr(line), "", 1, "L", false, 0, "")
		}
	}
	pdf.Ln(2)
	x, y := pdf.GetXY()
	pdf.Line(x, y, x+196, y)
	pdf.Ln(3)
}

// vehicleLine describes the vehicle as "marca modelo anio", skipping the
// parts that are unknown.
func vehicleLine(order domain.Order) string {
	parts := make([]string, 0, 3)
	for _, v := range []string{order.Brand, order.Model} {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	if order.Year > 0 {
		parts = append(parts, strconv.Itoa(order.Year))
	}
	return strings.Join(parts, " ")
}

func block(pdf *fpdf.Fpdf, tr func(string) string, title string, lines []string) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 6, tr(title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, line := range lines {
		pdf.CellFormat(0, 5, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)
}

func tableHeader(pdf *fpdf.Fpdf, tr func(string) string) {
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(220, 220, 220)
	for i, title := range []string{"DESCRIPCIÓN", "CANT.", "P. UNIT (Bs)", "SUBTOTAL (Bs)"} {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 7, tr(title), "1", 0, align, true, 0, "")
	}
	pdf.Ln(-1)
}

func section(pdf *fpdf.Fpdf, tr func(string) string, title string) {
	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(widths[0]+widths[1]+widths[2]+widths[3], 6, tr(title), "LR", 1, "L", false, 0, "")
}

func row(pdf *fpdf.Fpdf, tr func(string) string, desc string, qty int, unit, subtotal decimal.Decimal) {
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(widths[0], 6, tr(desc), "1", 0, "L", false, 0, "")
	pdf.CellFormat(widths[1], 6, fmt.Sprintf("%d", qty), "1", 0, "R", false, 0, "")
	pdf.CellFormat(widths[2], 6, unit.StringFixed(2), "1", 0, "R", false, 0, "")
	pdf.CellFormat(widths[3], 6, subtotal.StringFixed(2), "1", 1, "R", false, 0, "")
}

func totalRow(pdf *fpdf.Fpdf, tr func(string) string, label string, amount decimal.Decimal, bold bool) {
	style := ""
	if bold {
		style = "B"
	}
	pdf.SetFont("Helvetica", style, 10)
	pdf.CellFormat(widths[0]+widths[1]+widths[2], 6, tr(label), "", 0, "R", false, 0, "")
	pdf.CellFormat(widths[3], 6, amount.StringFixed(2), "1", 1, "R", false, 0, "")
}
