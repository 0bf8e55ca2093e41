// Package document renders the confirmation PDF sent once an application's
// processing fee is paid.
package document

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/kopakash/loanbot/internal/loan"
)

// Renderer produces confirmation documents.
type Renderer struct {
	Brand string
	now   func() time.Time
}

// NewRenderer returns a Renderer that signs documents as brand.
func NewRenderer(brand string) *Renderer {
	if brand == "" {
		brand = "KOPAKASH LOANS"
	}
	return &Renderer{Brand: brand, now: time.Now}
}

// FileName is the attachment name for a user's confirmation.
func (r *Renderer) FileName(userID int64) string {
	return fmt.Sprintf("loan_confirmation_%d.pdf", userID)
}

// Render writes the confirmation for f and returns the PDF bytes.
func (r *Renderer) Render(f loan.Fields, transactionID string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	now := r.now()
	pdf.SetTitle("Loan Application Confirmation", true)
	pdf.SetCreator(r.Brand, true)
	pdf.SetCreationDate(now)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, tr(r.Brand), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 14)
	pdf.CellFormat(0, 8, "Loan Application Confirmation", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, "Date: "+now.Format("2006-01-02"), "", 1, "L", false, 0, "")
	pdf.Ln(4)
	pdf.CellFormat(0, 6, "Dear Customer,", "", 1, "L", false, 0, "")
	pdf.Ln(2)
	pdf.MultiCell(0, 6, "Thank you for applying for a loan with "+tr(r.Brand)+". Here are the details of your application:", "", "L", false)
	pdf.Ln(2)

	rows := [][2]string{
		{"Full Name", f.FullName},
		{"National ID", f.IDNumber},
		{"Phone Number", f.PhoneNumber},
		{"Loan Amount", "KSH " + loan.FormatAmount(f.LoanAmount)},
		{"Reason", f.Reason},
	}
	if transactionID != "" {
		rows = append(rows, [2]string{"Processing Fee Receipt", transactionID})
	}
	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(55, 7, row[0]+":", "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 7, tr(row[1]), "", "L", false)
	}

	pdf.Ln(4)
	pdf.MultiCell(0, 6, "We will review your application and notify you soon.", "", "L", false)
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 6, "Status: Pending Approval", "", 1, "L", false, 0, "")
	pdf.Ln(6)
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, "Best regards,", "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, tr(r.Brand)+" Team", "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("document: render: %w", err)
	}
	return buf.Bytes(), nil
}
