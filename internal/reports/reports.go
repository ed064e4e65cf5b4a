// Package reports renders visit report rows as CSV, XLSX, or PDF.
package reports

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"clinicqr/internal/store"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

var header = []string{
	"Visit ID", "Patient", "Code", "Service", "Department", "Status",
	"Queue #", "Diagnosis", "Created", "Completed",
}

func rowValues(r store.ReportRow) []string {
	queueNumber := ""
	if r.QueueNumber != nil {
		queueNumber = strconv.Itoa(*r.QueueNumber)
	}
	completed := ""
	if r.CompletedAt != nil {
		completed = r.CompletedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		r.VisitID, r.PatientName, r.PatientCode, r.Service, r.Department, r.Status,
		queueNumber, r.Diagnosis, r.CreatedAt.UTC().Format(time.RFC3339), completed,
	}
}

func CSV(rows []store.ReportRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := w.Write(rowValues(r)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func XLSX(rows []store.ReportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Visits"
	f.SetSheetName("Sheet1", sheet)
	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return nil, err
		}
	}
	for i, r := range rows {
		for col, value := range rowValues(r) {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func PDF(rows []store.ReportRow, title string) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)

	widths := []float64{0, 45, 25, 22, 30, 22, 14, 50, 35, 35}
	pdf.SetFont("Helvetica", "B", 8)
	for i, name := range header {
		if widths[i] == 0 {
			continue
		}
		pdf.CellFormat(widths[i], 6, name, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	for _, r := range rows {
		values := rowValues(r)
		for i, value := range values {
			if widths[i] == 0 {
				continue
			}
			if len(value) > 40 {
				value = value[:40]
			}
			pdf.CellFormat(widths[i], 6, value, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LabResultPDF renders a single lab result sheet for the results email.
func LabResultPDF(patientName, testType, results string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Laboratory Results")
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, fmt.Sprintf("Patient: %s", patientName))
	pdf.Ln(8)
	pdf.Cell(0, 8, fmt.Sprintf("Test: %s", testType))
	pdf.Ln(8)
	pdf.Cell(0, 8, fmt.Sprintf("Date: %s", time.Now().UTC().Format("2006-01-02")))
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, 8, "Results")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 6, results, "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
