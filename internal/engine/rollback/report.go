package rollback

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// RenderMarkdown produces the human-readable batch report.
func RenderMarkdown(batch *BatchResult) string {
	var b strings.Builder
	b.WriteString("# Tenant Rollback Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", batch.FinishedAt.UTC().Format(time.RFC3339))
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Total Tenants: %d\n", batch.Total)
	fmt.Fprintf(&b, "- Successful: %d\n", batch.Successful)
	fmt.Fprintf(&b, "- Failed: %d\n\n", batch.Failed)

	b.WriteString("## Details\n\n")
	for _, r := range batch.Results {
		status := "OK"
		if !r.Success {
			status = "FAILED"
		}
		fmt.Fprintf(&b, "### %s (%s) - %s\n\n", r.TenantName, r.TenantID, status)
		for _, s := range r.Steps {
			mark := "x"
			if !s.Success {
				mark = " "
			}
			fmt.Fprintf(&b, "- [%s] %s (%s)\n", mark, s.Name, s.Duration.Round(time.Millisecond))
		}
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "- Error: %s\n", e)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RenderJSON returns the machine-readable form.
func RenderJSON(batch *BatchResult) ([]byte, error) {
	return json.MarshalIndent(batch, "", "  ")
}

// RenderCSV returns one row per tenant.
func RenderCSV(batch *BatchResult) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"Tenant ID", "Tenant Name", "Success", "Duration", "Backup Path", "Error"}); err != nil {
		return "", err
	}
	for _, r := range batch.Results {
		errMsg := ""
		if len(r.Errors) > 0 {
			errMsg = strings.Join(r.Errors, "; ")
		}
		if err := w.Write([]string{
			r.TenantID,
			r.TenantName,
			fmt.Sprintf("%t", r.Success),
			r.Duration.Round(time.Millisecond).String(),
			r.BackupPath,
			errMsg,
		}); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}

// RenderXLSX returns a spreadsheet with a summary sheet and one row per tenant.
func RenderXLSX(batch *BatchResult) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Rollback"
	f.SetSheetName(f.GetSheetName(0), sheet)

	summary := [][]interface{}{
		{"Total Tenants", batch.Total},
		{"Successful", batch.Successful},
		{"Failed", batch.Failed},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}

	header := []interface{}{"Tenant ID", "Tenant Name", "Success", "Duration", "Backup Path", "Error"}
	cell, _ := excelize.CoordinatesToCellName(1, 5)
	if err := f.SetSheetRow(sheet, cell, &header); err != nil {
		return nil, err
	}
	for i, r := range batch.Results {
		errMsg := strings.Join(r.Errors, "; ")
		row := []interface{}{r.TenantID, r.TenantName, r.Success, r.Duration.Round(time.Millisecond).String(), r.BackupPath, errMsg}
		cell, _ := excelize.CoordinatesToCellName(1, 6+i)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
