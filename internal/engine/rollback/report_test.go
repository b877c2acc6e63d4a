package rollback

import (
	"strings"
	"testing"
	"time"
)

func sampleBatch() *BatchResult {
	return &BatchResult{
		Total:      3,
		Successful: 3,
		Failed:     0,
		Results: []*Result{
			{TenantID: "tnt_1", TenantName: "Acme", Success: true, Duration: 1200 * time.Millisecond,
				BackupPath: "backups/emergency_tenant_1_100.sql",
				Steps: []StepResult{
					{Name: "validate_prerequisites", Success: true},
					{Name: "emergency_backup", Success: true},
					{Name: "copy_data_back", Success: true},
				}},
			{TenantID: "tnt_2", TenantName: "Globex", Success: true},
			{TenantID: "tnt_3", TenantName: "Initech", Success: true},
		},
		StartedAt:  time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 5, 1, 10, 5, 0, 0, time.UTC),
	}
}

func TestRenderMarkdown(t *testing.T) {
	out := RenderMarkdown(sampleBatch())

	for _, want := range []string{
		"# Tenant Rollback Report",
		"- Total Tenants: 3",
		"- Successful: 3",
		"- Failed: 0",
		"### Acme (tnt_1) - OK",
		"- [x] validate_prerequisites",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}
}

func TestRenderMarkdownFailedTenant(t *testing.T) {
	batch := sampleBatch()
	batch.Successful = 2
	batch.Failed = 1
	batch.Results[1].Success = false
	batch.Results[1].Errors = []string{"drop_schema: permission denied"}
	batch.Results[1].Steps = []StepResult{{Name: "drop_schema", Success: false}}

	out := RenderMarkdown(batch)
	if !strings.Contains(out, "### Globex (tnt_2) - FAILED") {
		t.Errorf("missing failure marker:\n%s", out)
	}
	if !strings.Contains(out, "- [ ] drop_schema") {
		t.Error("failed step must render unchecked")
	}
	if !strings.Contains(out, "- Error: drop_schema: permission denied") {
		t.Error("missing error line")
	}
}

func TestRenderCSV(t *testing.T) {
	out, err := RenderCSV(sampleBatch())
	if err != nil {
		t.Fatalf("csv failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want header plus 3", len(lines))
	}
	if lines[0] != "Tenant ID,Tenant Name,Success,Duration,Backup Path,Error" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "tnt_1,Acme,true,1.2s,") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestRenderJSON(t *testing.T) {
	out, err := RenderJSON(sampleBatch())
	if err != nil {
		t.Fatalf("json failed: %v", err)
	}
	if !strings.Contains(string(out), `"total": 3`) {
		t.Errorf("json missing total:\n%s", out)
	}
}

func TestRenderXLSX(t *testing.T) {
	out, err := RenderXLSX(sampleBatch())
	if err != nil {
		t.Fatalf("xlsx failed: %v", err)
	}
	// XLSX files are zip archives.
	if len(out) < 4 || out[0] != 'P' || out[1] != 'K' {
		t.Error("output is not a zip container")
	}
}
