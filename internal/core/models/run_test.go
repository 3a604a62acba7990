package models

import (
	"testing"
	"time"
)

func TestRunValidation(t *testing.T) {
	tests := []struct {
		name    string
		run     Run
		wantErr bool
	}{
		{
			name: "valid run",
			run: Run{
				RunID:      "3f1c2d9e-8a61-4d7e-9b0a-6c2f5e4d1a77",
				SourcePath: "apple_health_export/export.xml",
				Status:     RunSuccess,
				StartedAt:  time.Now(),
			},
			wantErr: false,
		},
		{
			name: "missing run ID",
			run: Run{
				SourcePath: "export.xml",
				Status:     RunRunning,
			},
			wantErr: true,
		},
		{
			name: "missing source",
			run: Run{
				RunID:  "abc",
				Status: RunRunning,
			},
			wantErr: true,
		},
		{
			name: "unknown status",
			run: Run{
				RunID:      "abc",
				SourcePath: "export.xml",
				Status:     "paused",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunDuration(t *testing.T) {
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	r := Run{StartedAt: start}
	if got := r.Duration(); got != 0 {
		t.Errorf("Duration() = %v, want 0 for unfinished run", got)
	}
	r.FinishedAt = start.Add(90 * time.Second)
	if got := r.Duration(); got != 90*time.Second {
		t.Errorf("Duration() = %v, want 1m30s", got)
	}
}
