package validation

import (
	"testing"
	"time"

	"github.com/jackhou/buildbot/config"
	"github.com/jackhou/buildbot/types"
)

func TestValidateBuildRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     types.BuildRequest
		wantErr bool
	}{
		{"valid", types.BuildRequest{ID: 1, BuildsetID: 1, BuilderName: "compile"}, false},
		{"zero id", types.BuildRequest{ID: 0, BuildsetID: 1, BuilderName: "compile"}, true},
		{"zero bsid", types.BuildRequest{ID: 1, BuildsetID: 0, BuilderName: "compile"}, true},
		{"empty builder name", types.BuildRequest{ID: 1, BuildsetID: 1, BuilderName: ""}, true},
		{"dangerous property", types.BuildRequest{ID: 1, BuildsetID: 1, BuilderName: "compile", Properties: map[string]string{"cmd": "$(rm -rf /)"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBuildRequest(&tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateBuildRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBuilderName(t *testing.T) {
	if err := ValidateBuilderName("compile:sub-module_1"); err != nil {
		t.Fatalf("expected valid name, got %v", err)
	}
	if err := ValidateBuilderName(""); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := ValidateBuilderName("has spaces"); err == nil {
		t.Fatal("expected error for invalid characters")
	}
}

func TestValidateBuilderConfig(t *testing.T) {
	good := config.BuilderConfig{Name: "compile", WorkerNames: []string{"w1"}}
	if err := ValidateBuilderConfig(&good); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	noWorkers := config.BuilderConfig{Name: "compile"}
	if err := ValidateBuilderConfig(&noWorkers); err == nil {
		t.Fatal("expected error for builder with no workers")
	}
}

func TestValidateGlobalConfig(t *testing.T) {
	cfg := &config.GlobalConfig{
		BuildsCacheSize: 15,
		ReclaimInterval: 10 * time.Minute,
		StatusInterval:  30 * time.Minute,
		Builders: []config.BuilderConfig{
			{Name: "compile", WorkerNames: []string{"w1"}},
			{Name: "test", WorkerNames: []string{"w1", "w2"}},
		},
	}
	if err := ValidateGlobalConfig(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.Builders = append(cfg.Builders, config.BuilderConfig{Name: "compile", WorkerNames: []string{"w3"}})
	if err := ValidateGlobalConfig(cfg); err == nil {
		t.Fatal("expected error for duplicate builder name")
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := SanitizeInput("line1\nline2\r\t"); got != "line1line2" {
		t.Fatalf("unexpected sanitized value: %q", got)
	}
}
