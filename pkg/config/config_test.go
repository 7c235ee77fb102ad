package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Filters.HeapExecutable {
		t.Errorf("heap executable filter enabled by default; must stay disabled")
	}
	if cfg.Dump.Dir == "" {
		t.Errorf("no default dump directory")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moneta.yaml")
	data := `
filters:
  heap_executable: true
dump:
  dir: D:\dumps
  compress: true
report:
  database_path: D:\scans.db
metrics:
  listen: 127.0.0.1:9091
sweep:
  rate_per_second: 2.5
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Filters.HeapExecutable {
		t.Errorf("heap_executable not loaded")
	}
	if cfg.Dump.Dir != `D:\dumps` || !cfg.Dump.Compress {
		t.Errorf("dump section = %+v", cfg.Dump)
	}
	if cfg.Report.DatabasePath != `D:\scans.db` {
		t.Errorf("report section = %+v", cfg.Report)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9091" {
		t.Errorf("metrics section = %+v", cfg.Metrics)
	}
	if cfg.Sweep.RatePerSecond != 2.5 {
		t.Errorf("sweep section = %+v", cfg.Sweep)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Errorf("Load() succeeded on a missing file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("filters: ["), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Errorf("Load() succeeded on malformed YAML")
	}
}
