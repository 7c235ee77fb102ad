package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollector_Endpoint(t *testing.T) {
	c := New("moneta")

	c.ScanCompleted("ok", 150*time.Millisecond, 120, 30)
	c.ScanFailed("open_failed")
	c.SuspicionFound("XPRV")
	c.SuspicionFound("XPRV")
	c.SuspicionFound("PHANTOM_IMAGE")
	c.DumpWritten()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading exposition: %v", err)
	}
	body := string(raw)

	expected := []string{
		`moneta_scans_total{outcome="ok"} 1`,
		`moneta_scans_total{outcome="open_failed"} 1`,
		`moneta_suspicions_total{kind="XPRV"} 2`,
		`moneta_suspicions_total{kind="PHANTOM_IMAGE"} 1`,
		`moneta_regions_scanned_total 120`,
		`moneta_entities_scanned_total 30`,
		`moneta_dumps_written_total 1`,
	}
	for _, want := range expected {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
