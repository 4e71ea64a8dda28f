package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loopcache/internal/cluster"
)

func TestParseMasterConfig(t *testing.T) {
	text := `# a master config
Master 127.0.0.1:12345
Listener loopcache-1 127.0.0.1:12345 Yes
Trace On /var/log/loopcache.trace
Node 127.0.0.1:12346 48Mb
Node 127.0.0.1:12347 12Mb
`
	cfg, err := parse(strings.NewReader(text), "/tmp/loopcache.cfg")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Role != RoleMaster {
		t.Fatalf("Role = %v, want RoleMaster", cfg.Role)
	}
	if cfg.MasterHost != "127.0.0.1" || cfg.MasterPort != 12345 {
		t.Fatalf("Master = %s:%d", cfg.MasterHost, cfg.MasterPort)
	}
	if !cfg.Advertise {
		t.Fatalf("Advertise = false, want true")
	}
	if !cfg.TraceEnabled || cfg.TracePath != "/var/log/loopcache.trace" {
		t.Fatalf("Trace = %v %s", cfg.TraceEnabled, cfg.TracePath)
	}
	if cfg.Ring().NodeCount() != 2 {
		t.Fatalf("NodeCount = %d, want 2", cfg.Ring().NodeCount())
	}
}

func TestParseDataNodeConfigHasNoRing(t *testing.T) {
	text := `Master 127.0.0.1:12345
Listener 0.0.0.0 127.0.0.1:12346 No
`
	cfg, err := parse(strings.NewReader(text), "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Role != RoleData {
		t.Fatalf("Role = %v, want RoleData", cfg.Role)
	}
	if cfg.Ring() != nil {
		t.Fatalf("expected nil ring for a data-node config")
	}
}

func TestSizeSuffixRoundTrips(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"48Mb", 48 * 1024 * 1024},
		{"12,000Kb", 12000 * 1024},
		{"1Gb", 1024 * 1024 * 1024},
		{"100", 100},
	}
	for _, tc := range cases {
		got, err := parseSize(tc.in)
		if err != nil {
			t.Fatalf("parseSize(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}

	// Exact power-of-1024 multiples re-emit with their suffix.
	if got := formatSize(48 * 1024 * 1024); got != "48Mb" {
		t.Fatalf("formatSize(48Mb) = %q, want 48Mb", got)
	}
	if got := formatSize(100); got != "100" {
		t.Fatalf("formatSize(100) = %q, want 100", got)
	}
}

func TestSavePreservesNonNodeLinesAndRegeneratesNodeLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loopcache.cfg")
	text := `# header comment
Master 127.0.0.1:12345
Node 127.0.0.1:12346 48Mb
Node 127.0.0.1:12347 12Mb
Trace Off /dev/null
`
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	newNode := &cluster.Node{HostName: "127.0.0.1", Port: 12348, MaxBytes: 64 * 1024 * 1024}
	if err := cfg.Ring().AddNode(newNode); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	saved, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got := string(saved)

	if !strings.Contains(got, "# header comment") {
		t.Errorf("saved file dropped the header comment:\n%s", got)
	}
	if !strings.Contains(got, "Master 127.0.0.1:12345") {
		t.Errorf("saved file dropped the Master line:\n%s", got)
	}
	if !strings.Contains(got, "Trace Off /dev/null") {
		t.Errorf("saved file dropped the Trace line:\n%s", got)
	}
	if !strings.Contains(got, "127.0.0.1:12348") {
		t.Errorf("saved file missing newly added node:\n%s", got)
	}
}
