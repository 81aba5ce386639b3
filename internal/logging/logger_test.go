package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   log.LevelDebug.String(),
		"WARN":    log.LevelWarn.String(),
		"fatal":   log.LevelCrit.String(),
		"bananas": log.LevelInfo.String(),
	}
	for in, want := range cases {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestAuditTrail(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.log")
	l, err := New("error", filepath.Join(dir, "wallet.log"), auditPath)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	Audit("deposit", "token", "0xaa", "leaf", 3)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// after Close audit events are discarded
	Audit("dropped")

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"msg":"deposit"`) || !strings.Contains(s, `"leaf":3`) {
		t.Errorf("audit entry missing fields: %s", s)
	}
	if strings.Contains(s, "dropped") {
		t.Errorf("events after Close should not be written")
	}
}
