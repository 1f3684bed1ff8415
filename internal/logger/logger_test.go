package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelGatesDebugRecords(t *testing.T) {
	var buf bytes.Buffer

	log := newLogger(&buf, false)
	log.Debug("hidden detail")
	log.Info("visible message")

	out := buf.String()
	if strings.Contains(out, "hidden detail") {
		t.Errorf("info-level logger emitted a debug record: %s", out)
	}
	if !strings.Contains(out, "visible message") {
		t.Errorf("info-level logger dropped an info record: %s", out)
	}

	buf.Reset()
	log = newLogger(&buf, true)
	log.Debug("hidden detail")
	if !strings.Contains(buf.String(), "hidden detail") {
		t.Errorf("debug-level logger dropped a debug record: %s", buf.String())
	}
}
