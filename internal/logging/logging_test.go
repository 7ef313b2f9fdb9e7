package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLoggerLevelAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(newLogger(Config{Level: "warn"}, &buf), "coordinator")

	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}

	logger.Warn().Msg("shown")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json log line: %v", err)
	}
	if line["component"] != "coordinator" || line["message"] != "shown" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestNewLoggerInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "loud"}, &buf)
	logger.Debug().Msg("debug")
	if buf.Len() != 0 {
		t.Fatal("debug should be filtered at the default info level")
	}
	logger.Info().Msg("info")
	if buf.Len() == 0 {
		t.Fatal("info should be written")
	}
}
