package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/m-mizutani/desbank/pkg/utils/logging"
	"github.com/m-mizutani/gt"
)

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	} {
		lv, ok := logging.ParseLevel(tc.in)
		gt.Equal(t, lv, tc.want)
		gt.Equal(t, ok, tc.ok)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("warn", logging.FormatConsole, buf)

	logger.Info("quiet")
	logger.Warn("loud")

	gt.S(t, buf.String()).NotContains("quiet")
	gt.S(t, buf.String()).Contains("loud")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("verbose", logging.FormatConsole, buf)

	gt.S(t, buf.String()).Contains("unknown log level")

	logger.Debug("hidden")
	logger.Info("shown")
	gt.S(t, buf.String()).NotContains("hidden")
	gt.S(t, buf.String()).Contains("shown")
}

func TestJSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("info", logging.FormatJSON, buf)

	logger.Info("mixed", slog.String("solvent", "ChCl:Urea"))

	var record map[string]any
	gt.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	gt.Equal(t, record["msg"], "mixed")
	gt.Equal(t, record["solvent"], "ChCl:Urea")
}

func TestParseFormat(t *testing.T) {
	gt.Equal(t, logging.ParseFormat("json"), logging.FormatJSON)
	gt.Equal(t, logging.ParseFormat("JSON"), logging.FormatJSON)
	gt.Equal(t, logging.ParseFormat("console"), logging.FormatConsole)
	gt.Equal(t, logging.ParseFormat(""), logging.FormatConsole)
}

func TestContextRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("debug", logging.FormatConsole, buf).With("component", "retriever")

	ctx := logging.With(context.Background(), logger)
	gt.Equal(t, logging.From(ctx), logger)

	logging.From(ctx).Info("attached")
	gt.S(t, buf.String()).Contains("attached")
	gt.S(t, buf.String()).Contains("retriever")
}

func TestFromWithoutAttachedLogger(t *testing.T) {
	original := logging.Default()
	defer logging.SetDefault(original)

	buf := &bytes.Buffer{}
	logging.SetDefault(logging.New("info", logging.FormatConsole, buf))

	logging.From(context.Background()).Info("fallback")
	gt.S(t, buf.String()).Contains("fallback")
}
