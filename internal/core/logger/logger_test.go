package logger

import (
	"testing"
)

func TestHandlerOptionsOverrideDefaults(t *testing.T) {
	opts := NewHandlerOptions(WithTimeFormat("15:04:05"), WithNoColor(true))
	if opts.TimeFormat != "15:04:05" {
		t.Fatalf("time format not applied: %q", opts.TimeFormat)
	}
	if !opts.NoColor {
		t.Fatalf("no-color not applied")
	}
}

func TestWithHandlerOptionsReachesHandler(t *testing.T) {
	log := NewLogger(
		WithName("test"),
		WithHandlerOptions(WithTimeFormat("15:04:05"), WithNoColor(true)),
	)
	if log.Logger == nil {
		t.Fatalf("logger not constructed")
	}
	log.Info("handler options applied")
}
