package logx

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatEntry(t *testing.T) {
	t.Parallel()
	line := `{"level":"warn","time":"x","message":"join failed","session":"ab12","err":"full"}`
	got := formatEntry([]byte(line))
	want := "[WARN] join failed\n- err=full\n- session=ab12"
	if got != want {
		t.Fatalf("formatEntry = %q, want %q", got, want)
	}
	if got := formatEntry([]byte("not json")); got != "not json" {
		t.Fatalf("raw passthrough = %q", got)
	}
}

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(zerolog.New(&buf)).With(String("comp", "recruit"))
	log.Info("opened", Int("capacity", 6))
	out := buf.String()
	for _, sub := range []string{`"comp":"recruit"`, `"capacity":6`, `"message":"opened"`, `"caller":"logx_test.go:`} {
		if !strings.Contains(out, sub) {
			t.Fatalf("output %s missing %s", out, sub)
		}
	}

	var zero Logger
	zero.Error("dropped")
	if !zero.IsZero() {
		t.Fatalf("zero logger not zero")
	}
}

type captureSink struct {
	mu   sync.Mutex
	msgs []string
	got  chan struct{}
}

func (c *captureSink) SendLog(_ context.Context, chatID int64, _ int, text string) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, text)
	c.mu.Unlock()
	select {
	case c.got <- struct{}{}:
	default:
	}
	return nil
}

func TestTelegramSinkMinLevel(t *testing.T) {
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, ChatID: -100, MinLevel: "warn", RatePerSec: 10},
	})
	defer svc.Close()
	sink := &captureSink{got: make(chan struct{}, 4)}
	svc.SetSink(sink)

	log.Info("quiet")
	log.Warn("loud")

	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatalf("telegram sink never received")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.msgs) != 1 || !strings.HasPrefix(sink.msgs[0], "[WARN] loud") {
		t.Fatalf("msgs = %q", sink.msgs)
	}
}
