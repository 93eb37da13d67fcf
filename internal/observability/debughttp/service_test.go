package debughttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "partybot/pkg/logx"
)

func TestHandlerAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), func(ctx context.Context) any {
		return map[string]int{"open": 3}
	})
	h := s.handler("s3cret")

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "healthz open", path: "/healthz", want: http.StatusOK},
		{name: "statusz no token", path: "/statusz", want: http.StatusUnauthorized},
		{name: "statusz query token", path: "/statusz?token=s3cret", want: http.StatusOK},
		{name: "statusz bearer", path: "/statusz", header: "Bearer s3cret", want: http.StatusOK},
		{name: "statusz wrong bearer", path: "/statusz", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "pprof no token", path: "/debug/pprof/", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
			}
		})
	}
}

func TestStatuszBody(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), func(ctx context.Context) any {
		return map[string]int{"open": 3}
	})
	rec := httptest.NewRecorder()
	s.handler("").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statusz", nil))
	var got map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	if got["open"] != 3 {
		t.Fatalf("statusz = %v, want open=3", got)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{":6060", false},
		{"0.0.0.0:6060", false},
		{"10.0.0.5:6060", false},
		{"nonsense", false},
	}
	for _, tt := range tests {
		if got := isLoopbackAddr(tt.addr); got != tt.want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestServeAndReconfigure(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop(), nil)
	s.Start(ctx)
	addr := waitAddr(t, s)

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("healthz body = %q", body)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	if s.Supervisor() != nil || s.Addr() != "" {
		t.Fatalf("server still running after disable")
	}
}

func waitAddr(t *testing.T, s *Service) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := s.Addr(); a != "" {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("server did not bind")
	return ""
}
