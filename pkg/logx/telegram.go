package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	tgMaxMessage = 3500
	tgMaxValue   = 600
	tgMaxStack   = 900
	tgSendBudget = 10 * time.Second
)

func (s *Service) telegramWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.tgQueue:
			s.mu.Lock()
			sink, chatID, threadID := s.sink, s.chatID, s.threadID
			s.mu.Unlock()
			if sink == nil || chatID == 0 {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, tgSendBudget)
			_ = sink.SendLog(sctx, chatID, threadID, msg)
			cancel()
		}
	}
}

// telegramWriter is a zerolog LevelWriter that never blocks the caller.
type telegramWriter struct{ svc *Service }

func (w *telegramWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *telegramWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	ready := s.chatID != 0 && s.sink != nil && s.limiter != nil
	minLevel := s.minLevel
	lim := s.limiter
	s.mu.Unlock()

	if !ready || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	msg := formatEntry(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case s.tgQueue <- msg:
	default:
	}
	return len(p), nil
}

// formatEntry renders a zerolog JSON line as "[LEVEL] msg" followed by one
// "- key=value" line per field, sorted by key.
func formatEntry(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(p))), &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), tgMaxMessage)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "stack" {
			b.WriteString("\n- stack=\n" + truncate(fmt.Sprint(m[k]), tgMaxStack))
			continue
		}
		b.WriteString("\n- " + k + "=" + truncate(fmt.Sprint(m[k]), tgMaxValue))
	}
	return truncate(b.String(), tgMaxMessage)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
