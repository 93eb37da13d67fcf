package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "partybot/pkg/logx"
)

// reopener returns a function that opens the same store each call.
func reopener(t *testing.T, driver string) func() Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.db")
	return func() Store {
		t.Helper()
		st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", driver, err)
		}
		return st
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v, want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("Open(unknown) want error")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("Open(file without path) want error")
	}
}

func TestStoreContract(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			reopen := reopener(t, driver)
			st := reopen()

			if err := st.AppendAudit(ctx, AuditEntry{ActorID: 1, ChatID: -100, Plugin: "recruit", Action: "settings.alert", OK: 1}); err != nil {
				t.Fatalf("AppendAudit: %v", err)
			}

			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := st.PutDedup(ctx, "recruit:closed:abc", until); err != nil {
				t.Fatalf("PutDedup: %v", err)
			}
			if err := st.PutDedup(ctx, "stale", time.Now().Add(-time.Hour)); err != nil {
				t.Fatalf("PutDedup: %v", err)
			}

			cs := ChatSettings{ChatID: -100, Alert: "@raiders", DefaultCapacity: 8, UpdatedBy: 1}
			if err := st.PutChatSettings(ctx, cs); err != nil {
				t.Fatalf("PutChatSettings: %v", err)
			}
			cs.Alert = "@everyone"
			if err := st.PutChatSettings(ctx, cs); err != nil {
				t.Fatalf("PutChatSettings: %v", err)
			}

			base := time.Date(2026, 2, 1, 21, 0, 0, 0, time.UTC)
			for i, id := range []string{"old", "mid", "new"} {
				r := SessionRecord{
					ID: id, ChatID: -100, Title: "raid " + id, OrganizerID: 1, OrganizerName: "org",
					Capacity: 3, Count: 2, Reason: "full", Participants: []string{"A", "B"},
					Deadline: base, CreatedAt: base, ClosedAt: base.Add(time.Duration(i) * time.Hour),
				}
				if err := st.ArchiveSession(ctx, r); err != nil {
					t.Fatalf("ArchiveSession: %v", err)
				}
			}
			if err := st.ArchiveSession(ctx, SessionRecord{ID: "other", ChatID: 5, ClosedAt: base}); err != nil {
				t.Fatalf("ArchiveSession: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			st = reopen()
			defer st.Close()

			got, ok, err := st.GetDedup(ctx, "recruit:closed:abc")
			if err != nil || !ok || !got.Equal(until) {
				t.Fatalf("GetDedup = %v, %v, %v, want %v", got, ok, err, until)
			}
			if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
				t.Fatalf("GetDedup(missing) ok")
			}

			gotCS, ok, err := st.GetChatSettings(ctx, -100)
			if err != nil || !ok || gotCS.Alert != "@everyone" || gotCS.DefaultCapacity != 8 {
				t.Fatalf("GetChatSettings = %+v, %v, %v", gotCS, ok, err)
			}
			if _, ok, _ := st.GetChatSettings(ctx, 42); ok {
				t.Fatalf("GetChatSettings(unknown) ok")
			}

			recent, err := st.RecentSessions(ctx, -100, 2)
			if err != nil {
				t.Fatalf("RecentSessions: %v", err)
			}
			if len(recent) != 2 || recent[0].ID != "new" || recent[1].ID != "mid" {
				t.Fatalf("RecentSessions = %+v", recent)
			}
			if len(recent[0].Participants) != 2 || recent[0].Participants[1] != "B" {
				t.Fatalf("participants = %v", recent[0].Participants)
			}

			n, err := st.Prune(ctx, base.Add(90*time.Minute))
			if err != nil || n != 3 {
				t.Fatalf("Prune = %d, %v, want 3", n, err)
			}
			recent, _ = st.RecentSessions(ctx, -100, 0)
			if len(recent) != 1 || recent[0].ID != "new" {
				t.Fatalf("after prune = %+v", recent)
			}
			if _, ok, _ := st.GetDedup(ctx, "stale"); ok {
				t.Fatalf("expired dedup survived prune")
			}
			if err := st.ArchiveSession(ctx, SessionRecord{ID: "later", ChatID: -100, ClosedAt: base.Add(3 * time.Hour)}); err != nil {
				t.Fatalf("ArchiveSession after prune: %v", err)
			}
		})
	}
}
