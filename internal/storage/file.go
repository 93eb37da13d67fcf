package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "partybot/pkg/logx"
)

// fileStore keeps everything in plain files next to the configured path:
//   - <prefix>.audit.jsonl         append-only audit log
//   - <prefix>.dedup.snapshot.json dedup marks, compacted
//   - <prefix>.dedup.journal.jsonl dedup writes since the last compaction
//   - <prefix>.chats.json          chat settings, rewritten on change
//   - <prefix>.sessions.jsonl      closed-session archive
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile   *os.File
	archiveFile *os.File
	archivePath string

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli
	dedupWrites       int

	chatsPath string
	chats     map[int64]ChatSettings
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

const compactEvery = 1000

var errClosed = errors.New("store closed")

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:               log,
		archivePath:       prefix + ".sessions.jsonl",
		dedupSnapshotPath: prefix + ".dedup.snapshot.json",
		chatsPath:         prefix + ".chats.json",
		dedup:             map[string]int64{},
		chats:             map[int64]ChatSettings{},
	}
	journalPath := prefix + ".dedup.journal.jsonl"

	_ = readJSON(s.dedupSnapshotPath, &s.dedup)
	_ = replayDedupJournal(journalPath, s.dedup)
	pruneExpiredDedup(s.dedup, time.Now())
	if err := readJSON(s.chatsPath, &s.chats); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("chat settings unreadable; starting empty", logx.String("path", s.chatsPath), logx.Err(err))
		s.chats = map[int64]ChatSettings{}
	}

	var err error
	if s.auditFile, err = appendOnly(prefix + ".audit.jsonl"); err != nil {
		return nil, err
	}
	if s.archiveFile, err = appendOnly(s.archivePath); err != nil {
		_ = s.auditFile.Close()
		return nil, err
	}
	if s.dedupJournalFile, err = os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600); err != nil {
		_ = s.auditFile.Close()
		_ = s.archiveFile.Close()
		return nil, err
	}
	return s, nil
}

func appendOnly(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, f := range []**os.File{&s.auditFile, &s.archiveFile, &s.dedupJournalFile} {
		if *f != nil {
			errs = append(errs, (*f).Close())
			*f = nil
		}
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return errClosed
	}
	s.dedup[key] = ms
	if err := json.NewEncoder(s.dedupJournalFile).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%compactEvery == 0 {
		if err := s.compactLocked(time.Now()); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok || key == "" {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) GetChatSettings(_ context.Context, chatID int64) (ChatSettings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chats[chatID]
	return cs, ok, nil
}

func (s *fileStore) PutChatSettings(_ context.Context, cs ChatSettings) error {
	if cs.UpdatedAt.IsZero() {
		cs.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errClosed
	}
	prev, had := s.chats[cs.ChatID]
	s.chats[cs.ChatID] = cs
	if err := writeJSONAtomic(s.chatsPath, s.chats); err != nil {
		if had {
			s.chats[cs.ChatID] = prev
		} else {
			delete(s.chats, cs.ChatID)
		}
		return err
	}
	return nil
}

func (s *fileStore) ArchiveSession(_ context.Context, r SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.archiveFile == nil {
		return errClosed
	}
	return json.NewEncoder(s.archiveFile).Encode(r)
}

func (s *fileStore) RecentSessions(_ context.Context, chatID int64, limit int) ([]SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SessionRecord
	err := scanArchive(s.archivePath, func(r SessionRecord) {
		if r.ChatID == chatID {
			out = append(out, r)
		}
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ClosedAt.After(out[j].ClosedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.archiveFile == nil {
		return 0, errClosed
	}
	if err := s.compactLocked(time.Now()); err != nil {
		return 0, err
	}

	var keep []SessionRecord
	dropped := 0
	err := scanArchive(s.archivePath, func(r SessionRecord) {
		if r.ClosedAt.Before(before) {
			dropped++
			return
		}
		keep = append(keep, r)
	})
	if err != nil || dropped == 0 {
		return 0, err
	}

	tmp := s.archivePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(f)
	for _, r := range keep {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	_ = s.archiveFile.Close()
	if err := os.Rename(tmp, s.archivePath); err != nil {
		s.archiveFile, _ = appendOnly(s.archivePath)
		return 0, err
	}
	if s.archiveFile, err = appendOnly(s.archivePath); err != nil {
		return 0, err
	}
	return dropped, nil
}

func (s *fileStore) compactLocked(now time.Time) error {
	pruneExpiredDedup(s.dedup, now)
	if err := writeJSONAtomic(s.dedupSnapshotPath, s.dedup); err != nil {
		return err
	}
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err := s.dedupJournalFile.Seek(0, io.SeekEnd)
	return err
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

// scanArchive skips lines that do not decode, such as a torn final write.
func scanArchive(path string, fn func(SessionRecord)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r SessionRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		fn(r)
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64, now time.Time) {
	cut := now.UnixMilli()
	for k, v := range m {
		if v < cut {
			delete(m, k)
		}
	}
}
