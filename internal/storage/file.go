package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"relaybot/pkg/logx"
)

const compactEvery = 1000

// fileStore persists the Memory state on disk.
//
// Files:
//   - <prefix>.audit.jsonl    (append-only JSON Lines)
//   - <prefix>.snapshot.json  (periodic snapshot)
//   - <prefix>.journal.jsonl  (append-only journal since the snapshot)
type fileStore struct {
	log logx.Logger
	mem *Memory

	mu           sync.Mutex
	auditFile    *os.File
	journalFile  *os.File
	snapshotPath string
	writes       int
}

type journalOp string

const (
	opUser       journalOp = "user"
	opCorrPut    journalOp = "corr_put"
	opCorrDelete journalOp = "corr_del"
	opPrune      journalOp = "prune"
	opSetting    journalOp = "setting"
)

type journalRecord struct {
	Op      journalOp    `json:"op"`
	User    *User        `json:"user,omitempty"`
	Corr    *Correlation `json:"corr,omitempty"`
	RelayID string       `json:"relay_id,omitempty"`
	Before  int64        `json:"before,omitempty"`
	Key     string       `json:"key,omitempty"`
	Value   string       `json:"value,omitempty"`
}

type snapshot struct {
	Users        []User            `json:"users"`
	Correlations []Correlation     `json:"correlations"`
	Settings     map[string]string `json:"settings"`
}

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

	mem := NewMemory()
	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"
	if err := loadSnapshot(snapPath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix))
	return &fileStore{log: log, mem: mem, auditFile: af, journalFile: jf, snapshotPath: snapPath}, nil
}

// mutation changes the locked Memory and returns the journal record plus an
// undo for when the record cannot be written. A nil record means no change.
type mutation func(m *Memory) (*journalRecord, func(), error)

// commit applies mu and journals it; memory and journal never disagree.
func (s *fileStore) commit(mu mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}

	m := s.mem
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	rec, undo, err := mu(m)
	if err != nil || rec == nil {
		m.mu.Unlock()
		return err
	}
	if err := s.writeRecordLocked(*rec); err != nil {
		if undo != nil {
			undo()
		}
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func restoreUser(m *Memory, id int64) func() {
	prev, had := m.users[id]
	return func() {
		if had {
			m.users[id] = prev
		} else {
			delete(m.users, id)
		}
	}
}

func (s *fileStore) UpsertUser(_ context.Context, u User) (bool, error) {
	var created bool
	err := s.commit(func(m *Memory) (*journalRecord, func(), error) {
		undo := restoreUser(m, u.ID)
		stored, c := m.upsertUserLocked(u)
		created = c
		return &journalRecord{Op: opUser, User: &stored}, undo, nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *fileStore) SetBanned(_ context.Context, id int64, banned bool) (bool, error) {
	var changed bool
	err := s.commit(func(m *Memory) (*journalRecord, func(), error) {
		undo := restoreUser(m, id)
		stored, c := m.setBannedLocked(id, banned)
		if !c {
			return nil, nil, nil
		}
		changed = true
		return &journalRecord{Op: opUser, User: &stored}, undo, nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *fileStore) PutCorrelation(_ context.Context, c Correlation) error {
	return s.commit(func(m *Memory) (*journalRecord, func(), error) {
		stored, err := m.putCorrelationLocked(c)
		if err != nil {
			return nil, nil, err
		}
		return &journalRecord{Op: opCorrPut, Corr: &stored}, func() { delete(m.corrs, c.RelayID) }, nil
	})
}

func (s *fileStore) DeleteCorrelation(_ context.Context, relayID string) (bool, error) {
	var ok bool
	err := s.commit(func(m *Memory) (*journalRecord, func(), error) {
		prev, found := m.corrs[relayID]
		if !found {
			return nil, nil, nil
		}
		ok = true
		delete(m.corrs, relayID)
		return &journalRecord{Op: opCorrDelete, RelayID: relayID}, func() { m.corrs[relayID] = prev }, nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *fileStore) PruneCorrelations(_ context.Context, before time.Time) (int, error) {
	var removed []Correlation
	err := s.commit(func(m *Memory) (*journalRecord, func(), error) {
		for k, c := range m.corrs {
			if c.CreatedAt.Before(before) {
				removed = append(removed, c)
				delete(m.corrs, k)
			}
		}
		if len(removed) == 0 {
			return nil, nil, nil
		}
		undo := func() {
			for _, c := range removed {
				m.corrs[c.RelayID] = c
			}
		}
		return &journalRecord{Op: opPrune, Before: before.UnixMilli()}, undo, nil
	})
	if err != nil {
		return 0, err
	}
	return len(removed), nil
}

func (s *fileStore) PutSetting(_ context.Context, key, value string) error {
	return s.commit(func(m *Memory) (*journalRecord, func(), error) {
		prev, had := m.settings[key]
		m.settings[key] = value
		undo := func() {
			if had {
				m.settings[key] = prev
			} else {
				delete(m.settings, key)
			}
		}
		return &journalRecord{Op: opSetting, Key: key, Value: value}, undo, nil
	})
}

func (s *fileStore) GetUser(ctx context.Context, id int64) (User, error) {
	return s.mem.GetUser(ctx, id)
}

func (s *fileStore) ListUsers(ctx context.Context, f UserFilter) ([]User, error) {
	return s.mem.ListUsers(ctx, f)
}

func (s *fileStore) CountUsers(ctx context.Context) (UserCounts, error) {
	return s.mem.CountUsers(ctx)
}

func (s *fileStore) GetCorrelation(ctx context.Context, relayID string) (Correlation, error) {
	return s.mem.GetCorrelation(ctx, relayID)
}

func (s *fileStore) CountCorrelations(ctx context.Context) (int, error) {
	return s.mem.CountCorrelations(ctx)
}

func (s *fileStore) GetSetting(ctx context.Context, key string) (string, error) {
	return s.mem.GetSetting(ctx, key)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	if err := s.compactLocked(); err != nil {
		s.log.Warn("final compaction failed", logx.Err(err))
	}
	err1 := s.auditFile.Close()
	err2 := s.journalFile.Close()
	s.auditFile, s.journalFile = nil, nil
	_ = s.mem.Close()
	return errors.Join(err1, err2)
}

// writeRecordLocked appends one journal line. A failed write is cut back so
// a torn fragment cannot swallow the next record.
func (s *fileStore) writeRecordLocked(r journalRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	off, serr := s.journalFile.Seek(0, io.SeekEnd)
	if _, err := s.journalFile.Write(b); err != nil {
		if serr == nil {
			_ = s.journalFile.Truncate(off)
		}
		return err
	}
	return nil
}

// compactLocked writes a snapshot of the current state and truncates the journal.
func (s *fileStore) compactLocked() error {
	snap := s.mem.snapshot()
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func (m *Memory) snapshot() snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := snapshot{
		Users:        make([]User, 0, len(m.users)),
		Correlations: make([]Correlation, 0, len(m.corrs)),
		Settings:     make(map[string]string, len(m.settings)),
	}
	for _, u := range m.users {
		snap.Users = append(snap.Users, u)
	}
	for _, c := range m.corrs {
		snap.Correlations = append(snap.Correlations, c)
	}
	for k, v := range m.settings {
		snap.Settings[k] = v
	}
	return snap
}

func loadSnapshot(path string, m *Memory) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, u := range snap.Users {
		m.users[u.ID] = u
	}
	for _, c := range snap.Correlations {
		m.corrs[c.RelayID] = c
	}
	for k, v := range snap.Settings {
		m.settings[k] = v
	}
	return nil
}

// replayJournal applies journal records on top of the snapshot. Torn trailing
// lines from a crash are skipped.
func replayJournal(path string, m *Memory) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Op {
		case opUser:
			if r.User != nil {
				m.users[r.User.ID] = *r.User
			}
		case opCorrPut:
			if r.Corr != nil {
				m.corrs[r.Corr.RelayID] = *r.Corr
			}
		case opCorrDelete:
			delete(m.corrs, r.RelayID)
		case opPrune:
			m.pruneLocked(time.UnixMilli(r.Before))
		case opSetting:
			m.settings[r.Key] = r.Value
		}
	}
	return sc.Err()
}
