package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chronolens/core/pkg/scheduler"
)

type fakeRow struct {
	value bool
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) > 0 {
		if b, ok := dest[0].(*bool); ok {
			*b = r.value
		}
	}
	return nil
}

// fakeDB replays canned advisory-lock answers and records the queries.
type fakeDB struct {
	answers []fakeRow
	queries []string
	args    []int64
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db.queries = append(db.queries, sql)
	if len(args) > 0 {
		if id, ok := args[0].(int64); ok {
			db.args = append(db.args, id)
		}
	}
	if len(db.answers) == 0 {
		return fakeRow{}
	}
	row := db.answers[0]
	db.answers = db.answers[1:]
	return row
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.queries = append(db.queries, sql)
	return pgconn.CommandTag{}, nil
}

func TestPostgresLockManagerAcquire(t *testing.T) {
	key := scheduler.NewKey("report", "jobs")

	t.Run("acquired", func(t *testing.T) {
		db := &fakeDB{answers: []fakeRow{{value: true}}}
		lm := NewPostgresLockManager(db)

		acquired, err := lm.AcquireLock(context.Background(), key)
		if err != nil {
			t.Fatalf("AcquireLock() error = %v", err)
		}
		if !acquired {
			t.Error("AcquireLock() = false, want true")
		}
		if len(db.args) != 1 || db.args[0] != key.Hash() {
			t.Errorf("lock id = %v, want the key's stable hash %d", db.args, key.Hash())
		}
	})

	t.Run("held elsewhere", func(t *testing.T) {
		db := &fakeDB{answers: []fakeRow{{value: false}}}
		lm := NewPostgresLockManager(db)

		acquired, err := lm.AcquireLock(context.Background(), key)
		if err != nil {
			t.Fatalf("AcquireLock() error = %v", err)
		}
		if acquired {
			t.Error("AcquireLock() = true, want false when held elsewhere")
		}
	})

	t.Run("query failure", func(t *testing.T) {
		db := &fakeDB{answers: []fakeRow{{err: errors.New("connection reset")}}}
		lm := NewPostgresLockManager(db)

		if _, err := lm.AcquireLock(context.Background(), key); err == nil {
			t.Error("AcquireLock() should surface query failures")
		}
	})
}

func TestPostgresLockManagerIsLockedProbeReleases(t *testing.T) {
	key := scheduler.NewKey("report", "jobs")

	// Probe acquires, so it must release again.
	db := &fakeDB{answers: []fakeRow{{value: true}}}
	lm := NewPostgresLockManager(db)

	locked, err := lm.IsLocked(context.Background(), key)
	if err != nil {
		t.Fatalf("IsLocked() error = %v", err)
	}
	if locked {
		t.Error("IsLocked() = true, want false when the probe acquired")
	}
	if len(db.queries) != 2 {
		t.Errorf("probe issued %d queries, want try-lock then unlock", len(db.queries))
	}

	// When the try-lock fails, the lock is held elsewhere.
	db = &fakeDB{answers: []fakeRow{{value: false}}}
	lm = NewPostgresLockManager(db)
	locked, err = lm.IsLocked(context.Background(), key)
	if err != nil {
		t.Fatalf("IsLocked() error = %v", err)
	}
	if !locked {
		t.Error("IsLocked() = false, want true when the probe could not acquire")
	}
}

func TestPostgresLockManagerAcquireWithTimeout(t *testing.T) {
	key := scheduler.NewKey("report", "jobs")

	// Held on the first attempt, free on a later poll.
	db := &fakeDB{answers: []fakeRow{{value: false}, {value: false}, {value: true}}}
	lm := NewPostgresLockManager(db)

	acquired, err := lm.AcquireLockWithTimeout(context.Background(), key, 2*time.Second)
	if err != nil {
		t.Fatalf("AcquireLockWithTimeout() error = %v", err)
	}
	if !acquired {
		t.Error("AcquireLockWithTimeout() = false, want true once the lock frees")
	}

	// Never freed: times out without error.
	db = &fakeDB{}
	for i := 0; i < 100; i++ {
		db.answers = append(db.answers, fakeRow{value: false})
	}
	lm = NewPostgresLockManager(db)
	acquired, err = lm.AcquireLockWithTimeout(context.Background(), key, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("AcquireLockWithTimeout() error = %v", err)
	}
	if acquired {
		t.Error("AcquireLockWithTimeout() = true, want false on timeout")
	}
}

// stubLockManager lets the store tests exercise cross-process exclusion
// without a database.
type stubLockManager struct {
	held     bool
	acquires int
	releases int
}

func (s *stubLockManager) AcquireLock(ctx context.Context, jobKey scheduler.Key) (bool, error) {
	s.acquires++
	if s.held {
		return false, nil
	}
	s.held = true
	return true, nil
}

func (s *stubLockManager) ReleaseLock(ctx context.Context, jobKey scheduler.Key) error {
	s.releases++
	s.held = false
	return nil
}

func (s *stubLockManager) IsLocked(ctx context.Context, jobKey scheduler.Key) (bool, error) {
	return s.held, nil
}

func (s *stubLockManager) AcquireLockWithTimeout(ctx context.Context, jobKey scheduler.Key, timeout time.Duration) (bool, error) {
	return s.AcquireLock(ctx, jobKey)
}

func TestMemoryStoreUsesLockManagerForStatefulJobs(t *testing.T) {
	s := NewMemoryStore()
	locks := &stubLockManager{}
	s.SetLockManager(locks)

	detail := storedJob(t, s, "job1", true)
	tr := storedTrigger(t, s, "t1", "job1")

	bundle, err := s.TriggerFired(tr)
	if err != nil {
		t.Fatalf("TriggerFired() error = %v", err)
	}
	if bundle == nil {
		t.Fatal("firing should proceed when the lock is free")
	}
	if locks.acquires != 1 {
		t.Errorf("lock acquired %d times, want 1", locks.acquires)
	}

	if err := s.TriggeredJobComplete(tr, detail, scheduler.InstructionNoop); err != nil {
		t.Fatalf("TriggeredJobComplete() error = %v", err)
	}
	if locks.releases != 1 {
		t.Errorf("lock released %d times, want 1", locks.releases)
	}
}

func TestMemoryStoreSkipsWhenLockHeldElsewhere(t *testing.T) {
	s := NewMemoryStore()
	locks := &stubLockManager{held: true} // another node is executing
	s.SetLockManager(locks)

	storedJob(t, s, "job1", true)
	tr := storedTrigger(t, s, "t1", "job1")

	bundle, err := s.TriggerFired(tr)
	if err != nil {
		t.Fatalf("TriggerFired() error = %v", err)
	}
	if bundle != nil {
		t.Error("firing should be skipped while another node holds the job lock")
	}
}
