package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chronolens/core/pkg/logger"
	"github.com/chronolens/core/pkg/scheduler"
)

// DBTX is the slice of a pgx connection or pool the lock manager needs.
// *pgxpool.Pool and pgx.Tx both satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LockManager provides per-job mutual exclusion across processes sharing a
// database. While one node holds a stateful job's lock, the other nodes
// skip firings of that job; their trigger states are left unchanged.
type LockManager interface {
	// AcquireLock attempts to take the lock for jobKey without waiting.
	// Returns false when another holder has it.
	AcquireLock(ctx context.Context, jobKey scheduler.Key) (bool, error)

	// ReleaseLock gives the lock back.
	ReleaseLock(ctx context.Context, jobKey scheduler.Key) error

	// IsLocked reports whether some process currently holds the lock.
	IsLocked(ctx context.Context, jobKey scheduler.Key) (bool, error)

	// AcquireLockWithTimeout polls for the lock until it is acquired or
	// the timeout elapses.
	AcquireLockWithTimeout(ctx context.Context, jobKey scheduler.Key, timeout time.Duration) (bool, error)
}

// PostgresLockManager implements LockManager with PostgreSQL advisory
// locks. Advisory locks key on int64; the job key's stable hash is the
// lock id, so every node derives the same id from the same job.
type PostgresLockManager struct {
	db  DBTX
	log *logger.Logger
}

func NewPostgresLockManager(db DBTX) *PostgresLockManager {
	return &PostgresLockManager{
		db:  db,
		log: logger.New("job-lock-manager"),
	}
}

// AcquireLock uses pg_try_advisory_lock, which returns immediately.
func (p *PostgresLockManager) AcquireLock(ctx context.Context, jobKey scheduler.Key) (bool, error) {
	lockID := jobKey.Hash()

	var acquired bool
	err := p.db.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired)
	if err != nil {
		p.log.Error().
			Err(err).
			Str("job", jobKey.FullName()).
			Int64("lock_id", lockID).
			Str("action", "acquire_lock_failed").
			Msg("Failed to acquire job lock")
		return false, fmt.Errorf("failed to acquire lock for job %s: %w", jobKey.FullName(), err)
	}

	if acquired {
		p.log.Debug().
			Str("job", jobKey.FullName()).
			Int64("lock_id", lockID).
			Str("action", "lock_acquired").
			Msg("Acquired job lock")
	} else {
		p.log.Debug().
			Str("job", jobKey.FullName()).
			Int64("lock_id", lockID).
			Str("action", "lock_already_held").
			Msg("Job lock held by another instance")
	}
	return acquired, nil
}

// ReleaseLock uses pg_advisory_unlock. Releasing a lock we do not hold is
// logged, not an error.
func (p *PostgresLockManager) ReleaseLock(ctx context.Context, jobKey scheduler.Key) error {
	lockID := jobKey.Hash()

	var released bool
	err := p.db.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", lockID).Scan(&released)
	if err != nil {
		return fmt.Errorf("failed to release lock for job %s: %w", jobKey.FullName(), err)
	}
	if !released {
		p.log.Warn().
			Str("job", jobKey.FullName()).
			Int64("lock_id", lockID).
			Str("action", "lock_not_held").
			Msg("Released a job lock that was not held")
	}
	return nil
}

// IsLocked probes by trying the lock and releasing it immediately on
// success.
func (p *PostgresLockManager) IsLocked(ctx context.Context, jobKey scheduler.Key) (bool, error) {
	lockID := jobKey.Hash()

	var canAcquire bool
	err := p.db.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&canAcquire)
	if err != nil {
		return false, fmt.Errorf("failed to check lock status for job %s: %w", jobKey.FullName(), err)
	}
	if canAcquire {
		if _, err := p.db.Exec(ctx, "SELECT pg_advisory_unlock($1)", lockID); err != nil {
			p.log.Warn().
				Err(err).
				Str("job", jobKey.FullName()).
				Msg("Failed to release job lock after probe")
		}
		return false, nil
	}
	return true, nil
}

// AcquireLockWithTimeout polls every 100ms until acquisition, ctx
// cancellation, or timeout.
func (p *PostgresLockManager) AcquireLockWithTimeout(ctx context.Context, jobKey scheduler.Key, timeout time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	acquired, err := p.AcquireLock(ctx, jobKey)
	if err != nil || acquired {
		return acquired, err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case <-ticker.C:
			acquired, err := p.AcquireLock(ctx, jobKey)
			if err != nil {
				// Context expiry during the query is a timeout, not a failure.
				if ctx.Err() != nil {
					return false, nil
				}
				return false, err
			}
			if acquired {
				return true, nil
			}
		}
	}
}

// lockOpTimeout bounds the store's internal lock calls so a dead database
// cannot wedge TriggerFired.
const lockOpTimeout = 5 * time.Second

func (s *MemoryStore) acquireJobLock(jobKey scheduler.Key) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), lockOpTimeout)
	defer cancel()
	return s.locks.AcquireLock(ctx, jobKey)
}

func (s *MemoryStore) releaseJobLock(jobKey scheduler.Key) error {
	ctx, cancel := context.WithTimeout(context.Background(), lockOpTimeout)
	defer cancel()
	return s.locks.ReleaseLock(ctx, jobKey)
}
