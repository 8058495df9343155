package services

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/spark-backend/internal/events"
	"github.com/tbourn/spark-backend/internal/repo"
)

// ---------- test helpers ----------

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newSvcDB opens a migrated, file-backed SQLite database (WAL, busy timeout)
// so concurrent tests exercise real locking.
func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type fixture struct {
	db    *gorm.DB
	clock *fakeClock
	rec   *events.Recorder
	queue *MatchmakingService
	sess  *SessionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newSvcDB(t)
	clock := newFakeClock()
	rec := events.NewRecorder(64)

	q := NewMatchmakingService(db)
	q.Now = clock.Now
	q.Events = rec
	q.Retry = RetryPolicy{InitialInterval: 5 * time.Millisecond, MaxElapsed: 5 * time.Second}

	return &fixture{db: db, clock: clock, rec: rec, queue: q, sess: NewSessionService(db, q)}
}
