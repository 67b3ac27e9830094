package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// engineLock serializes pull, invalidate, and any debug accessor that
// reads more than one storage sublevel. It is structured as an
// acquire/scoped-struct/release pair rather than a bare sync.Mutex so
// that callers hold a value they must explicitly release, and so that
// contention and hold-time are logged on both paths.
type engineLock struct {
	mu        sync.Mutex
	logger    *zap.Logger
	holderTag string
}

func newEngineLock(logger *zap.Logger) *engineLock {
	return &engineLock{logger: logger}
}

// heldLock represents an acquired engineLock. Callers must call Release
// exactly once, typically via defer immediately after Acquire returns.
type heldLock struct {
	lock       *engineLock
	tag        string
	token      string
	acquiredAt time.Time
}

// Acquire blocks until the lock is free, then returns a heldLock scoped
// to the given operation tag (e.g. "pull:f"). Each acquisition gets a
// fresh token, distinguishing repeated acquisitions under the same tag
// when correlating log lines.
func (el *engineLock) Acquire(tag string) *heldLock {
	start := time.Now()
	el.mu.Lock()
	waited := time.Since(start)

	el.holderTag = tag
	token := uuid.NewString()

	if waited > time.Millisecond {
		el.logger.Debug("engine lock contended",
			zap.String("tag", tag),
			zap.String("token", token),
			zap.Duration("waited", waited),
		)
	} else {
		el.logger.Debug("engine lock acquired", zap.String("tag", tag), zap.String("token", token))
	}

	return &heldLock{lock: el, tag: tag, token: token, acquiredAt: time.Now()}
}

// Release releases the lock. It is safe to call at most once; calling
// it twice will unlock an already-unlocked mutex, which is a fatal,
// unrecoverable runtime error, matching
// the teacher's "lock is already gone" idiom of making double-release
// a programmer error rather than silently ignored.
func (hl *heldLock) Release() {
	held := time.Since(hl.acquiredAt)
	hl.lock.holderTag = ""
	hl.lock.mu.Unlock()
	hl.lock.logger.Debug("engine lock released",
		zap.String("tag", hl.tag),
		zap.String("token", hl.token),
		zap.Duration("held", held),
	)
}

// HeldFor returns how long the lock has been held so far.
func (hl *heldLock) HeldFor() time.Duration {
	return time.Since(hl.acquiredAt)
}

// String implements fmt.Stringer for log/debug output.
func (hl *heldLock) String() string {
	return fmt.Sprintf("heldLock{tag=%s, held=%s}", hl.tag, hl.HeldFor())
}
