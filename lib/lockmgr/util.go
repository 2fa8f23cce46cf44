package lockmgr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

var (
	log = logger.GetLogger("lockmgr")

	unsupportedOnce sync.Once
)

// warnUnsupported logs that file locking is not available. The warning is
// emitted at most once per process no matter how many providers or locks run
// into the problem.
func warnUnsupported(err error) {
	unsupportedOnce.Do(func() {
		log.Warningf("file locking is not supported, locks fall back to unsynchronized mode: %v", err)
	})
}

// lockFilePath maps a lock name to its lock file. The name is hashed so that
// arbitrary names are valid file names, and the first hash bytes cluster the
// files into a two level directory tree (at most 256 entries per directory level).
func lockFilePath(dir, name string) string {
	sum := sha256.Sum256([]byte(name))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(dir, h[0:2], h[2:4], h+".lock")
}

// --------------------------------------------------------------------------
// Context annotations (nested lock protection)
// --------------------------------------------------------------------------

type holdingKey struct{}

// holding is an immutable linked list of the locks held by an execution context.
type holding struct {
	parent *holding
	name   string
	mode   Mode
}

// WithHolding returns a copy of ctx recording that the execution context
// holds the lock name in the given mode.
func WithHolding(ctx context.Context, name string, mode Mode) context.Context {
	parent, _ := ctx.Value(holdingKey{}).(*holding)
	return context.WithValue(ctx, holdingKey{}, &holding{parent: parent, name: name, mode: mode})
}

// Holding reports whether ctx records a held lock with the given name and in which mode.
func Holding(ctx context.Context, name string) (Mode, bool) {
	if ctx == nil {
		return ModeNone, false
	}
	for h, _ := ctx.Value(holdingKey{}).(*holding); h != nil; h = h.parent {
		if h.name == name {
			return h.mode, true
		}
	}
	return ModeNone, false
}
