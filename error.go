package diskdb

import (
	"errors"

	"diskdb/internal/lock"
)

// Engine-level sentinel errors.
var (
	ErrEngineClosed  = errors.New("diskdb: engine is closed")
	ErrTableNotFound = errors.New("diskdb: table not found")
	ErrTableExists   = errors.New("diskdb: table already exists")
	ErrNoEvictable   = errors.New("diskdb: buffer pool has no evictable frame")
	ErrBadPageSize   = errors.New("diskdb: page size option must match the compiled page size")
	ErrDuplicateKey  = errors.New("diskdb: duplicate key")
	ErrKeyNotFound   = errors.New("diskdb: key not found")
)

// Transaction protocol violation kinds. These alias internal/lock's
// sentinels, the package that actually detects each condition.
var (
	ErrLockOnShrinking                  = lock.ErrLockOnShrinking
	ErrLockSharedOnReadUncommitted      = lock.ErrLockSharedOnReadUncommitted
	ErrUpgradeConflict                  = lock.ErrUpgradeConflict
	ErrIncompatibleUpgrade              = lock.ErrInvalidUpgrade
	ErrAttemptedUnlockButNoLockHeld     = lock.ErrNotHeld
	ErrTableUnlockedBeforeUnlockingRows = lock.ErrRowLocksOnTable
	ErrAttemptedIntentionLockOnRow      = lock.ErrIntentionRowMode
	ErrTableLockNotPresent              = lock.ErrTableLockNotPresent
)
