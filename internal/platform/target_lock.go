package platform

import (
	"errors"
	"strings"
)

// ErrTargetBusy indicates another process is already recording from the target.
var ErrTargetBusy = errors.New("target already in use")

// ErrTargetLockUnsupported indicates the current platform has no lock backend implementation.
var ErrTargetLockUnsupported = errors.New("target lock unsupported")

// TargetLock represents an acquired per-sensor lock. It is released
// automatically when the owning process exits.
type TargetLock interface {
	Release() error
}

// AcquireTargetLock takes an exclusive lock on target (a bluetooth address or
// serial port) for the current user.
func AcquireTargetLock(appID, target string) (TargetLock, error) {
	return acquireTargetLock(
		normalizeLockComponent(appID, "app"),
		normalizeLockComponent(strings.ToLower(target), "default"),
	)
}

func normalizeLockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
