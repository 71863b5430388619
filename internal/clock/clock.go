// Package clock provides the monotonic time source, ID minting, and the
// atomic file writer shared by every component that persists state or
// journal records to disk.
package clock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Now returns the current UTC time. Every timestamp in the system goes
// through here so tests can wrap a Clock interface if they ever need to.
func Now() time.Time {
	return time.Now().UTC()
}

// Clock is the time source every loop reads from. Production code uses
// RealClock; tests substitute a fixed/advancing fake.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// NewCorrelationID mints a new correlation ID that threads a single
// signal through decision, order, fill, close, and outcome.
func NewCorrelationID() string {
	return uuid.NewString()
}

// NewID mints a general-purpose object ID (position, order internal ID).
func NewID() string {
	return uuid.NewString()
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// EventID derives the deterministic event_id per spec §4.1:
// sha256(type || correlation_id || ts || canonical_payload)[:16].
func EventID(eventType, correlationID string, ts time.Time, canonicalPayload []byte) string {
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte(correlationID))
	h.Write([]byte(ts.Format(time.RFC3339Nano)))
	h.Write(canonicalPayload)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}

// ClientOrderID derives a deterministic, idempotent client order ID from
// a correlation ID and a purpose tag ("entry", "tp", "sl", "close").
// Resubmitting with the same correlation ID and tag always yields the
// same ID, which is what makes order submission idempotent (spec §4.7,
// §8).
func ClientOrderID(correlationID, tag string) string {
	h := sha256.Sum256([]byte(correlationID + "|" + tag))
	return "HOPE-" + hex.EncodeToString(h[:])[:24]
}

// AtomicWriteFile writes data to path via temp file + fsync + rename, so
// a crash mid-write never leaves a partially-written file behind (spec
// §5 Idempotence, §8 round-trip property). The temp file lives in the
// same directory as path so the final rename is on the same filesystem
// and therefore atomic.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("atomic write: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("atomic write: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("atomic write: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("atomic write: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomic write: close: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("atomic write: chmod: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomic write: rename: %w", err)
	}
	return nil
}

// AtomicAppendFile appends data under an exclusive advisory lock, then
// fsyncs before releasing it. Used for the per-type event journals,
// which are append-only and must never be overwritten (spec §4.1).
func AtomicAppendFile(path string, line []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("atomic append: mkdir %s: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("atomic append: open %s: %w", path, err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("atomic append: lock: %w", err)
	}
	defer unlockFile(f)

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("atomic append: write: %w", err)
	}
	return f.Sync()
}
