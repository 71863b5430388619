package clock

import (
	"os"
	"syscall"
)

// lockFile takes an exclusive advisory lock on f, blocking until
// available. Event journals are appended from multiple loops (the
// event bus fan-out and the DLQ retry ticker), so each append must be
// serialized per file (spec §4.1).
func lockFile(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

func unlockFile(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
