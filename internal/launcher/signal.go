package launcher

import (
	"syscall"
)

// SignalGroup delivers sig to the process group pgid, falling back to
// signaling pid alone if the group signal fails (e.g. the group has
// already been reaped) — mirrors the pack's process-group termination
// idiom of preferring -pgid and falling back to the single pid.
func SignalGroup(pid, pgid int, sig syscall.Signal) error {
	if pgid > 0 {
		if err := syscall.Kill(-pgid, sig); err == nil {
			return nil
		}
	}
	return syscall.Kill(pid, sig)
}

// ReapNonBlocking returns true if pid has already been reaped (no longer
// exists), without blocking. Used by the termination poll loop to check
// liveness between SIGTERM and SIGKILL escalation.
func ReapNonBlocking(pid int) bool {
	// Signal 0 performs no-op existence/permission check (classic kill(2)
	// idiom, matching the teacher's IsRunning liveness check).
	err := syscall.Kill(pid, 0)
	return err != nil
}
