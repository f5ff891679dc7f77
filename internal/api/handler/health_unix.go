//go:build !windows

package handler

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// CPU tracking state for calculating delta between polls
var (
	cpuMu          sync.Mutex
	lastCPUTime    time.Duration // user + system time
	lastWallTime   time.Time
	cpuInitialized bool
)

// getDiskStats returns the size and the unprivileged free space of the
// filesystem holding path, or zeros when it cannot be determined.
func getDiskStats(path string) (total, free int64) {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return 0, 0
	}
	return int64(fs.Blocks) * int64(fs.Bsize), int64(fs.Bavail) * int64(fs.Bsize)
}

// getCPUUsage returns the CPU usage percentage of this process since the
// previous call, capped at one core. The first call returns 0.
func getCPUUsage() float64 {
	var rusage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}

	total := time.Duration(rusage.Utime.Nano()) + time.Duration(rusage.Stime.Nano())
	now := time.Now()

	cpuMu.Lock()
	defer cpuMu.Unlock()

	if !cpuInitialized {
		lastCPUTime = total
		lastWallTime = now
		cpuInitialized = true
		return 0
	}

	cpuDelta := total - lastCPUTime
	wallDelta := now.Sub(lastWallTime)
	lastCPUTime = total
	lastWallTime = now

	if wallDelta <= 0 {
		return 0
	}
	pct := float64(cpuDelta) / float64(wallDelta) * 100
	return min(max(pct, 0), 100)
}
