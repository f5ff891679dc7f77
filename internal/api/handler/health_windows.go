//go:build windows

package handler

import (
	"golang.org/x/sys/windows"
)

// getDiskStats returns the size of the volume holding path and the bytes
// available to the caller, or zeros when they cannot be determined.
func getDiskStats(path string) (total, free int64) {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0
	}
	var freeBytes, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &freeBytes, &totalBytes, &totalFreeBytes); err != nil {
		return 0, 0
	}
	return int64(totalBytes), int64(freeBytes)
}

// getCPUUsage is not tracked on Windows.
func getCPUUsage() float64 {
	return 0
}
