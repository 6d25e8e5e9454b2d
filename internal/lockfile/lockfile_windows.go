//go:build windows

package lockfile

import (
	"syscall"
)

// isProcessRunning checks whether the process handle can be opened.
func isProcessRunning(pid int) bool {
	handle, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	syscall.CloseHandle(handle)
	return true
}
