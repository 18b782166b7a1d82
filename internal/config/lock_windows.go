//go:build windows

package config

import (
	"golang.org/x/sys/windows"
)

// processAlive checks whether pid refers to a live process by opening a
// limited-information handle and inspecting its exit code.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var code uint32
	if err := windows.GetExitCodeProcess(handle, &code); err != nil {
		return false
	}
	return code == statusStillActive
}

// STILL_ACTIVE from the Windows API.
const statusStillActive = 259
