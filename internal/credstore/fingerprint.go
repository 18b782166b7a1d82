package credstore

import (
	"os"
	"runtime"
)

// Fingerprint identifies the local machine for key derivation. It is stable
// across runs on the same host and requires no special privileges. Moving an
// encrypted blob to another machine changes the derived key, which is the
// intended binding.
func Fingerprint() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	return hostname + "|" + runtime.GOOS + "|" + runtime.GOARCH
}
