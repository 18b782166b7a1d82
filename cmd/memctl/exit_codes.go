package main

import "github.com/lanonasis/memctl-go/internal/faults"

// Exit codes let scripted callers distinguish failure classes without
// parsing error output.
const (
	ExitCodeSuccess      = 0
	ExitCodeGeneralError = 1
	ExitCodeAuthError    = 2
	ExitCodeValidation   = 3
	ExitCodeNetwork      = 4
	ExitCodeLockTimeout  = 5
)

func exitCode(err error) int {
	switch faults.ClassOf(err) {
	case faults.AuthRequired, faults.AuthInvalid, faults.Decryption:
		return ExitCodeAuthError
	case faults.Validation, faults.UnknownTool:
		return ExitCodeValidation
	case faults.Network, faults.Server:
		return ExitCodeNetwork
	case faults.LockTimeout:
		return ExitCodeLockTimeout
	default:
		return ExitCodeGeneralError
	}
}
