// Package checks has its own package, to prevent dependency cycles.
package checks

import (
	"runtime/debug"
	"strings"

	"github.com/phuslu/log"
)

// Check exits the process with the caller's stack when err is not nil. Only for tools
// and test setup, never inside a handler.
func Check(err error) {
	if err != nil {
		log.Fatal().Err(err).Str("stack", callerStack()).Msg("unrecoverable error")
	}
}

func CheckWithMessage(err error, message string) {
	if err != nil {
		log.Fatal().Err(err).Str("stack", callerStack()).Msg(message)
	}
}

// callerStack drops the frames of debug.Stack and of this package.
func callerStack() string {
	lines := strings.Split(string(debug.Stack()), "\n")
	if len(lines) > 7 {
		lines = lines[7:]
	}
	return strings.Join(lines, "\n")
}
