//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package logger

// Colour output is disabled where terminal detection is not implemented.
func isTerminal(fd uintptr) bool {
	return false
}
