package util

import (
	"os"

	"golang.org/x/sys/unix"
)

// IsColourTerminal reports whether stdout is attached to a terminal
// that can be expected to handle colour output.
func IsColourTerminal() bool {
	if term := os.Getenv("TERM"); term == "" || term == "dumb" {
		return false
	}
	_, err := unix.IoctlGetTermios(int(os.Stdout.Fd()), unix.TCGETS)
	return err == nil
}
