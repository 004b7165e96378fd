// Package util holds small helpers shared by the resolved proxy
// commands.
package util

import "fmt"

// Version is replaced at build time via -ldflags.
var Version = "version_replaceme"

// ProgramVersion returns the version string identifying component.
func ProgramVersion(component string) string {
	return fmt.Sprintf("%s %s", component, Version)
}
