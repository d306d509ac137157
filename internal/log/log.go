// Package log is the small progress-reporting helper used throughout
// ncatool: plain fmt.Printf/Println calls to stdout/stderr, no structured
// logging library.
package log

import (
	"fmt"
	"os"
)

// Infof writes a progress line to stdout.
func Infof(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// Warnf writes a "Warning: ..." line to stdout.
func Warnf(format string, args ...any) {
	fmt.Printf("Warning: "+format+"\n", args...)
}

// Errorf writes an error line to stderr.
func Errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
