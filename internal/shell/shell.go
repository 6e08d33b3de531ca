// Package shell holds helpers for building command lines that are run through `sh -c`.
package shell

import (
	"os"
	"strings"
)

// Quote wraps s in single quotes, escaping any single quotes inside it, so the shell treats
// it as one literal word.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Resolve picks the interpreter for command lines: the explicit choice, then $SHELL, then /bin/sh.
func Resolve(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// Word returns s unchanged when it is a plain shell word, otherwise Quote(s).
func Word(s string) string {
	if s == "" {
		return Quote(s)
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("-_./@:+=,", r):
		default:
			return Quote(s)
		}
	}
	return s
}
