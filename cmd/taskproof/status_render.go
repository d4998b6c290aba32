package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const statusLabelWidth = 18

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	line := fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", message)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + line + ansiReset
		}
	}
	return line
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

// taskStatusKind colours a task status the way the list view shows it.
func taskStatusKind(status string) statusKind {
	switch status {
	case "completed":
		return statusOK
	case "active":
		return statusError
	default:
		return statusWarn
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
