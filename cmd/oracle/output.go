package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// Status lines go to stderr so stdout stays clean for --json.
func say(paint func(...any) string, mark, format string, args ...any) {
	fmt.Fprintln(os.Stderr, paint(mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { say(green, "✓", format, args...) }
func printError(format string, args ...any)   { say(red, "✗", format, args...) }
func printWarning(format string, args ...any) { say(yellow, "!", format, args...) }
func printStep(format string, args ...any)    { say(cyan, "→", format, args...) }

// printStatus prints one "label: value" row of a status block.
func printStatus(label, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %-16s %s\n", bold(label+":"), fmt.Sprintf(format, args...))
}
