package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/alfredjeanlab/lotgate/internal/ui"
	"github.com/spf13/cobra"
)

// Patterns used to colorize cobra's help output.
var (
	// Unindented headers such as "Services:" or "Flags:".
	reGroupHeader = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)

	// Two-space indent, a command name, then the column gap.
	reCommand = regexp.MustCompile(`(?m)^(  )(\S+)(  )`)

	// Flag value types, e.g. "--grpc-addr string", "--timeout duration".
	reFlagType = regexp.MustCompile(`(--?\S+\s+)(string|int|duration|stringSlice)`)

	reDefault = regexp.MustCompile(`\(default "[^"]*"\)`)

	// Environment variables named in long help, e.g. LOT_LINK.
	reEnvVar = regexp.MustCompile(`\bLOT_[A-Z_]+\b`)
)

// colorizedHelpFunc returns a cobra help function that styles the default
// usage text when stdout supports color.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if long := strings.TrimSpace(cmd.Long); long != "" {
			fmt.Fprintln(out, colorizeHelpOutput(long))
			fmt.Fprintln(out)
		}
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}

		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelpOutput(buf.String()))
	}
}

func colorizeHelpOutput(s string) string {
	s = reGroupHeader.ReplaceAllStringFunc(s, func(match string) string {
		return ui.RenderAccent(strings.TrimSpace(match))
	})
	s = reCommand.ReplaceAllStringFunc(s, func(match string) string {
		parts := reCommand.FindStringSubmatch(match)
		return parts[1] + ui.RenderCommand(parts[2]) + parts[3]
	})
	s = reFlagType.ReplaceAllStringFunc(s, func(match string) string {
		parts := reFlagType.FindStringSubmatch(match)
		return parts[1] + ui.RenderMuted(parts[2])
	})
	s = reDefault.ReplaceAllStringFunc(s, ui.RenderMuted)
	return reEnvVar.ReplaceAllStringFunc(s, ui.RenderCommand)
}
