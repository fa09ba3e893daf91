// Package ui renders run progress and results on the terminal.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/klauern/confsync/internal/publish"
	"github.com/klauern/confsync/internal/util"
)

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// NewProgress returns a progress bar over total documents, or nil when
// stdout is not a terminal.
func NewProgress(total int, description string) *progressbar.ProgressBar {
	if !IsTerminal() {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// Reporter prints per-run output.
type Reporter struct {
	out     io.Writer
	noColor bool
}

// NewReporter writes to out; noColor disables ANSI colors.
func NewReporter(out io.Writer, noColor bool) *Reporter {
	return &Reporter{out: out, noColor: noColor}
}

func (r *Reporter) sprintf(c *color.Color, format string, args ...any) string {
	if r.noColor {
		return fmt.Sprintf(format, args...)
	}
	return c.Sprintf(format, args...)
}

// Summary prints the outcome counts of a run.
func (r *Reporter) Summary(s *publish.Summary, dryRun bool) {
	heading := "Synchronization complete"
	if dryRun {
		heading = "Dry run complete"
	}
	fmt.Fprintln(r.out, heading)
	fmt.Fprintf(r.out, "  %s  %s  %s",
		r.sprintf(color.New(color.FgGreen), "%d created", s.Created),
		r.sprintf(color.New(color.FgCyan), "%d updated", s.Updated),
		fmt.Sprintf("%d unchanged", s.Skipped),
	)
	if s.Failed > 0 {
		fmt.Fprintf(r.out, "  %s", r.sprintf(color.New(color.FgRed), "%d failed", s.Failed))
	}
	fmt.Fprintln(r.out)

	for _, err := range s.Errors {
		fmt.Fprintf(r.out, "  %s %v\n", r.sprintf(color.New(color.FgRed), "error:"), err)
	}
}

// Document prints a processed document path relative to base.
func (r *Reporter) Document(path, base string) {
	fmt.Fprintf(r.out, "  %s\n", util.RelativePath(path, base))
}
