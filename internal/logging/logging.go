package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/amterp/color"
)

const (
	LevelTrace   = slog.LevelDebug - 4 // -8
	LevelDebug   = slog.LevelDebug     // -4
	LevelVerbose = slog.LevelDebug + 2 // -2
	LevelInfo    = slog.LevelInfo      // 0
	LevelNotice  = slog.LevelInfo + 2  // 2
	LevelWarn    = slog.LevelWarn      // 4
	LevelError   = slog.LevelError     // 8
	LevelFatal   = slog.LevelError + 4 // 12
)

var validLevels = []string{"trace", "debug", "verbose", "info", "notice", "warn", "error", "fatal"}

// BumpLevel returns lvl bumped to the next higher (more severe) or lower (less severe) named level.
func BumpLevel(lvl slog.Level, lower bool) slog.Level {
	// Take advantage of the symmetry around 0.
	var orient slog.Level = 1
	if lower {
		orient = -1
		lvl *= orient
	}
	var adj slog.Level = 4
	if LevelDebug+2 <= lvl && lvl < LevelWarn+2 {
		adj = 2
	}
	lvl += adj
	lvl *= orient
	return lvl
}

// StringToLevel parses a level name as accepted by the -v and -q command-line options.
func StringToLevel(arg string) (slog.Level, error) {
	arg = strings.ToLower(arg)
	switch arg {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "verbose":
		return LevelVerbose, nil
	case "info":
		return LevelInfo, nil
	case "notice":
		return LevelNotice, nil
	case "warn":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	default:
		if slices.Contains(validLevels, arg) {
			panic("need to update the switch cases")
		}
		return 0, fmt.Errorf("invalid log level; expected one of: %v", strings.Join(validLevels, ", "))
	}
}

// A Verb is the leading word of a [Status] line.  Verbs are right-aligned in a 12-column field and
// colored by severity, the same way cargo prints its progress.
type Verb string

const (
	Adding   Verb = "Adding"
	Updating Verb = "Updating"
	Removing Verb = "Removing"
	Skipping Verb = "Skipping"
	Finished Verb = "Finished"
)

var (
	statusMu  sync.Mutex
	statusOut io.Writer = os.Stderr

	greenf  = color.New(color.FgGreen, color.Bold).SprintFunc()
	yellowf = color.New(color.FgYellow, color.Bold).SprintFunc()
	redf    = color.New(color.FgRed, color.Bold).SprintFunc()
	cyanf   = color.New(color.FgCyan, color.Bold).SprintFunc()
)

// SetStatusOutput redirects [Status] lines and returns the previous destination.
func SetStatusOutput(w io.Writer) io.Writer {
	statusMu.Lock()
	defer statusMu.Unlock()
	prev := statusOut
	statusOut = w
	return prev
}

func (v Verb) paint() string {
	s := fmt.Sprintf("%12s", string(v))
	switch v {
	case Removing:
		return redf(s)
	case Skipping:
		return yellowf(s)
	case Finished:
		return cyanf(s)
	default:
		return greenf(s)
	}
}

// Status prints a user-facing progress line such as "      Adding regex v1.10.2".  Status lines are
// suppressed when the default logger is not enabled at [LevelInfo], so -q silences them.  They are
// also mirrored to the default logger at [LevelDebug] so they show up in debug traces.
func Status(ctx context.Context, verb Verb, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.DebugContext(ctx, "status", "verb", string(verb), "msg", msg)
	if !slog.Default().Enabled(ctx, LevelInfo) {
		return
	}
	statusMu.Lock()
	defer statusMu.Unlock()
	fmt.Fprintf(statusOut, "%s %s\n", verb.paint(), msg)
}
