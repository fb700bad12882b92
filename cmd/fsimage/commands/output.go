package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/openfroyo/fsimage/pkg/engine"
	"github.com/openfroyo/fsimage/pkg/policy"
	"github.com/openfroyo/fsimage/pkg/telemetry"
)

// fatih/color disables colors when the output is not a terminal.
var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

func printSection(w io.Writer, title string) {
	fmt.Fprintln(w)
	_, _ = headerColor.Fprintf(w, "▸ %s\n", title)
}

func printSuccess(w io.Writer, msg string) {
	_, _ = successColor.Fprintf(w, "✓ %s\n", msg)
}

func printWarning(w io.Writer, msg string) {
	_, _ = warningColor.Fprintf(w, "⚠ %s\n", msg)
}

func printError(w io.Writer, msg string) {
	_, _ = errorColor.Fprintf(w, "✗ %s\n", msg)
}

func printLabelValue(w io.Writer, label, value string) {
	_, _ = labelColor.Fprintf(w, "  %s: ", label)
	fmt.Fprintln(w, value)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printPolicyWarnings lists non-blocking violations. Blocking ones are part
// of the returned error.
func printPolicyWarnings(w io.Writer, res *policy.Result) {
	if res == nil {
		return
	}
	for _, v := range res.Warnings {
		printWarning(w, v.String())
	}
}

// itemStrings renders items for output.
func itemStrings(items []engine.Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = engine.ItemString(item)
	}
	return out
}

// progressPrinter renders build events: one JSON object per line with
// --json, short colored lines otherwise.
func progressPrinter(w io.Writer) telemetry.EventSubscriber {
	if jsonOutput {
		enc := json.NewEncoder(w)
		return func(event telemetry.Event) {
			_ = enc.Encode(event)
		}
	}
	return func(event telemetry.Event) {
		switch event.Type {
		case telemetry.EventTypePhaseCompleted:
			_, _ = dimColor.Fprintf(w, "  %s\n", event.Message)
		case telemetry.EventTypeItemBuilt:
			_, _ = dimColor.Fprintf(w, "  %s from %s\n", event.Message, event.Target)
		case telemetry.EventTypeItemFailed:
			printError(w, fmt.Sprintf("%s: %s", event.Target, event.Message))
		case telemetry.EventTypePolicyViolation:
			if event.Level == telemetry.EventLevelError {
				printError(w, fmt.Sprintf("%s: %s", event.Target, event.Message))
			}
		}
	}
}
