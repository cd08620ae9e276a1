package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// ═══════════════════════════════════════════════════════════
// Output helpers shared by every command
// ═══════════════════════════════════════════════════════════

const rule = "───────────────────────────────────────────────────────────"

// PrintHeader prints a titled block with key/value lines.
func PrintHeader(title string, kv ...string) {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Printf("  %s\n", title)
	fmt.Println(rule)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Printf("  %-12s: %s\n", kv[i], kv[i+1])
	}
	if len(kv) > 0 {
		fmt.Println(rule)
	}
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("✅ %s\n", message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Printf("❌ %s\n", message)
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Printf("⚠️  %s\n", message)
}

// PrintList prints a bulleted list
func PrintList(items []string) {
	for _, item := range items {
		fmt.Printf("   • %s\n", item)
	}
}

// PrintTableHeader prints column titles followed by a rule of the same width.
func PrintTableHeader(columns []string, widths []int) {
	PrintTableRow(columns, widths)
	total := 0
	for i, w := range widths {
		total += w
		if i < len(widths)-1 {
			total += 2
		}
	}
	fmt.Println(strings.Repeat("─", total))
}

// PrintTableRow prints a table row
func PrintTableRow(values []string, widths []int) {
	for i, val := range values {
		fmt.Printf("%-*s", widths[i], val)
		if i < len(values)-1 {
			fmt.Print("  ")
		}
	}
	fmt.Println()
}

// printJSON writes v indented to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// emit prints v as JSON under --json, otherwise calls the human renderer.
func emit(v interface{}, human func()) error {
	if jsonOutput {
		return printJSON(v)
	}
	human()
	return nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
