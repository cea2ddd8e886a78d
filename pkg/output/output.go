// Package output renders command results as text, tables or JSON
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/term"

	"github.com/zfogg/sidechain/clientsync/pkg/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatTable OutputFormat = "table"
	FormatText  OutputFormat = "text"
)

// ParseFormat maps a configured name to a format, defaulting to text
func ParseFormat(format string) OutputFormat {
	switch format {
	case "json":
		return FormatJSON
	case "table":
		return FormatTable
	default:
		return FormatText
	}
}

// ValidateOutputFormat checks if format is valid
func ValidateOutputFormat(format string) bool {
	return format == "json" || format == "table" || format == "text"
}

// Printer writes results in one format
type Printer struct {
	Out    io.Writer
	Format OutputFormat
}

// Default returns a printer on stdout in the configured format. Colors are
// disabled when stdout is not a terminal.
func Default() *Printer {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
	return &Printer{Out: color.Output, Format: ParseFormat(config.GetString("output.format"))}
}

// Print outputs data with an optional title
func (p *Printer) Print(title string, data interface{}) error {
	if p.Format == FormatJSON {
		return p.printJSON(data)
	}
	if title != "" {
		fmt.Fprintf(p.Out, "%s:\n", title)
	}
	s, err := FormatAsPrettyJSON(data)
	if err != nil {
		return err
	}
	fmt.Fprintln(p.Out, s)
	return nil
}

// PrintRecord outputs a single record with its keys sorted
func (p *Printer) PrintRecord(title string, record map[string]interface{}) error {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	switch p.Format {
	case FormatJSON:
		return p.printJSON(record)
	case FormatTable:
		rows := make([][]string, 0, len(record))
		for _, k := range keys {
			rows = append(rows, []string{k, fmt.Sprintf("%v", record[k])})
		}
		p.PrintTable([]string{"Field", "Value"}, rows)
		return nil
	default:
		if title != "" {
			fmt.Fprintf(p.Out, "%s:\n", title)
		}
		bold := color.New(color.Bold)
		for _, k := range keys {
			bold.Fprint(p.Out, k+": ")
			fmt.Fprintf(p.Out, "%v\n", record[k])
		}
		return nil
	}
}

// PrintRows outputs rows as a table, or items as JSON in the JSON format
func (p *Printer) PrintRows(headers []string, rows [][]string, items interface{}) error {
	if p.Format == FormatJSON {
		return p.printJSON(items)
	}
	p.PrintTable(headers, rows)
	return nil
}

// PrintTable aligns rows under bold headers
func (p *Printer) PrintTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(p.Out, 0, 0, 2, ' ', 0)
	bold := color.New(color.Bold)
	fmt.Fprintln(w, bold.Sprint(strings.Join(headers, "\t")))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
}

// Success prints a success message
func (p *Printer) Success(msg string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(p.Out, msg+"\n", args...)
}

// Info prints an info message
func (p *Printer) Info(msg string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(p.Out, msg+"\n", args...)
}

// Warning prints a warning message
func (p *Printer) Warning(msg string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(p.Out, "Warning: "+msg+"\n", args...)
}

func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.Out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// PrintError prints an error message to stderr
func PrintError(msg string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(color.Error, "Error: "+msg+"\n", args...)
}

// FormatAsJSON returns data as compact JSON
func FormatAsJSON(data interface{}) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FormatAsPrettyJSON returns data as indented JSON
func FormatAsPrettyJSON(data interface{}) (string, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
