package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/osbuild/disk-stager/internal/catalog"
	"github.com/osbuild/disk-stager/internal/disk"
	"github.com/osbuild/disk-stager/internal/layout"
	"github.com/osbuild/disk-stager/internal/staging"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99"))

	deviceStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	freeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	stagedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	legendStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)
)

// column widths of the layout table
var columns = []struct {
	title string
	width int
}{
	{"DEVICE", 22},
	{"TYPE", 10},
	{"MOUNT POINT", 16},
	{"LABEL", 12},
	{"FORMAT", 7},
	{"SIZE", 9},
	{"USED", 9},
	{"FLAGS", 12},
	{"CREATE", 18},
}

func cell(idx int, value string) string {
	width := columns[idx].width
	if len(value) >= width {
		value = value[:width-1]
	}
	return fmt.Sprintf("%-*s", width, value)
}

func rowCells(row *layout.Row, depth int) []string {
	path := row.Path
	if path == "" {
		path = "new"
	}
	format := ""
	if row.Format {
		format = "yes"
	}
	cells := []string{
		strings.Repeat("  ", depth) + path,
		row.FSType,
		row.Mountpoint,
		row.Label,
		format,
		row.Size,
		row.Used,
		row.Flags.String(),
	}
	if row.IsDevice {
		cells[1] = row.Table.String()
		cells[3] = row.Model
	}
	if row.Kind.IsFree() && !row.IsDevice {
		cells = append(cells, offers(row.Offers))
	}
	return cells
}

// offers lists the partition kinds a free region takes, "-" for none.
func offers(kinds []disk.PartitionKind) string {
	if len(kinds) == 0 {
		return "-"
	}
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, kind.String())
	}
	return strings.Join(names, ",")
}

// renderLayout writes the tree in display order, one line per row.
func renderLayout(w io.Writer, tree *layout.Tree) error {
	var b strings.Builder

	var header []string
	for idx, c := range columns {
		header = append(header, cell(idx, c.title))
	}
	b.WriteString(headerStyle.Render(strings.Join(header, "")))
	b.WriteString("\n")

	tree.Walk(func(row *layout.Row, depth int) bool {
		var line []string
		for idx, value := range rowCells(row, depth) {
			line = append(line, cell(idx, value))
		}
		rendered := strings.TrimRight(strings.Join(line, ""), " ")
		switch {
		case row.IsDevice:
			rendered = deviceStyle.Render(rendered)
		case row.Kind.IsFree():
			rendered = freeStyle.Render(rendered)
		case row.Staged:
			rendered = stagedStyle.Render(rendered)
		}
		b.WriteString(rendered)
		b.WriteString("\n")
		return true
	})

	_, err := io.WriteString(w, b.String())
	return err
}

// renderOperations writes the staged structural changes.
func renderOperations(w io.Writer, ops []staging.Operation) error {
	if len(ops) == 0 {
		_, err := fmt.Fprintln(w, legendStyle.Render("no staged partition table changes"))
		return err
	}
	for idx, op := range ops {
		if _, err := fmt.Fprintf(w, "%d. %s\n", idx+1, op); err != nil {
			return err
		}
	}
	return nil
}

func renderBootCandidates(w io.Writer, candidates []catalog.BootCandidate) error {
	for _, c := range candidates {
		if _, err := fmt.Fprintln(w, c); err != nil {
			return err
		}
	}
	return nil
}
