package scan

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// reportRow is the YAML-friendly shape of one Result.
type reportRow struct {
	Table    string   `yaml:"table"`
	Column   string   `yaml:"column"`
	Findings []string `yaml:"findings"`
}

func toReportRows(results []Result) []reportRow {
	rows := make([]reportRow, len(results))
	for i, r := range results {
		findings := make([]string, len(r.Findings))
		for j, f := range r.Findings {
			findings[j] = fmt.Sprintf("%s (%s)", f.Variant, f.Tag)
		}
		rows[i] = reportRow{Table: r.Table, Column: r.Column, Findings: findings}
	}
	return rows
}

// WriteYAML renders results as a YAML document, an alternative to the
// default tabular report for callers that want to pipe the scan output
// into other tooling.
func WriteYAML(w io.Writer, results []Result) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(toReportRows(results))
}

// WriteTable renders results as a column-aligned table: Table, Column,
// ID Type(s) found, matching the default report shape from §4.J step 5.
func WriteTable(w io.Writer, results []Result) error {
	header := []string{"Table", "Column", "ID Type(s) found"}
	rows := [][]string{header}
	for _, r := range results {
		findings := make([]string, len(r.Findings))
		for i, f := range r.Findings {
			findings[i] = fmt.Sprintf("%s (%s)", f.Variant, f.Tag)
		}
		rows = append(rows, []string{r.Table, r.Column, strings.Join(findings, ", ")})
	}

	widths := make([]int, len(header))
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for _, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			b.WriteString(cell)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-len(cell)+1))
			}
		}
		if _, err := fmt.Fprintln(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}
