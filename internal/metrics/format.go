package metrics

import (
	"fmt"
	"math"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Table renders the metrics as a two-column table for the terminal.
func (m Metrics) Table() string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Metric", "Value"})
	for _, f := range m.Report() {
		t.AppendRow(table.Row{f.Key, FormatValue(f.Key, f.Value)})
	}
	return t.Render()
}

// FormatValue formats a report value by key: fractions as percentages,
// counts as grouped integers and ratios with two decimals.
func FormatValue(key string, v float64) string {
	switch key {
	case "ann_return", "ann_vol", "max_drawdown":
		return FormatPct(v)
	case "num_days":
		return FormatInt(int(v))
	default:
		return FormatRatio(v)
	}
}

// FormatPct formats a fraction as a signed percentage, e.g. "+12.3%".
// Drops the decimal for magnitudes >= 100% to keep width compact.
func FormatPct(f float64) string {
	pct := f * 100
	if math.Abs(pct) >= 100 {
		return fmt.Sprintf("%+.0f%%", pct)
	}
	return fmt.Sprintf("%+.1f%%", pct)
}

// FormatRatio formats a ratio with two decimals, or "-" if not finite.
func FormatRatio(r float64) string {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return "-"
	}
	return fmt.Sprintf("%.2f", r)
}

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
