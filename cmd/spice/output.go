package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/guptarohit/asciigraph"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/edp1096/spicecore/pkg/analysis"
	"github.com/edp1096/spicecore/pkg/util"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ccff"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#888899")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	okStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#00ff88"))

	warnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffaa00"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ff4444"))
)

// axis returns the independent variable of a result set and its unit.
func axis(results map[string][]float64) (string, string) {
	switch {
	case results["FREQ"] != nil:
		return "FREQ", "Hz"
	case results["SWEEP1"] != nil:
		return "SWEEP1", ""
	case len(results["TIME"]) > 1:
		return "TIME", "s"
	}
	return "", ""
}

// signals lists the dependent variables, voltages before currents.
func signals(results map[string][]float64) []string {
	var volts, amps []string
	for name := range results {
		base := strings.TrimSuffix(strings.TrimSuffix(name, "_MAG"), "_PHASE")
		switch {
		case strings.HasPrefix(base, "V("):
			volts = append(volts, name)
		case strings.HasPrefix(base, "I("):
			amps = append(amps, name)
		}
	}
	sort.Strings(volts)
	sort.Strings(amps)
	return append(volts, amps...)
}

func formatCell(name string, v float64) string {
	switch {
	case strings.HasSuffix(name, "_MAG"):
		return util.FormatMagnitude(v)
	case strings.HasSuffix(name, "_PHASE"):
		return util.FormatPhase(v)
	}
	return util.FormatValueFactor(v, util.UnitOf(name))
}

func printResults(w io.Writer, results map[string][]float64) {
	names := signals(results)
	if len(names) == 0 {
		return
	}
	x, unit := axis(results)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#444466"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	// Operating point: one row per signal
	if x == "" {
		t.Headers("signal", "value")
		for _, name := range names {
			t.Row(name, formatCell(name, results[name][0]))
		}
		fmt.Fprintln(w, t.Render())
		return
	}

	headers := []string{x}
	if results["SWEEP2"] != nil {
		headers = append(headers, "SWEEP2")
	}
	headers = append(headers, names...)
	t.Headers(headers...)
	for i, xv := range results[x] {
		row := []string{util.FormatValueFactor(xv, unit)}
		if x == "FREQ" {
			row[0] = util.FormatFrequency(xv)
		}
		if sw := results["SWEEP2"]; sw != nil {
			row = append(row, util.FormatValueFactor(sw[i], ""))
		}
		for _, name := range names {
			row = append(row, formatCell(name, results[name][i]))
		}
		t.Row(row...)
	}
	fmt.Fprintln(w, t.Render())
}

// plotted lists the signals worth drawing against the x axis.
func plotted(results map[string][]float64) []string {
	var out []string
	for _, name := range signals(results) {
		if strings.HasSuffix(name, "_PHASE") {
			continue
		}
		out = append(out, name)
	}
	return out
}

func printASCII(w io.Writer, results map[string][]float64) {
	x, _ := axis(results)
	if x == "" {
		return
	}
	for _, name := range plotted(results) {
		graph := asciigraph.Plot(results[name],
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("%s vs %s", name, strings.ToLower(x))),
		)
		fmt.Fprintln(w, graph)
		fmt.Fprintln(w)
	}
}

// savePlot writes every plotted signal against the x axis. The format follows
// the file extension.
func savePlot(path, title string, results map[string][]float64) error {
	x, unit := axis(results)
	if x == "" {
		return fmt.Errorf("nothing to plot for an operating point")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = strings.ToLower(x)
	if unit != "" {
		p.X.Label.Text += " (" + unit + ")"
	}
	if x == "FREQ" {
		p.X.Scale = plot.LogScale{}
		p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	}

	xs := results[x]
	var lines []any
	for _, name := range plotted(results) {
		ys := results[name]
		pts := make(plotter.XYs, len(xs))
		for i := range xs {
			pts[i].X, pts[i].Y = xs[i], ys[i]
		}
		lines = append(lines, name, pts)
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("saving %s: %w", filepath.Base(path), err)
	}
	return nil
}

func printMetrics(w io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("metric", "labels", "value")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			t.Row(mf.GetName(), strings.Join(labels, ","), metricValue(mf.GetType(), m))
		}
	}
	fmt.Fprintln(w, t.Render())
	return nil
}

func metricValue(typ dto.MetricType, m *dto.Metric) string {
	switch typ {
	case dto.MetricType_COUNTER:
		return fmt.Sprintf("%g", m.GetCounter().GetValue())
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		return fmt.Sprintf("n=%d sum=%.3gs", h.GetSampleCount(), h.GetSampleSum())
	case dto.MetricType_GAUGE:
		return fmt.Sprintf("%g", m.GetGauge().GetValue())
	}
	return ""
}

func statusLine(sim *analysis.Simulation) string {
	st := sim.Stats
	line := fmt.Sprintf("%s: %s (newton %d, gmin steps %d, source steps %d, accepted %d, rejected %d, run %s)",
		sim.Phase(), sim.Message(), st.NewtonIterations, st.GminSteps, st.SrcSteps, st.Accepted, st.Rejected, sim.ID)
	switch sim.Phase() {
	case analysis.PhaseDone:
		return okStyle.Render(line)
	case analysis.PhaseFailed:
		return errorStyle.Render(line)
	}
	return warnStyle.Render(line)
}
