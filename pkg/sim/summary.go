package sim

import (
	"fmt"
	"io"
	"math"
	"sort"
	"text/tabwriter"

	"github.com/gonum/floats"
	"github.com/gonum/stat"

	"klipper-filament-width/pkg/filament"
)

// Stats describes one series of a run.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

func newStats(xs []float64) Stats {
	s := Stats{Count: len(xs)}
	if len(xs) == 0 {
		return s
	}
	s.Mean = stat.Mean(xs, nil)
	if len(xs) > 1 {
		s.StdDev = stat.StdDev(xs, nil)
	}
	s.Min = floats.Min(xs)
	s.Max = floats.Max(xs)
	return s
}

// Summary aggregates a trace.
type Summary struct {
	Points   int     `json:"points"`
	Extruded float64 `json:"extruded_mm"`

	// Measured covers readings taken with filament present.
	Measured Stats `json:"measured_mm"`
	Percent  Stats `json:"percent"`

	// FlowError is the relative volume error at the nozzle with the
	// applied multiplier, RawFlowError the error without compensation.
	FlowError    Stats `json:"flow_error"`
	RawFlowError Stats `json:"raw_flow_error"`

	Compensations map[string]int `json:"compensations"`
	// Resets counts multiplier resets caused by absence, reset or disable.
	Resets int `json:"resets"`
}

// Summarize computes the statistics of a trace. reasons holds the number
// of controller outputs by reason.
func Summarize(trace []TracePoint, reasons map[string]int, nominal float64) Summary {
	var measured, percent, flowErr, rawErr []float64
	for _, p := range trace {
		percent = append(percent, float64(p.Percent))
		if p.Measured > filament.PresenceThreshold {
			measured = append(measured, p.Measured)
		}
		if p.Nozzle > 0 && nominal > 0 {
			area := math.Pow(p.Nozzle/nominal, 2)
			rawErr = append(rawErr, area-1)
			flowErr = append(flowErr, area*float64(p.Percent)/100-1)
		}
	}

	s := Summary{
		Points:        len(trace),
		Measured:      newStats(measured),
		Percent:       newStats(percent),
		FlowError:     newStats(flowErr),
		RawFlowError:  newStats(rawErr),
		Compensations: make(map[string]int, len(reasons)),
	}
	if len(trace) > 0 {
		s.Extruded = trace[len(trace)-1].Position
	}
	for reason, n := range reasons {
		s.Compensations[reason] = n
		switch filament.Reason(reason) {
		case filament.ReasonAbsent, filament.ReasonReset, filament.ReasonDisabled:
			s.Resets += n
		}
	}
	return s
}

// Write renders the summary as an aligned table.
func (s Summary) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "points\t%d\n", s.Points)
	fmt.Fprintf(tw, "extruded (mm)\t%.2f\n", s.Extruded)
	fmt.Fprintf(tw, "\tmean\tstddev\tmin\tmax\n")
	row := func(name string, st Stats, format string) {
		fmt.Fprintf(tw, "%s\t"+format+"\t"+format+"\t"+format+"\t"+format+"\n",
			name, st.Mean, st.StdDev, st.Min, st.Max)
	}
	row("measured (mm)", s.Measured, "%.3f")
	row("multiplier (%)", s.Percent, "%.1f")
	row("flow error", s.FlowError, "%+.4f")
	row("uncompensated", s.RawFlowError, "%+.4f")

	reasons := make([]string, 0, len(s.Compensations))
	for r := range s.Compensations {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(tw, "outputs %s\t%d\n", r, s.Compensations[r])
	}
	fmt.Fprintf(tw, "resets\t%d\n", s.Resets)
	return tw.Flush()
}
