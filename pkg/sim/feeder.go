package sim

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"klipper-filament-width/pkg/filament"
	"klipper-filament-width/pkg/log"
	"klipper-filament-width/pkg/reactor"
)

// Target is a running host accepting simulated hardware input.
type Target interface {
	SubmitExtrude(delta float64) error
	SubmitReading(readTime float64, read func(position float64) float64) error
}

// Feeder plays a scenario in real time, posting extrusion moves and ADC
// reports into a running host.
type Feeder struct {
	target   Target
	scenario *Scenario

	// Interval between extrusion moves.
	Interval time.Duration
	// ReportTime is the ADC report period.
	ReportTime time.Duration

	logger *log.Logger
}

// NewFeeder creates a feeder with the sensor's ADC report period.
func NewFeeder(target Target, sc *Scenario) *Feeder {
	return &Feeder{
		target:     target,
		scenario:   sc,
		Interval:   time.Duration(MoveInterval * float64(time.Second)),
		ReportTime: time.Duration(filament.ADCReportTime * float64(time.Second)),
		logger:     log.GetLogger("feeder"),
	}
}

// Run feeds until the scenario duration elapses, ctx is done or the host
// stops accepting input. Only the last case is an error.
func (f *Feeder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()

	start := time.Now()
	last := start
	nextReport := time.Duration(0)
	read := func(position float64) float64 {
		return RawFromDiameter(f.scenario.DiameterAt(position))
	}

	for {
		now := time.Now()
		elapsed := now.Sub(start)
		if elapsed.Seconds() > f.scenario.DurationS {
			f.logger.Info("scenario finished")
			return nil
		}

		if !f.scenario.Paused(elapsed.Seconds()) {
			delta := f.scenario.SpeedMMS * now.Sub(last).Seconds()
			if err := f.submit(f.target.SubmitExtrude(delta)); err != nil {
				return err
			}
		}
		last = now

		if elapsed >= nextReport {
			if err := f.submit(f.target.SubmitReading(elapsed.Seconds(), read)); err != nil {
				return err
			}
			nextReport += f.ReportTime
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (f *Feeder) submit(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, reactor.ErrQueueFull):
		f.logger.Warn("host busy, input dropped")
		return nil
	default:
		return errors.Wrap(err, "feeding host")
	}
}
