package exposure

import "errors"

// ErrEmptyTable indicates the firmware has not been queried yet, or the
// parameter payload contained no usable exposure options.
var ErrEmptyTable = errors.New("exposure table is empty")

// Option is one supported exposure duration.
type Option struct {
	// Index is the firmware's option index.
	Index int

	// Seconds is the duration this index selects.
	Seconds float64
}

// GainOption is one supported gain value.
type GainOption struct {
	Index int
	Value float64
}

// Table is a read-only snapshot of the firmware's supported exposure
// and gain options. Exposures are ordered by ascending duration.
type Table struct {
	Exposures []Option
	Gains     []GainOption
}

// Resolve picks the exposure and gain indices for a request.
//
// Duration policy: the entry whose duration is closest without
// exceeding the request, ties broken toward the larger duration; if
// every entry exceeds the request, the smallest available duration.
// Gain follows the same rule, evaluated independently. A request never
// fails for lack of an exact match; the only failure is an empty table.
//
// When the table carries no gain options, gainIndex is -1 and the
// caller leaves gain untouched.
func (t *Table) Resolve(seconds, gain float64) (expIndex, gainIndex int, err error) {
	if t == nil || len(t.Exposures) == 0 {
		return 0, 0, ErrEmptyTable
	}

	expIndex = resolveNotAbove(t.Exposures, seconds)

	gainIndex = -1
	if len(t.Gains) > 0 {
		gainIndex = resolveGain(t.Gains, gain)
	}

	return expIndex, gainIndex, nil
}

// Durations returns the supported durations in ascending order.
func (t *Table) Durations() []float64 {
	out := make([]float64, len(t.Exposures))
	for i, opt := range t.Exposures {
		out[i] = opt.Seconds
	}
	return out
}

func resolveNotAbove(options []Option, target float64) int {
	best := -1
	for i, opt := range options {
		if opt.Seconds > target {
			continue
		}
		// >= keeps the later entry on equal durations.
		if best == -1 || opt.Seconds >= options[best].Seconds {
			best = i
		}
	}
	if best >= 0 {
		return options[best].Index
	}

	// Every entry exceeds the request: smallest available.
	smallest := 0
	for i, opt := range options {
		if opt.Seconds < options[smallest].Seconds {
			smallest = i
		}
	}
	return options[smallest].Index
}

func resolveGain(options []GainOption, target float64) int {
	best := -1
	for i, opt := range options {
		if opt.Value > target {
			continue
		}
		if best == -1 || opt.Value >= options[best].Value {
			best = i
		}
	}
	if best >= 0 {
		return options[best].Index
	}

	smallest := 0
	for i, opt := range options {
		if opt.Value < options[smallest].Value {
			smallest = i
		}
	}
	return options[smallest].Index
}
