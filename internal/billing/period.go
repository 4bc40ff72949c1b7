package billing

import (
	"time"

	"github.com/ammrshmbng/pro-learn/internal/types"
)

// defaultPeriodLength is the window substituted when a subscription payload
// omits its period bounds.
const defaultPeriodLength = 30 * 24 * time.Hour

// PeriodDefaulter is the named defaulting strategy for absent period bounds.
// It is injected at the call site (rather than inlined as a fallback) so
// tests can assert the exact default window used.
type PeriodDefaulter struct {
	Clock types.Clock
}

// NewPeriodDefaulter creates a PeriodDefaulter; a nil clock falls back to
// real UTC time.
func NewPeriodDefaulter(clock types.Clock) PeriodDefaulter {
	if clock == nil {
		clock = types.RealClock{}
	}
	return PeriodDefaulter{Clock: clock}
}

// Bounds converts the provider's epoch-second period bounds to time.Time,
// substituting defaults for absent values: the current time for the start
// and current time plus 30 days for the end. This is a documented fallback,
// not a guess at provider intent.
func (d PeriodDefaulter) Bounds(startUnix, endUnix int64) (start, end time.Time) {
	now := d.Clock.Now()

	if startUnix > 0 {
		start = time.Unix(startUnix, 0).UTC()
	} else {
		start = now
	}

	if endUnix > 0 {
		end = time.Unix(endUnix, 0).UTC()
	} else {
		end = now.Add(defaultPeriodLength)
	}

	return start, end
}
