package timing

import (
	"fmt"
	"math"

	"github.com/mfxhutch/pumpprobe/internal/config"
)

// Bucket names.
const (
	Simultaneous = "simultaneous"
	OnePrior     = "one-prior"
	TwoPrior     = "two-prior"
)

// Bucket is a window of delays served by one inhibit event code.
// IPulse is the number of whole repetition periods the inhibit trigger
// fires ahead of the zero-delay reference.
type Bucket struct {
	Name      string
	EventCode int
	IPulse    int
	MaxNs     float64 // inclusive upper bound of the window
}

// Setting is what gets written to one trigger.
type Setting struct {
	EventCode   int
	FineDelayNs float64
}

// Settings is the quantised trigger configuration for one requested delay.
type Settings struct {
	DelayNs   float64
	Bucket    Bucket
	Inhibit   Setting
	Pacemaker Setting
}

// OutOfRangeError is returned for delays outside [0, max].
type OutOfRangeError struct {
	DelayNs float64
	MaxNs   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("invalid delay %g ns, must be between 0 and %g ns", e.DelayNs, e.MaxNs)
}

// Quantizer maps requested pump-probe delays onto the facility's event
// codes and trigger fine delays. It holds calibration only and is safe for
// concurrent use.
type Quantizer struct {
	opoTimeZero      float64
	baseInhibitDelay float64
	periodNs         float64
	pacemakerCode    int
	readoutCode      int
	buckets          [3]Bucket
}

// NewQuantizer creates a quantizer from the timing calibration.
func NewQuantizer(cfg *config.Config) *Quantizer {
	t := cfg.Timing
	return &Quantizer{
		opoTimeZero:      t.OpoTimeZeroNs,
		baseInhibitDelay: t.BaseInhibitDelayNs,
		periodNs:         cfg.RepPeriodNs(),
		pacemakerCode:    cfg.Pacemaker.EventCode,
		readoutCode:      t.ReadoutCode,
		buckets: [3]Bucket{
			{Name: Simultaneous, EventCode: t.SimultaneousCode, IPulse: 0, MaxNs: t.SimultaneousMaxNs},
			{Name: OnePrior, EventCode: t.OnePriorCode, IPulse: 1, MaxNs: t.OnePriorMaxNs},
			{Name: TwoPrior, EventCode: t.TwoPriorCode, IPulse: 2, MaxNs: t.TwoPriorMaxNs},
		},
	}
}

// Buckets returns the delay windows in increasing order.
func (q *Quantizer) Buckets() []Bucket {
	return q.buckets[:]
}

// MaxDelayNs returns the largest delay that can be realised.
func (q *Quantizer) MaxDelayNs() float64 {
	return q.buckets[len(q.buckets)-1].MaxNs
}

// Classify returns the bucket serving delay. Window upper bounds are
// inclusive, so a delay on a boundary goes to the lower bucket.
func (q *Quantizer) Classify(delayNs float64) (Bucket, error) {
	if math.IsNaN(delayNs) || delayNs < 0 {
		return Bucket{}, &OutOfRangeError{DelayNs: delayNs, MaxNs: q.MaxDelayNs()}
	}
	for _, b := range q.buckets {
		if delayNs <= b.MaxNs {
			return b, nil
		}
	}
	return Bucket{}, &OutOfRangeError{DelayNs: delayNs, MaxNs: q.MaxDelayNs()}
}

// PulseDelay returns ipulse whole repetition periods in nanoseconds.
func (q *Quantizer) PulseDelay(ipulse int) float64 {
	return float64(ipulse) * q.periodNs
}

// InhibitSetting computes the inhibit trigger configuration:
// fine = opo_time_zero - base_inhibit_delay + pulse_delay - delay.
func (q *Quantizer) InhibitSetting(delayNs float64) (Setting, error) {
	b, err := q.Classify(delayNs)
	if err != nil {
		return Setting{}, err
	}
	return q.inhibitFor(b, delayNs), nil
}

// PacemakerSetting computes the pacemaker trigger configuration:
// fine = opo_time_zero + pulse_delay. The event code is the fixed default
// and is not rewritten per delay.
func (q *Quantizer) PacemakerSetting(delayNs float64) (Setting, error) {
	b, err := q.Classify(delayNs)
	if err != nil {
		return Setting{}, err
	}
	return q.pacemakerFor(b), nil
}

// Settings computes both trigger settings for delay.
func (q *Quantizer) Settings(delayNs float64) (Settings, error) {
	b, err := q.Classify(delayNs)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		DelayNs:   delayNs,
		Bucket:    b,
		Inhibit:   q.inhibitFor(b, delayNs),
		Pacemaker: q.pacemakerFor(b),
	}, nil
}

func (q *Quantizer) inhibitFor(b Bucket, delayNs float64) Setting {
	return Setting{
		EventCode:   b.EventCode,
		FineDelayNs: q.opoTimeZero - q.baseInhibitDelay + q.PulseDelay(b.IPulse) - delayNs,
	}
}

func (q *Quantizer) pacemakerFor(b Bucket) Setting {
	return Setting{EventCode: q.pacemakerCode, FineDelayNs: q.ExpectedPacemakerFine(b.IPulse)}
}

// IPulseForCode maps an inhibit event code read back from hardware to its
// pulses-prior count. The DAQ readout code counts as simultaneous.
func (q *Quantizer) IPulseForCode(code int) (int, bool) {
	if code == q.readoutCode {
		return 0, true
	}
	for _, b := range q.buckets {
		if b.EventCode == code {
			return b.IPulse, true
		}
	}
	return 0, false
}

// DelayFromInhibit inverts InhibitSetting for a known ipulse.
func (q *Quantizer) DelayFromInhibit(ipulse int, inhibitFineNs float64) float64 {
	return q.opoTimeZero - q.baseInhibitDelay + q.PulseDelay(ipulse) - inhibitFineNs
}

// ExpectedPacemakerFine returns the pacemaker fine delay Apply writes for ipulse.
func (q *Quantizer) ExpectedPacemakerFine(ipulse int) float64 {
	return q.opoTimeZero + q.PulseDelay(ipulse)
}
