package decay

import (
	"errors"
	"fmt"
)

// nano is the fixed-point resolution used for attribute values and rates.
// Integer arithmetic keeps results identical on every platform.
const nano int64 = 1_000_000_000

// Attributes is a snapshot of the three decaying values.
type Attributes struct {
	Chronosis   int `json:"chronosis"`
	Echo        int `json:"echo"`
	Convergence int `json:"convergence"`
}

type Regime uint8

const (
	RegimeLinear Regime = iota + 1
	RegimeAccelerating
)

func (r Regime) String() string {
	switch r {
	case RegimeLinear:
		return "LINEAR"
	case RegimeAccelerating:
		return "ACCELERATING"
	default:
		return fmt.Sprintf("Regime(%d)", uint8(r))
	}
}

// Params configures the decay law. Band and modulation factors are permille.
type Params struct {
	Max                 int   `json:"max" yaml:"max"`
	LinearBaseRate      int   `json:"linear_base_rate" yaml:"linear_base_rate"`
	ExponentialBaseRate int   `json:"exponential_base_rate" yaml:"exponential_base_rate"`
	LowerBandPermille   int   `json:"lower_band_permille" yaml:"lower_band_permille"`
	UpperBandPermille   int   `json:"upper_band_permille" yaml:"upper_band_permille"`
	AboveBandPermille   int   `json:"above_band_permille" yaml:"above_band_permille"`
	BelowBandPermille   int   `json:"below_band_permille" yaml:"below_band_permille"`
	FollowerPermille    int   `json:"follower_permille" yaml:"follower_permille"`
	MinuteSeconds       int64 `json:"minute_seconds" yaml:"minute_seconds"`
}

func DefaultParams() Params {
	return Params{
		Max:                 500,
		LinearBaseRate:      20,
		ExponentialBaseRate: 20,
		LowerBandPermille:   400,
		UpperBandPermille:   600,
		AboveBandPermille:   800,
		BelowBandPermille:   1200,
		FollowerPermille:    700,
		MinuteSeconds:       60,
	}
}

const (
	maxValue    = 1_000_000
	maxRate     = 1_000_000
	maxPermille = 10_000
)

func (p Params) Validate() error {
	switch {
	case p.Max <= 0 || p.Max > maxValue:
		return fmt.Errorf("decay: max out of range: %d", p.Max)
	case p.LinearBaseRate <= 0 || p.LinearBaseRate > maxRate:
		return fmt.Errorf("decay: linear base rate out of range: %d", p.LinearBaseRate)
	case p.ExponentialBaseRate <= 0 || p.ExponentialBaseRate > maxRate:
		return fmt.Errorf("decay: exponential base rate out of range: %d", p.ExponentialBaseRate)
	case p.LowerBandPermille <= 0 || p.UpperBandPermille > 1000 || p.LowerBandPermille > p.UpperBandPermille:
		return fmt.Errorf("decay: bad neutral band [%d,%d] permille", p.LowerBandPermille, p.UpperBandPermille)
	case p.MinuteSeconds <= 0:
		return errors.New("decay: minute_seconds must be positive")
	}
	for name, v := range map[string]int{
		"above_band_permille": p.AboveBandPermille,
		"below_band_permille": p.BelowBandPermille,
		"follower_permille":   p.FollowerPermille,
	} {
		if v <= 0 || v > maxPermille {
			return fmt.Errorf("decay: %s out of range: %d", name, v)
		}
	}
	return nil
}

// Full is the attribute set of a freshly rendered avatar.
func (p Params) Full() Attributes {
	return Attributes{Chronosis: p.Max, Echo: p.Max, Convergence: p.Max}
}

// ElapsedMinutes counts whole minutes between two unix timestamps.
func ElapsedMinutes(p Params, lastUpdate, now int64) int64 {
	if now <= lastUpdate {
		return 0
	}
	ms := p.MinuteSeconds
	if ms <= 0 {
		ms = 60
	}
	return (now - lastUpdate) / ms
}

// Compute returns the live attribute values of snap, recorded at lastUpdate,
// as seen at now. It is a pure function of its arguments.
func Compute(p Params, snap Attributes, lastUpdate, now int64) Attributes {
	out, _ := simulate(p, snap, ElapsedMinutes(p, lastUpdate, now), false)
	return out
}

// Segment is one constant-rate stretch of a simulation.
type Segment struct {
	Minutes      int64      `json:"minutes"`
	Regime       Regime     `json:"regime"`
	RateNano     int64      `json:"rate_nano"`
	FollowerNano int64      `json:"follower_rate_nano"`
	Start        Attributes `json:"start"`
	End          Attributes `json:"end"`
}

// Trace runs the simulation for the given number of minutes and returns every segment.
func Trace(p Params, snap Attributes, minutes int64) []Segment {
	_, segs := simulate(p, snap, minutes, true)
	return segs
}

func simulate(p Params, snap Attributes, minutes int64, trace bool) (Attributes, []Segment) {
	cur := p.clamp(snap)
	if minutes <= 0 {
		return cur, nil
	}
	lower, upper := p.bound(p.LowerBandPermille), p.bound(p.UpperBandPermille)

	var segs []Segment
	for minutes > 0 {
		c, e, v := toNano(cur.Chronosis), toNano(cur.Echo), toNano(cur.Convergence)

		regime, base := RegimeLinear, p.LinearBaseRate
		if c < lower {
			regime, base = RegimeAccelerating, p.ExponentialBaseRate
		}
		me, mv := p.modulation(e, lower, upper), p.modulation(v, lower, upper)
		rate := int64(base) * me * mv * (nano / 1_000_000)
		follower := int64(base) * me * mv * int64(p.FollowerPermille) * (nano / 1_000_000_000)

		span := minutes
		span = earliest(span, crossing(e, follower, lower, upper))
		span = earliest(span, crossing(v, follower, lower, upper))
		if regime == RegimeLinear {
			span = earliest(span, firstBelow(c, rate, lower))
		}

		var nc int64
		if regime == RegimeLinear {
			nc = linear(c, rate, span)
		} else {
			nc = accelerating(c, rate, span)
		}
		next := Attributes{
			Chronosis:   p.floor(nc),
			Echo:        p.floor(linear(e, follower, span)),
			Convergence: p.floor(linear(v, follower, span)),
		}
		if trace {
			segs = append(segs, Segment{
				Minutes:      span,
				Regime:       regime,
				RateNano:     rate,
				FollowerNano: follower,
				Start:        cur,
				End:          next,
			})
		}
		cur = next
		minutes -= span
	}
	return cur, segs
}

func (p Params) bound(permille int) int64 {
	return int64(p.Max) * int64(permille) * (nano / 1000)
}

func (p Params) modulation(x, lower, upper int64) int64 {
	switch {
	case x > upper:
		return int64(p.AboveBandPermille)
	case x < lower:
		return int64(p.BelowBandPermille)
	default:
		return 1000
	}
}

func (p Params) clamp(a Attributes) Attributes {
	c := func(v int) int {
		if v < 0 {
			return 0
		}
		if v > p.Max {
			return p.Max
		}
		return v
	}
	return Attributes{Chronosis: c(a.Chronosis), Echo: c(a.Echo), Convergence: c(a.Convergence)}
}

func (p Params) floor(n int64) int {
	if n <= 0 {
		return 0
	}
	v := n / nano
	if v > int64(p.Max) {
		return p.Max
	}
	return int(v)
}

func toNano(v int) int64 { return int64(v) * nano }

// crossing reports the first whole minute at which x leaves its current band,
// or 0 if it never does.
func crossing(x, rate, lower, upper int64) int64 {
	if rate <= 0 {
		return 0
	}
	if x > upper {
		return (x - upper + rate - 1) / rate
	}
	return firstBelow(x, rate, lower)
}

// firstBelow reports the first whole minute at which x drops under lower.
func firstBelow(x, rate, lower int64) int64 {
	if rate <= 0 || x < lower {
		return 0
	}
	return (x-lower)/rate + 1
}

func earliest(span, candidate int64) int64 {
	if candidate > 0 && candidate < span {
		return candidate
	}
	return span
}

func linear(x, rate, t int64) int64 {
	if x <= 0 {
		return 0
	}
	if rate <= 0 || t <= 0 {
		return x
	}
	if t > x/rate {
		return 0
	}
	return x - rate*t
}

func accelerating(x, rate, t int64) int64 {
	if x <= 0 {
		return 0
	}
	if rate <= 0 || t <= 0 {
		return x
	}
	q := x / rate
	if t > q || t > q/t {
		return 0
	}
	return x - rate*t*t
}
