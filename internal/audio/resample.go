package audio

import "math"

// Resampler converts a continuous mono stream between two rates chunk by
// chunk. The read position and the last input sample carry over between
// calls, so consecutive 20ms frames join without a discontinuity.
// A Resampler is not safe for concurrent use.
type Resampler struct {
	fromRate int
	toRate   int
	step     float64
	pos      float64
	last     int16
}

func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{
		fromRate: fromRate,
		toRate:   toRate,
		step:     float64(fromRate) / float64(toRate),
	}
}

func (r *Resampler) FromRate() int { return r.fromRate }

func (r *Resampler) ToRate() int { return r.toRate }

func (r *Resampler) Process(in []int16) []int16 {
	if r.fromRate == r.toRate || r.fromRate <= 0 || r.toRate <= 0 {
		return in
	}
	if len(in) == 0 {
		return nil
	}

	// pos is relative to in[0]; -1 refers to the last sample of the previous chunk.
	sample := func(i int) float64 {
		if i < 0 {
			return float64(r.last)
		}
		return float64(in[i])
	}

	out := make([]int16, 0, int(float64(len(in))/r.step)+2)
	for {
		i := int(math.Floor(r.pos))
		if i+1 >= len(in) {
			break
		}
		frac := r.pos - float64(i)
		a, b := sample(i), sample(i+1)
		out = append(out, int16(math.Round(a+(b-a)*frac)))
		r.pos += r.step
	}

	r.pos -= float64(len(in))
	r.last = in[len(in)-1]
	return out
}

func (r *Resampler) Reset() {
	r.pos = 0
	r.last = 0
}
