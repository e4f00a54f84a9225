package preprocess

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

const levelEpsilon = 1e-9

// RMS returns the root mean square amplitude, zero for an empty signal.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// LevelDB returns 20*log10(rms+eps).
func LevelDB(samples []float64) float64 {
	return 20 * math.Log10(RMS(samples)+levelEpsilon)
}

// IsSilence reports whether the signal level is strictly below thresholdDB.
func IsSilence(samples []float64, thresholdDB float64) bool {
	return LevelDB(samples) < thresholdDB
}

type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// BandPass is a Butterworth band-pass realised as a cascade of second
// order sections. It holds no state between calls to Apply.
type BandPass struct {
	sections []biquad
}

var ErrInvalidFilter = errors.New("invalid filter parameters")

// NewBandPass designs an order-N Butterworth band-pass (2N poles) by the
// bilinear transform with prewarped band edges.
func NewBandPass(order int, lowHz, highHz, sampleRate float64) (*BandPass, error) {
	if order < 1 {
		return nil, fmt.Errorf("%w: order %d", ErrInvalidFilter, order)
	}
	nyquist := sampleRate / 2
	if lowHz <= 0 || highHz <= lowHz || highHz >= nyquist {
		return nil, fmt.Errorf("%w: band %.1f-%.1f Hz at %.0f Hz", ErrInvalidFilter, lowHz, highHz, sampleRate)
	}

	fs2 := 2 * sampleRate
	wl := fs2 * math.Tan(math.Pi*lowHz/sampleRate)
	wh := fs2 * math.Tan(math.Pi*highHz/sampleRate)
	w0 := math.Sqrt(wl * wh)
	bw := wh - wl

	n := float64(order)
	var digital []complex128
	for k := 1; k <= order; k++ {
		theta := math.Pi * (2*float64(k) + n - 1) / (2 * n)
		p := cmplx.Exp(complex(0, theta))

		pb := p * complex(bw, 0)
		disc := cmplx.Sqrt(pb*pb - complex(4*w0*w0, 0))
		for _, s := range []complex128{(pb + disc) / 2, (pb - disc) / 2} {
			z := (complex(fs2, 0) + s) / (complex(fs2, 0) - s)
			if imag(z) > 0 {
				digital = append(digital, z)
			}
		}
	}
	if len(digital) != order {
		return nil, fmt.Errorf("%w: expected %d pole pairs, got %d", ErrInvalidFilter, order, len(digital))
	}

	// Unity gain at the digital image of the analog centre frequency.
	centre := 2 * math.Atan(w0/fs2)
	zc := cmplx.Exp(complex(0, centre))

	sections := make([]biquad, 0, order)
	for _, p := range digital {
		sec := biquad{
			b0: 1,
			b1: 0,
			b2: -1,
			a1: -2 * real(p),
			a2: real(p)*real(p) + imag(p)*imag(p),
		}
		gain := cmplx.Abs(sec.response(zc))
		sec.b0 /= gain
		sec.b2 /= gain
		sections = append(sections, sec)
	}

	return &BandPass{sections: sections}, nil
}

func (s biquad) response(z complex128) complex128 {
	zi := 1 / z
	num := complex(s.b0, 0) + complex(s.b1, 0)*zi + complex(s.b2, 0)*zi*zi
	den := 1 + complex(s.a1, 0)*zi + complex(s.a2, 0)*zi*zi
	return num / den
}

// Apply filters samples from zero initial state and returns a new slice.
func (f *BandPass) Apply(samples []float64) []float64 {
	out := make([]float64, len(samples))
	copy(out, samples)
	for _, s := range f.sections {
		var z1, z2 float64
		for i, x := range out {
			y := s.b0*x + z1
			z1 = s.b1*x - s.a1*y + z2
			z2 = s.b2*x - s.a2*y
			out[i] = y
		}
	}
	return out
}
