package control

import (
	"math"
	"sync"
	"time"
)

const (
	// baselineCadence is a comfortable walking cadence mapped to 1x playback.
	baselineCadence = 120.0

	minPlaybackRate = 0.5
	maxPlaybackRate = 2.0

	// minStepGap rejects double-counted peaks; nobody steps faster than 4 Hz.
	minStepGap = 250 * time.Millisecond
)

type motionSample struct {
	at  time.Time
	mag float64
}

// CadenceEstimator derives a steps-per-minute figure from device-motion
// acceleration magnitudes. Samples outside the sliding window are discarded.
type CadenceEstimator struct {
	mu      sync.Mutex
	window  time.Duration
	samples []motionSample
}

func NewCadenceEstimator(window time.Duration) *CadenceEstimator {
	if window <= 0 {
		window = 10 * time.Second
	}
	return &CadenceEstimator{window: window}
}

// Add records one acceleration magnitude reading.
func (e *CadenceEstimator) Add(at time.Time, magnitude float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = append(e.samples, motionSample{at: at, mag: magnitude})
	e.prune(at)
}

func (e *CadenceEstimator) prune(now time.Time) {
	cutoff := now.Add(-e.window)
	i := 0
	for i < len(e.samples) && e.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		e.samples = append(e.samples[:0], e.samples[i:]...)
	}
}

// StepsPerMinute counts magnitude peaks above an adaptive threshold within
// the window. Fewer than three samples, or a flat signal, reads as zero.
func (e *CadenceEstimator) StepsPerMinute(now time.Time) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prune(now)
	n := len(e.samples)
	if n < 3 {
		return 0
	}

	var sum, sumSq float64
	for _, s := range e.samples {
		sum += s.mag
		sumSq += s.mag * s.mag
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	stddev := math.Sqrt(variance)
	if stddev < 1e-9 {
		return 0
	}
	threshold := mean + 0.5*stddev

	steps := 0
	var lastStep time.Time
	for i := 1; i < n-1; i++ {
		s := e.samples[i]
		if s.mag <= threshold {
			continue
		}
		if s.mag < e.samples[i-1].mag || s.mag < e.samples[i+1].mag {
			continue
		}
		if !lastStep.IsZero() && s.at.Sub(lastStep) < minStepGap {
			continue
		}
		steps++
		lastStep = s.at
	}
	if steps == 0 {
		return 0
	}

	elapsed := e.samples[n-1].at.Sub(e.samples[0].at)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	return float64(steps) / elapsed.Seconds() * 60
}

// RateForCadence maps a cadence onto a playback rate: baseline cadence plays
// at 1x, faster walking speeds up, slower slows down, clamped to the
// player's supported range. No cadence signal means normal speed.
func RateForCadence(spm float64) float64 {
	if spm <= 0 {
		return 1.0
	}
	rate := spm / baselineCadence
	if rate < minPlaybackRate {
		rate = minPlaybackRate
	}
	if rate > maxPlaybackRate {
		rate = maxPlaybackRate
	}
	return rate
}
