// Package levelmeter implements an advisory loudness meter: a
// 100-sample ring buffer, a dynamic silence threshold, and a silence
// callback. It never influences segmentation or duration, only
// display-rate UI feedback.
package levelmeter

import (
	"math"
	"sync"
	"time"

	"github.com/taverntapes/taverntapes/internal/clock"
)

const (
	ringSize       = 100
	minThreshold   = 0.005
	thresholdRatio = 0.1
	silenceWindow  = 5 * time.Second
)

// Meter samples normalized 0..1 loudness and raises SilenceDetected
// when the instantaneous level stays below a dynamic threshold for
// silenceWindow while active.
type Meter struct {
	clock clock.Clock

	mu          sync.Mutex
	ring        [ringSize]float64
	count       int
	cursor      int
	current     float64
	active      bool
	belowSince  time.Time
	belowActive bool
	onSilence   func()
}

func New(clk clock.Clock) *Meter {
	return &Meter{clock: clk}
}

// OnSilence registers the callback invoked when the level has stayed
// below threshold for 5s, and again after each further 5s the silence
// continues.
func (m *Meter) OnSilence(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSilence = fn
}

// SetActive toggles whether Sample should evaluate the silence window;
// the engine calls this on pause/resume and on leaving Recording, to
// clear any in-progress silence episode.
func (m *Meter) SetActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = active
	if !active {
		m.belowActive = false
	}
}

// Sample records one instantaneous loudness reading in [0,1].
func (m *Meter) Sample(level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ring[m.cursor] = level
	m.cursor = (m.cursor + 1) % ringSize
	if m.count < ringSize {
		m.count++
	}
	m.current = level

	if !m.active {
		return
	}

	threshold := m.thresholdLocked()
	now := m.clock.Now()

	if level < threshold {
		if !m.belowActive {
			m.belowActive = true
			m.belowSince = now
		} else if now.Sub(m.belowSince) >= silenceWindow {
			if m.onSilence != nil {
				m.onSilence()
			}
			// Re-arm so a continuous silence doesn't refire every Sample.
			m.belowSince = now
		}
	} else {
		m.belowActive = false
	}
}

func (m *Meter) thresholdLocked() float64 {
	if m.count == 0 {
		return minThreshold
	}
	var sum float64
	for i := 0; i < m.count; i++ {
		sum += m.ring[i]
	}
	avg := sum / float64(m.count)
	return math.Max(minThreshold, thresholdRatio*avg)
}

// Level returns the most recent sample.
func (m *Meter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// ComputeLevel derives a normalized 0..1 loudness value from a block
// of signed 16-bit little-endian interleaved PCM via RMS.
func ComputeLevel(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sumSquares float64
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		s := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		v := float64(s) / float64(math.MaxInt16)
		sumSquares += v * v
	}
	rms := math.Sqrt(sumSquares / float64(n))
	if rms > 1 {
		rms = 1
	}
	return rms
}
