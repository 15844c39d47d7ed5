// Package sensor reads water-quality probes and keeps a daily CSV log.
// Hardware access stays behind the Sampler interface; the repo ships a
// simulated sampler for rigs without probes attached.
package sensor

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Sample is one reading across all probes.
type Sample struct {
	At              time.Time `json:"at"`
	DissolvedOxygen float64   `json:"dissolved_oxygen"`
	LiquidLevel     float64   `json:"liquid_level"`
	PH              float64   `json:"ph"`
	PHTemp          float64   `json:"ph_temperature"`
	Turbidity       float64   `json:"turbidity"`
	TurbidityTemp   float64   `json:"turbidity_temperature"`
}

// Sampler reads the probes once. Implementations must be safe for use
// from a single polling goroutine; they need not be concurrency-safe.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// SimSampler generates plausible readings for rigs without hardware.
// Ranges mirror a healthy freshwater pond.
type SimSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimSampler() *SimSampler {
	return &SimSampler{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *SimSampler) Sample(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	in := func(lo, hi float64) float64 { return lo + s.rng.Float64()*(hi-lo) }
	return Sample{
		At:              time.Now(),
		DissolvedOxygen: in(6.5, 8.2),
		LiquidLevel:     in(900, 1100),
		PH:              in(6.8, 7.6),
		PHTemp:          in(24.0, 30.0),
		Turbidity:       in(0.0, 5.0),
		TurbidityTemp:   in(24.0, 30.0),
	}, nil
}
