package source

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/worker"
)

// corruptBytes is emitted occasionally: an invalid UTF-8 sequence
// followed by binary noise.
var corruptBytes = []byte{0xFF, 0xC0, 0xFE, 0x80, 0x12, 0x34}

// Simulator produces synthetic device output: sensor readings, warnings,
// errors and the odd burst of corrupt bytes.
type Simulator struct {
	Interval time.Duration
	// Count stops after that many chunks; zero runs until cancelled.
	Count int
	Seed  uint64
}

// Name implements Source.
func (s *Simulator) Name() string { return "simulate" }

// Run emits one chunk per interval.
func (s *Simulator) Run(ctx context.Context, sink Sink) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; s.Count == 0 || i < s.Count; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := sink.Post(ctx, worker.AppendChunk{Chunk: simChunk(rng.Float64())}); err != nil {
			return err
		}
	}
	return nil
}

func simChunk(r float64) []byte {
	switch {
	case r < 0.05:
		return append([]byte(nil), corruptBytes...)
	case r < 0.15:
		return []byte(fmt.Sprintf("Error: System overheat at %.1f°C\n", 80+r*20))
	case r < 0.35:
		return []byte(fmt.Sprintf("Warning: Voltage fluctuation detected: %.2fV\n", 3+r))
	default:
		return []byte(fmt.Sprintf("Info: Sensor reading: A=%.2f, B=%.2f, C=%.2f\n", r*100, r*50, r*10))
	}
}
