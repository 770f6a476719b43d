package sim

import (
	"context"
	"time"

	"github.com/zeusync/quadsim/internal/core/flight"
	"github.com/zeusync/quadsim/internal/core/observability/log"
)

// RealtimeOptions pace a run against the wall clock.
type RealtimeOptions struct {
	// FrameHz is how often the loop wakes up; every wake-up runs as many
	// fixed steps as the elapsed time covers. Defaults to 60.
	FrameHz float64
	// Speed scales simulated time against wall time. Defaults to 1.
	Speed float64
	// Commands are applied between steps, in arrival order.
	Commands <-chan flight.Command
}

// RunRealtime behaves like Run but paces the fixed steps to wall-clock time
// with an accumulator, and additionally applies externally injected commands.
func (s *Simulator) RunRealtime(ctx context.Context, mission Mission, opts RealtimeOptions) (Result, error) {
	if opts.FrameHz <= 0 {
		opts.FrameHz = 60
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	frame := time.Duration(float64(time.Second) / opts.FrameHz)
	if frame <= 0 {
		frame = time.Second / 60
	}
	step := time.Duration(s.dt / opts.Speed * float64(time.Second))
	if step <= 0 {
		step = time.Nanosecond
	}

	s.logger.Info("realtime run started",
		log.Duration("frame", frame),
		log.Duration("step", step),
		log.Float64("speed", opts.Speed),
	)

	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	last := time.Now()
	accumulator := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return s.finish(false), ctx.Err()

		case cmd, ok := <-opts.Commands:
			if !ok {
				opts.Commands = nil
				continue
			}
			if err := s.SetCommand(cmd); err != nil {
				s.logger.Debug("external command ignored", log.Error(err))
			}

		case now := <-ticker.C:
			accumulator += now.Sub(last)
			last = now
			for accumulator >= step {
				accumulator -= step
				if done, stop := s.advance(mission); stop {
					return s.finish(done), nil
				}
			}
		}
	}
}
