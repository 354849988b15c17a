package manager

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// run is the instance worker: it drains the frame tap while the engine
// session runs and records the outcome once the session ends.
func (m *Manager) run(inst *Instance) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var g errgroup.Group
	if inst.tap != nil {
		g.Go(func() error {
			m.pump(ctx, inst)
			return nil
		})
	}
	<-inst.session.Done()
	cancel()
	_ = g.Wait()
	m.settle(inst, stateFromStatus(inst.session.Status()), inst.session.Err())
}

// settle records the terminal state and releases the destination. A stop
// requested while the session was still running completes here.
func (m *Manager) settle(inst *Instance, state State, cause error) {
	if inst.dest != nil {
		inst.dest.Finish()
	}
	m.transition(inst, state, cause)
	m.mu.RLock()
	stop := inst.stopRequested
	m.mu.RUnlock()
	if stop {
		m.transition(inst, StateStopped, nil)
	}
	close(inst.exited)
}

func (m *Manager) pump(ctx context.Context, inst *Instance) {
	forwarding := true
	for {
		f, err := inst.tap.Pull(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				m.log.Warn().Str("event", "frame_pull_failed").Str("id", inst.ID).Err(err).Msg("frame tap failed")
			}
			return
		}
		inst.metrics.observe(f.Latency, m.clock(), m.window)
		if !forwarding {
			continue
		}
		if err := inst.dest.Publish(f); err != nil {
			// keep draining so the pipeline does not stall on a full sink
			forwarding = false
			m.log.Warn().Str("event", "frame_destination_lost").Str("id", inst.ID).Str("key", inst.dest.Key()).Err(err).Msg("frame destination unavailable, dropping frames")
		}
	}
}

// instanceMetrics keeps a rolling latency window and frame timing.
type instanceMetrics struct {
	mu        sync.Mutex
	latencies []float64
	next      int
	frames    uint64
	first     time.Time
	last      time.Time
}

func (im *instanceMetrics) observe(latency time.Duration, now time.Time, window int) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.frames == 0 {
		im.first = now
	}
	im.frames++
	im.last = now
	if latency <= 0 {
		return
	}
	if len(im.latencies) < window {
		im.latencies = append(im.latencies, latency.Seconds())
		return
	}
	im.latencies[im.next] = latency.Seconds()
	im.next = (im.next + 1) % window
}

// snapshot returns nil for a metric the instance has not produced yet.
func (im *instanceMetrics) snapshot() (avgLatency, avgFPS *float64, updated time.Time) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if len(im.latencies) > 0 {
		v := stat.Mean(im.latencies, nil)
		avgLatency = &v
	}
	if im.frames >= 2 {
		if d := im.last.Sub(im.first).Seconds(); d > 0 {
			v := float64(im.frames-1) / d
			avgFPS = &v
		}
	}
	return avgLatency, avgFPS, im.last
}
