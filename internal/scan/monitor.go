package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/renderscan/internal/aggregate"
	"github.com/roach88/renderscan/internal/monitor"
	"github.com/roach88/renderscan/internal/transport"
)

// StartMonitor starts the monitoring session from the monitor options, or
// updates the running one with the current url, API key and route.
// Renders are attributed to interactions from then on.
func (i *Instance) StartMonitor() (*monitor.Monitor, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	o := i.store.Options().Monitor
	if i.monitor != nil {
		if err := i.monitor.SetAPIKey(o.APIKey); err != nil {
			return nil, err
		}
		i.monitor.SetURL(o.URL)
		i.monitor.SetRoute(o.Route, o.Path)
		return i.monitor, nil
	}

	opts := append([]monitor.Option{
		monitor.WithClock(i.clock),
		monitor.WithLogger(i.logger),
	}, i.monitorOpts...)
	m, err := monitor.New(o.URL, o.APIKey, opts...)
	if err != nil {
		return nil, err
	}
	m.SetRoute(o.Route, o.Path)

	if i.client == nil {
		copts := append([]transport.Option{transport.WithLogger(i.logger)}, i.clientOpts...)
		c, err := transport.NewClient(copts...)
		if err != nil {
			return nil, fmt.Errorf("start monitor: %w", err)
		}
		i.client = c
	}
	i.monitor = m
	i.logger.Info("monitor started", "url", o.URL, "route", o.Route)
	return m, nil
}

// Monitor returns the monitoring session, nil before StartMonitor.
func (i *Instance) Monitor() *monitor.Monitor {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.monitor
}

// SetRoute updates the route pattern and path reported with batches.
func (i *Instance) SetRoute(route, path string) error {
	_, err := i.SetOptions(aggregate.OptionsPatch{Monitor: &aggregate.MonitorPatch{Route: &route, Path: &path}})
	return err
}

// StartInteraction opens an interaction. Returns nil when no monitoring
// session runs.
func (i *Instance) StartInteraction(e monitor.Entry) *monitor.Interaction {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.monitor == nil {
		return nil
	}
	return i.monitor.StartInteraction(e)
}

// Flush partitions the session under the instance lock and delivers the
// resulting batch on its own goroutine. ctx bounds deliveries that are
// not sent detached. Returns the batch, nil when nothing was sent.
func (i *Instance) Flush(ctx context.Context) (*monitor.Batch, error) {
	i.mu.Lock()
	m, client := i.monitor, i.client
	if m == nil {
		i.mu.Unlock()
		return nil, nil
	}
	b, err := m.Flush(i.clock.Now())
	i.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	client.Send(ctx, b, m.Inflight().End)
	return b, nil
}

// Start runs the flush scheduler until ctx is cancelled or Stop is called.
// Deliveries that are not detached are bound to the scheduler's lifetime.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cancel != nil {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	i.cancel, i.loopDone = cancel, done

	go i.loop(ctx, done)
	return nil
}

func (i *Instance) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := i.Flush(ctx); err != nil {
				i.logger.Error("flush failed", "error", err)
			}
		}
	}
}

// Stop halts the flush scheduler and waits for it to exit. In-flight
// deliveries are not awaited; see Wait.
func (i *Instance) Stop() {
	i.mu.Lock()
	cancel, done := i.cancel, i.loopDone
	i.cancel, i.loopDone = nil, nil
	i.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until every started delivery is terminal.
func (i *Instance) Wait() {
	i.mu.Lock()
	client := i.client
	i.mu.Unlock()
	if client != nil {
		client.Wait()
	}
}

// Close stops the scheduler, closes the outline queue and waits for
// deliveries.
func (i *Instance) Close() {
	i.Stop()
	i.outlines.Close()
	i.Wait()
}
