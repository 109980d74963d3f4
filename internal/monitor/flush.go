package monitor

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/renderscan/internal/clock"
	"github.com/roach88/renderscan/internal/ir"
)

// Batch is one encoded payload ready for delivery.
type Batch struct {
	// ID is the content id of Body.
	ID     string
	URL    string
	APIKey string
	// Body is the uncompressed wire JSON.
	Body []byte
	// Pending is the number of pending deliveries including this one.
	Pending int

	Interactions int
	Components   int
}

// Flush removes the interactions older than the recency window at now and
// encodes them into a Batch.
//
// Returns a nil Batch when there is nothing to send: the host is offline,
// no endpoint is set, no interaction is held, or none is old enough. With
// WithAbortWhenDrained, a flush that would leave the session empty is
// skipped too.
//
// The removal does not depend on delivery. The caller owns the returned
// batch and must call Inflight().End once its delivery is terminal.
func (m *Monitor) Flush(now time.Time) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online != nil && !m.online() {
		return nil, nil
	}
	if m.url == "" || len(m.interactions) == 0 {
		return nil, nil
	}

	var ready, keep []*Interaction
	for _, it := range m.interactions {
		if now.Sub(it.Entry.StartTime) >= m.window {
			ready = append(ready, it)
		} else {
			keep = append(keep, it)
		}
	}
	if len(ready) == 0 {
		return nil, nil
	}
	if m.abortWhenDrained && len(keep) == 0 {
		m.logger.Debug("flush skipped, session would drain", "ready", len(ready))
		return nil, nil
	}

	if m.session == nil {
		s := m.sessionInfo
		s.ID = m.ids.Generate()
		m.session = &s
	}
	m.session.URL = m.path
	m.session.Route = m.route

	payload, components := m.encode(ready)
	m.interactions = keep

	body, err := ir.MarshalWire(payload)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	b := &Batch{
		ID:           ir.BatchID(body),
		URL:          m.url,
		APIKey:       m.apiKey,
		Body:         body,
		Pending:      m.inflight.Begin(),
		Interactions: len(ready),
		Components:   components,
	}
	m.logger.Debug("flush",
		"batch", b.ID,
		"interactions", b.Interactions,
		"components", b.Components,
		"kept", len(keep),
		"bytes", len(body))
	return b, nil
}

// encode builds the payload for ready and charges one flush attempt to
// every component it serializes. Caller must hold m.mu.
func (m *Monitor) encode(ready []*Interaction) (*ir.Object, int) {
	interactions := make([]ir.Value, 0, len(ready))
	var components []ir.Value

	for _, it := range ready {
		id := it.WireID(m.route)
		interactions = append(interactions, ir.NewObject(
			ir.O("id", ir.String(id)),
			ir.O("name", ir.String(it.Entry.ComponentName)),
			ir.O("time", ir.Number(clock.Millis(it.Entry.Duration))),
			ir.O("timestamp", ir.Number(it.Entry.Timestamp.UnixMilli())),
			ir.O("type", ir.String(it.Entry.Type)),
		))

		names := make([]string, 0, len(it.Components))
		for name := range it.Components {
			names = append(names, name)
		}
		slices.Sort(names)

		for _, name := range names {
			c := it.Components[name]
			components = append(components, ir.NewObject(
				ir.O("name", ir.String(name)),
				ir.O("interactionId", ir.String(id)),
				ir.O("instances", ir.Number(c.Instances())),
				ir.O("renders", ir.Number(c.Renders)),
				ir.O("totalTime", ir.Number(c.TotalTime)),
			))
			if c.RetryBudget <= 0 {
				delete(it.Components, name)
				continue
			}
			c.RetryBudget--
		}
	}

	return ir.NewObject(
		ir.O("interactions", ir.NewArray(interactions...)),
		ir.O("components", ir.NewArray(components...)),
		ir.O("session", m.session.value()),
	), len(components)
}
