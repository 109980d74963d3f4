package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Payload is the decoded form of a wire batch. Omitted fields decode to
// their zero values.
type Payload struct {
	Interactions []WireInteraction `json:"interactions"`
	Components   []WireComponent   `json:"components"`
	Session      WireSession       `json:"session"`
}

// WireInteraction is one flushed interaction. Time is in milliseconds and
// Timestamp in Unix milliseconds.
type WireInteraction struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Time      float64 `json:"time"`
	Timestamp int64   `json:"timestamp"`
	Type      string  `json:"type"`
}

// WireComponent is one component aggregate of a flushed interaction.
type WireComponent struct {
	Name          string  `json:"name"`
	InteractionID string  `json:"interactionId"`
	Instances     int     `json:"instances"`
	Renders       int     `json:"renders"`
	TotalTime     float64 `json:"totalTime"`
}

// WireSession is the session descriptor.
type WireSession struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Route   string `json:"route"`
	Device  int    `json:"device"`
	Agent   string `json:"agent"`
	CPU     int    `json:"cpu"`
	Mem     int    `json:"mem"`
	Commit  string `json:"commit"`
	Branch  string `json:"branch"`
	Version string `json:"version"`
}

// ErrInvalidPayload is returned by DecodePayload for structurally invalid
// batches.
var ErrInvalidPayload = errors.New("invalid payload")

// DecodePayload reads one batch from r.
//
// A batch must carry a session id, and every component must reference an
// interaction of the same batch.
func DecodePayload(r io.Reader) (Payload, error) {
	var p Payload
	dec := json.NewDecoder(r)
	if err := dec.Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Session.ID == "" {
		return Payload{}, fmt.Errorf("%w: missing session id", ErrInvalidPayload)
	}
	ids := make(map[string]bool, len(p.Interactions))
	for _, it := range p.Interactions {
		ids[it.ID] = true
	}
	for i, c := range p.Components {
		if !ids[c.InteractionID] {
			return Payload{}, fmt.Errorf("%w: component[%d] %q references unknown interaction %q",
				ErrInvalidPayload, i, c.Name, c.InteractionID)
		}
	}
	return p, nil
}
