package aggregate

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/renderscan/internal/ir"
	"github.com/roach88/renderscan/internal/outline"
	"github.com/roach88/renderscan/internal/tree"
)

// AnimationSpeed controls how outlines are animated by the painter.
type AnimationSpeed string

const (
	AnimationSlow AnimationSpeed = "slow"
	AnimationFast AnimationSpeed = "fast"
	AnimationOff  AnimationSpeed = "off"
)

// ValidAnimationSpeeds defines allowed animation speeds.
var ValidAnimationSpeeds = map[AnimationSpeed]bool{
	AnimationSlow: true,
	AnimationFast: true,
	AnimationOff:  true,
}

// ErrInvalidOption is wrapped by every option validation error.
var ErrInvalidOption = errors.New("invalid option")

// Callbacks are the lifecycle hooks. They run outside the instance lock,
// after the commit's state has been updated.
type Callbacks struct {
	OnCommitStart  func()
	OnRender       func(n *tree.Node, records []ir.RenderRecord)
	OnCommitFinish func()
	OnPaintStart   func(outlines []outline.Pending)
	OnPaintFinish  func(outlines []outline.Pending)
}

// MonitorOptions configure telemetry delivery.
type MonitorOptions struct {
	URL    string
	APIKey string
	Route  string
	Path   string
}

// Options is the instance-wide configuration.
type Options struct {
	Enabled         bool
	IncludeChildren bool
	// RenderCountThreshold is the rolling render count a node must reach
	// before its outlines are queued.
	RenderCountThreshold int
	// ResetCountTimeout resets a node's rolling count after this much
	// inactivity.
	ResetCountTimeout time.Duration
	// MaxRenders is the rolling count at which severity saturates.
	MaxRenders       int
	Report           bool
	AlwaysShowLabels bool
	AnimationSpeed   AnimationSpeed
	Monitor          MonitorOptions
	Callbacks        Callbacks
}

// DefaultOptions returns the defaults applied by a new instance.
func DefaultOptions() Options {
	return Options{
		Enabled:              true,
		IncludeChildren:      true,
		RenderCountThreshold: 0,
		ResetCountTimeout:    5 * time.Second,
		MaxRenders:           20,
		Report:               false,
		AlwaysShowLabels:     false,
		AnimationSpeed:       AnimationFast,
	}
}

// OutlineConfig projects the options that shape outlines.
func (o Options) OutlineConfig() outline.Config {
	return outline.Config{
		RenderCountThreshold: o.RenderCountThreshold,
		ResetCountTimeout:    o.ResetCountTimeout,
		MaxRenders:           o.MaxRenders,
		Animate:              o.AnimationSpeed != AnimationOff,
		AlwaysShowLabels:     o.AlwaysShowLabels,
	}
}

// MonitorPatch is the partial form of MonitorOptions.
type MonitorPatch struct {
	URL    *string `yaml:"url,omitempty" json:"url,omitempty"`
	APIKey *string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	Route  *string `yaml:"route,omitempty" json:"route,omitempty"`
	Path   *string `yaml:"path,omitempty" json:"path,omitempty"`
}

// OptionsPatch is a partial update. Nil fields leave the current value
// unchanged. It is also the shape of option files.
type OptionsPatch struct {
	Enabled              *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	IncludeChildren      *bool           `yaml:"includeChildren,omitempty" json:"includeChildren,omitempty"`
	RenderCountThreshold *int            `yaml:"renderCountThreshold,omitempty" json:"renderCountThreshold,omitempty"`
	ResetCountTimeout    *int            `yaml:"resetCountTimeout,omitempty" json:"resetCountTimeout,omitempty"` // milliseconds
	MaxRenders           *int            `yaml:"maxRenders,omitempty" json:"maxRenders,omitempty"`
	Report               *bool           `yaml:"report,omitempty" json:"report,omitempty"`
	AlwaysShowLabels     *bool           `yaml:"alwaysShowLabels,omitempty" json:"alwaysShowLabels,omitempty"`
	AnimationSpeed       *AnimationSpeed `yaml:"animationSpeed,omitempty" json:"animationSpeed,omitempty"`
	Monitor              *MonitorPatch   `yaml:"monitor,omitempty" json:"monitor,omitempty"`

	// Callbacks are merged individually: a nil hook keeps the current one.
	Callbacks *Callbacks `yaml:"-" json:"-"`
}

// Merge returns o with p applied. o is not modified. An invalid field
// rejects the whole patch.
func (o Options) Merge(p OptionsPatch) (Options, error) {
	if err := p.Validate(); err != nil {
		return o, err
	}
	if p.Enabled != nil {
		o.Enabled = *p.Enabled
	}
	if p.IncludeChildren != nil {
		o.IncludeChildren = *p.IncludeChildren
	}
	if p.RenderCountThreshold != nil {
		o.RenderCountThreshold = *p.RenderCountThreshold
	}
	if p.ResetCountTimeout != nil {
		o.ResetCountTimeout = time.Duration(*p.ResetCountTimeout) * time.Millisecond
	}
	if p.MaxRenders != nil {
		o.MaxRenders = *p.MaxRenders
	}
	if p.Report != nil {
		o.Report = *p.Report
	}
	if p.AlwaysShowLabels != nil {
		o.AlwaysShowLabels = *p.AlwaysShowLabels
	}
	if p.AnimationSpeed != nil {
		o.AnimationSpeed = *p.AnimationSpeed
	}
	if m := p.Monitor; m != nil {
		if m.URL != nil {
			o.Monitor.URL = *m.URL
		}
		if m.APIKey != nil {
			o.Monitor.APIKey = *m.APIKey
		}
		if m.Route != nil {
			o.Monitor.Route = *m.Route
		}
		if m.Path != nil {
			o.Monitor.Path = *m.Path
		}
	}
	if c := p.Callbacks; c != nil {
		if c.OnCommitStart != nil {
			o.Callbacks.OnCommitStart = c.OnCommitStart
		}
		if c.OnRender != nil {
			o.Callbacks.OnRender = c.OnRender
		}
		if c.OnCommitFinish != nil {
			o.Callbacks.OnCommitFinish = c.OnCommitFinish
		}
		if c.OnPaintStart != nil {
			o.Callbacks.OnPaintStart = c.OnPaintStart
		}
		if c.OnPaintFinish != nil {
			o.Callbacks.OnPaintFinish = c.OnPaintFinish
		}
	}
	return o, nil
}

// Validate checks the set fields of p.
func (p OptionsPatch) Validate() error {
	if p.RenderCountThreshold != nil && *p.RenderCountThreshold < 0 {
		return fmt.Errorf("%w: renderCountThreshold must be >= 0, got %d", ErrInvalidOption, *p.RenderCountThreshold)
	}
	if p.ResetCountTimeout != nil && *p.ResetCountTimeout < 0 {
		return fmt.Errorf("%w: resetCountTimeout must be >= 0, got %d", ErrInvalidOption, *p.ResetCountTimeout)
	}
	if p.MaxRenders != nil && *p.MaxRenders < 0 {
		return fmt.Errorf("%w: maxRenders must be >= 0, got %d", ErrInvalidOption, *p.MaxRenders)
	}
	if p.AnimationSpeed != nil && !ValidAnimationSpeeds[*p.AnimationSpeed] {
		return fmt.Errorf("%w: animationSpeed must be slow, fast or off, got %q", ErrInvalidOption, *p.AnimationSpeed)
	}
	return nil
}
