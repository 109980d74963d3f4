// Package config loads option files.
//
// An option file is a partial set of instance options, written in YAML or
// CUE. YAML files are decoded strictly: an unknown key is an error. CUE
// files are unified with the embedded #Options schema, so type and range
// errors are reported with their file position.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/renderscan/internal/aggregate"
)

//go:embed schema.cue
var schemaSource string

// ErrUnknownFormat is returned for a file extension that is neither YAML
// nor CUE.
var ErrUnknownFormat = errors.New("unknown options file format")

// Format is an options file syntax.
type Format int

const (
	FormatYAML Format = iota
	FormatCUE
)

// FormatOf picks the format from a file extension. JSON is parsed as
// YAML.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

// Error is an options file error with its position when known.
type Error struct {
	File    string
	Line    int
	Column  int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Load reads and parses the options file at path.
func Load(path string) (aggregate.OptionsPatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return aggregate.OptionsPatch{}, fmt.Errorf("read options: %w", err)
	}
	format, err := FormatOf(path)
	if err != nil {
		return aggregate.OptionsPatch{}, err
	}
	return Parse(data, path, format)
}

// Parse decodes data in the given format. filename is used in errors.
// The returned patch has passed OptionsPatch.Validate.
func Parse(data []byte, filename string, format Format) (aggregate.OptionsPatch, error) {
	var (
		p   aggregate.OptionsPatch
		err error
	)
	switch format {
	case FormatYAML:
		p, err = parseYAML(data, filename)
	case FormatCUE:
		p, err = parseCUE(data, filename)
	default:
		return p, fmt.Errorf("%w: %d", ErrUnknownFormat, format)
	}
	if err != nil {
		return aggregate.OptionsPatch{}, err
	}
	if err := p.Validate(); err != nil {
		return aggregate.OptionsPatch{}, &Error{File: filename, Message: err.Error()}
	}
	return p, nil
}

func parseYAML(data []byte, filename string) (aggregate.OptionsPatch, error) {
	var p aggregate.OptionsPatch
	if len(bytes.TrimSpace(data)) == 0 {
		return p, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return p, &Error{File: filename, Message: err.Error()}
	}
	return p, nil
}

func parseCUE(data []byte, filename string) (aggregate.OptionsPatch, error) {
	var p aggregate.OptionsPatch

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return p, fmt.Errorf("compile options schema: %w", err)
	}
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return p, positioned(filename, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Options")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return p, positioned(filename, err)
	}
	if err := unified.Decode(&p); err != nil {
		return p, positioned(filename, err)
	}
	return p, nil
}

// positioned converts the first CUE error to an *Error, keeping the
// position inside filename when CUE reports one.
func positioned(filename string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{File: filename, Message: err.Error()}
	}
	first := errs[0]
	out := &Error{File: filename, Message: first.Error()}
	for _, pos := range cueerrors.Positions(first) {
		if pos.IsValid() && pos.Filename() == filename {
			out.Line, out.Column = pos.Line(), pos.Column()
			break
		}
	}
	if out.Line == 0 {
		if pos := first.Position(); pos.IsValid() {
			out.Line, out.Column = pos.Line(), pos.Column()
		}
	}
	return out
}

// Effective applies p over the default options.
func Effective(p aggregate.OptionsPatch) (aggregate.Options, error) {
	return aggregate.DefaultOptions().Merge(p)
}

// PatchOf returns the patch that sets every file-expressible field of o.
func PatchOf(o aggregate.Options) aggregate.OptionsPatch {
	timeout := int(o.ResetCountTimeout.Milliseconds())
	speed := o.AnimationSpeed
	return aggregate.OptionsPatch{
		Enabled:              &o.Enabled,
		IncludeChildren:      &o.IncludeChildren,
		RenderCountThreshold: &o.RenderCountThreshold,
		ResetCountTimeout:    &timeout,
		MaxRenders:           &o.MaxRenders,
		Report:               &o.Report,
		AlwaysShowLabels:     &o.AlwaysShowLabels,
		AnimationSpeed:       &speed,
		Monitor: &aggregate.MonitorPatch{
			URL:    &o.Monitor.URL,
			APIKey: &o.Monitor.APIKey,
			Route:  &o.Monitor.Route,
			Path:   &o.Monitor.Path,
		},
	}
}

// MarshalYAML renders o as an options file.
func MarshalYAML(o aggregate.Options) ([]byte, error) {
	return yaml.Marshal(PatchOf(o))
}
