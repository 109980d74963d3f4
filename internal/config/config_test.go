package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/renderscan/internal/aggregate"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "scan.yaml", `
enabled: true
maxRenders: 30
resetCountTimeout: 1500
animationSpeed: off
monitor:
  url: https://collector.test/ingest
  apiKey: k
`)

	p, err := Load(path)
	require.NoError(t, err)

	o, err := Effective(p)
	require.NoError(t, err)
	assert.Equal(t, 30, o.MaxRenders)
	assert.Equal(t, 1500*time.Millisecond, o.ResetCountTimeout)
	assert.Equal(t, aggregate.AnimationOff, o.AnimationSpeed)
	assert.Equal(t, "https://collector.test/ingest", o.Monitor.URL)
	assert.Equal(t, "k", o.Monitor.APIKey)
	assert.Equal(t, aggregate.DefaultOptions().IncludeChildren, o.IncludeChildren, "unset keeps default")
}

func TestLoadYAMLRejectsUnknownField(t *testing.T) {
	path := writeFile(t, "scan.yml", "maxRender: 30\n")

	_, err := Load(path)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "maxRender")
}

func TestLoadYAMLRejectsInvalidValue(t *testing.T) {
	path := writeFile(t, "scan.yaml", "animationSpeed: warp\n")

	_, err := Load(path)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "animationSpeed")
}

func TestLoadEmptyYAML(t *testing.T) {
	p, err := Load(writeFile(t, "empty.yaml", "\n"))
	require.NoError(t, err)
	assert.Equal(t, aggregate.OptionsPatch{}, p)
}

func TestLoadCUE(t *testing.T) {
	path := writeFile(t, "scan.cue", `
report:               true
renderCountThreshold: 2
monitor: route: "/cart/:id"
`)

	p, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, p.Report)
	assert.True(t, *p.Report)
	require.NotNil(t, p.RenderCountThreshold)
	assert.Equal(t, 2, *p.RenderCountThreshold)
	require.NotNil(t, p.Monitor)
	assert.Equal(t, "/cart/:id", *p.Monitor.Route)
	assert.Nil(t, p.MaxRenders)
}

func TestLoadCUESchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		line    int
	}{
		{"negative count", "report: true\nmaxRenders: -1\n", 2},
		{"unknown field", "report: true\nspeed: \"fast\"\n", 2},
		{"bad enum", "animationSpeed: \"medium\"\n", 0},
		{"syntax", "maxRenders: \n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "scan.cue", tt.content))
			var ce *Error
			require.ErrorAs(t, err, &ce)
			if tt.line > 0 {
				assert.Equal(t, tt.line, ce.Line, ce.Error())
			}
		})
	}
}

func TestFormatOf(t *testing.T) {
	for path, want := range map[string]Format{
		"a.yaml": FormatYAML,
		"a.YML":  FormatYAML,
		"a.json": FormatYAML,
		"a.cue":  FormatCUE,
	} {
		got, err := FormatOf(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	_, err := FormatOf("a.toml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestMarshalYAMLLoadsBack(t *testing.T) {
	o := aggregate.DefaultOptions()
	o.MaxRenders = 12
	o.ResetCountTimeout = 750 * time.Millisecond
	o.Monitor.URL = "https://collector.test"

	data, err := MarshalYAML(o)
	require.NoError(t, err)

	p, err := Parse(data, "effective.yaml", FormatYAML)
	require.NoError(t, err)
	back, err := Effective(p)
	require.NoError(t, err)
	assert.Equal(t, o, back)
}
