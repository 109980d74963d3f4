package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "scan.yaml", "maxRenders: 30\nanimationSpeed: off\n")

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "maxRenders: 30")
	assert.Contains(t, out, "animationSpeed:")
}

func TestValidateJSONOutput(t *testing.T) {
	path := writeFile(t, t.TempDir(), "scan.cue", "report: true\nrenderCountThreshold: 2\n")

	out, err := execute(t, "validate", path, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Valid     bool           `json:"valid"`
			Effective map[string]any `json:"effective"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, true, resp.Data.Effective["report"])
	assert.Equal(t, float64(2), resp.Data.Effective["renderCountThreshold"])
}

func TestValidateInvalid(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		wantCode string
		wantLine int
	}{
		{"yaml unknown field", "scan.yaml", "maxRender: 30\n", ErrCodeConfig, 0},
		{"cue schema violation", "scan.cue", "report: true\nmaxRenders: -1\n", ErrCodeConfig, 2},
		{"unknown extension", "scan.toml", "maxRenders = 1\n", ErrCodeConfig, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), tt.file, tt.content)

			out, err := execute(t, "validate", path, "--format", "json")
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			if tt.wantLine > 0 {
				details, ok := resp.Error.Details.(map[string]any)
				require.True(t, ok, "details: %v", resp.Error.Details)
				assert.Equal(t, float64(tt.wantLine), details["line"])
			}
		})
	}
}

func TestValidateMissingFile(t *testing.T) {
	out, err := execute(t, "validate", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E_READ]")
}
