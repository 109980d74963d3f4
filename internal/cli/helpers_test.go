package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const counterScenario = `name: counter
description: a counter re-renders on every click
monitor:
  apiKey: key-1
  route: /counter
  path: /counter
steps:
  - commit:
      tree:
        - {id: counter, type: Counter, duration: 2, state: [0]}
  - interaction: {type: pointer, name: Counter, path: Counter, duration: 12}
  - advance: 16
  - commit:
      tree:
        - {id: counter, type: Counter, duration: 1, state: [1]}
  - advance: 5000
  - flush: true
assertions:
  - {type: render_count, node: counter, count: 2}
  - {type: record_kinds, node: counter, commit: 2, kinds: [state]}
  - {type: flush_count, count: 1}
`

const failingScenario = `name: failing
description: expects more renders than happen
steps:
  - commit:
      tree:
        - {id: counter, type: Counter}
assertions:
  - {type: render_count, node: counter, count: 5}
`

// writeFile writes content under dir and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
