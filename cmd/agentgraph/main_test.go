package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/config"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/value"
)

const helloApp = `
name: hello
output_template: "{{ leaf.output_str }} {{ input.data }}"
actors:
  - id: leaf
    processor_slug: echo
    provider_slug: builtin
    input:
      input_str: "Hello, World!"
`

func writeApp(t *testing.T, src string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))

	return path
}

func testLogger() *logging.StructuredLogger {
	return logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelError, Format: "text", Output: io.Discard})
}

func TestRunValidate(t *testing.T) {
	var out bytes.Buffer

	require.NoError(t, runValidate(&out, writeApp(t, helloApp), nil))
	assert.Contains(t, out.String(), "leaf\n")
	assert.Contains(t, out.String(), "output <- input, leaf")
	assert.Contains(t, out.String(), "app is valid")

	err := runValidate(&out, writeApp(t, `
actors:
  - {id: leaf, processor_slug: missing, provider_slug: builtin}
`), nil)
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"validate", "--app", writeApp(t, helloApp)})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "app is valid")
}

func TestRunApp(t *testing.T) {
	cfg := config.Default()
	cfg.Jobs.SQLitePath = filepath.Join(t.TempDir(), "jobs.db")

	tests := []struct {
		name   string
		stream bool
		want   string
	}{
		{name: "sync", want: `"output": "Hello, World! New!"`},
		{name: "stream", stream: true, want: "Hello, World! New!\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer

			err := runApp(context.Background(), &out, testLogger(), cfg, runParams{
				AppPath: writeApp(t, helloApp),
				Input:   `{"data":"New!"}`,
				Stream:  tt.stream,
			})
			require.NoError(t, err)
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    value.Map
		wantErr bool
	}{
		{name: "empty", raw: "", want: value.Map{}},
		{name: "object", raw: `{"data":"x"}`, want: value.Map{"data": value.String("x")}},
		{name: "array", raw: `[1]`, wantErr: true},
		{name: "malformed", raw: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInput(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
