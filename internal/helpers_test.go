package internal

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// testConfig returns a validated config with defaults, no exiftool and a
// small worker pool.
func testConfig(t *testing.T, src, dest string, overrides map[string]any) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.Set("src", src)
	v.Set("dest", dest)
	v.Set("workers", 4)
	v.Set("use_exiftool", false)
	for k, val := range overrides {
		v.Set(k, val)
	}
	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	return cfg
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

// fakeTool answers from a table keyed by base name.
type fakeTool struct {
	fields map[string]Fields
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (f *fakeTool) Extract(ctx context.Context, path string) (Fields, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if fields, ok := f.fields[filepath.Base(path)]; ok {
		return fields, nil
	}
	return Fields{}, nil
}
