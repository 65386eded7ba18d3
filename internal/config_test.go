package internal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	cfg := testConfig(t, src, dest, nil)

	assert.Equal(t, src, cfg.Source)
	assert.Equal(t, dest, cfg.Dest)
	assert.Equal(t, string(PolicySkip), cfg.CollisionPolicy)
	assert.Equal(t, string(HashSHA256), cfg.HashAlgorithm)
	assert.True(t, cfg.Verify)
	assert.True(t, cfg.IndexDest)
	assert.False(t, cfg.MtimeFallback)
	assert.Equal(t, 30*time.Second, cfg.MetadataTimeout)
	assert.Contains(t, cfg.ImageExt, ".jpg")
	assert.Contains(t, cfg.SidecarExt, ".xmp")
}

func TestLoadConfig_NormalizesValues(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), t.TempDir(), map[string]any{
		"collision_policy":   " Rename ",
		"workers":            0,
		"image_extensions":   []string{"JPG", ".jpg", " png "},
		"sidecar_extensions": []string{"XMP", ""},
		"hash_algorithm":     "blake3",
	})
	assert.Equal(t, string(PolicyRename), cfg.CollisionPolicy)
	assert.Positive(t, cfg.Workers)
	assert.Equal(t, []string{".jpg", ".png"}, cfg.ImageExt)
	assert.Equal(t, []string{".xmp"}, cfg.SidecarExt)
}

func TestLoadConfig_Rejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		set  map[string]any
	}{
		{"missing dest", map[string]any{"src": dir, "dest": ""}},
		{"same folder", map[string]any{"src": dir, "dest": dir}},
		{"bad policy", map[string]any{"src": dir, "dest": filepath.Join(dir, "out"), "collision_policy": "overwrite"}},
		{"bad hash", map[string]any{"src": dir, "dest": filepath.Join(dir, "out"), "hash_algorithm": "md5"}},
		{"nested top folder", map[string]any{"src": dir, "dest": filepath.Join(dir, "out"), "top_folder": "a/b"}},
		{"dot top folder", map[string]any{"src": dir, "dest": filepath.Join(dir, "out"), "top_folder": ".."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := LoadConfig(v)
			var setupErr *SetupError
			assert.True(t, errors.As(err, &setupErr), "got %v", err)
		})
	}
}

func TestNormalize_WithoutDest(t *testing.T) {
	cfg := &Config{Source: ".", CollisionPolicy: "skip", HashAlgorithm: "sha256"}
	require.NoError(t, cfg.Normalize())
	assert.True(t, filepath.IsAbs(cfg.Source))
	assert.Empty(t, cfg.Dest)
}

func TestNewViper_ConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trollskript.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
dest = "/photos"
collision_policy = "conflicts"
workers = 3
metadata_timeout = "5s"
`), 0o644))
	t.Setenv("TROLLSKRIPT_WORKERS", "7")

	v, err := NewViper(path)
	require.NoError(t, err)
	assert.Equal(t, "/photos", v.GetString("dest"))
	assert.Equal(t, "conflicts", v.GetString("collision_policy"))
	assert.Equal(t, 7, v.GetInt("workers"))
	assert.Equal(t, 5*time.Second, v.GetDuration("metadata_timeout"))

	_, err = NewViper(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestParseCollisionPolicy(t *testing.T) {
	for in, want := range map[string]CollisionPolicy{
		"skip":      PolicySkip,
		"RENAME":    PolicyRename,
		"conflicts": PolicyConflicts,
	} {
		got, err := ParseCollisionPolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCollisionPolicy("overwrite")
	assert.Error(t, err)
}
