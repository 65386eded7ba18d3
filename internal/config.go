package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CollisionPolicy decides what happens when a planned destination is taken.
type CollisionPolicy string

const (
	PolicySkip      CollisionPolicy = "skip"
	PolicyRename    CollisionPolicy = "rename"
	PolicyConflicts CollisionPolicy = "conflicts"
)

// ParseCollisionPolicy validates a policy name.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch p := CollisionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicySkip, PolicyRename, PolicyConflicts:
		return p, nil
	}
	return "", fmt.Errorf("invalid collision policy %q (want skip, rename or conflicts)", s)
}

type Config struct {
	Source          string        `mapstructure:"src"`
	Dest            string        `mapstructure:"dest"`
	TopFolder       string        `mapstructure:"top_folder"`
	CollisionPolicy string        `mapstructure:"collision_policy"`
	Workers         int           `mapstructure:"workers"`
	MtimeFallback   bool          `mapstructure:"mtime_fallback"`
	Verify          bool          `mapstructure:"verify"`
	HashAlgorithm   string        `mapstructure:"hash_algorithm"`
	IndexDest       bool          `mapstructure:"index_destination"`
	UseExifTool     bool          `mapstructure:"use_exiftool"`
	ExifToolPath    string        `mapstructure:"exiftool_path"`
	MetadataTimeout time.Duration `mapstructure:"metadata_timeout"`
	DryRun          bool          `mapstructure:"dry_run"`
	WatchDebounce   time.Duration `mapstructure:"watch_debounce"`
	ImageExt        []string      `mapstructure:"image_extensions"`
	VideoExt        []string      `mapstructure:"video_extensions"`
	RawExt          []string      `mapstructure:"raw_extensions"`
	SidecarExt      []string      `mapstructure:"sidecar_extensions"`
}

// SetDefaults registers every configuration key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("src", "")
	v.SetDefault("dest", "")
	v.SetDefault("top_folder", "")
	v.SetDefault("collision_policy", string(PolicySkip))
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("mtime_fallback", false)
	v.SetDefault("verify", true)
	v.SetDefault("hash_algorithm", string(HashSHA256))
	v.SetDefault("index_destination", true)
	v.SetDefault("use_exiftool", true)
	v.SetDefault("exiftool_path", "")
	v.SetDefault("metadata_timeout", 30*time.Second)
	v.SetDefault("dry_run", false)
	v.SetDefault("watch_debounce", 5*time.Second)
	v.SetDefault("image_extensions", []string{".jpg", ".jpeg", ".png", ".gif", ".heic", ".heif", ".tif", ".tiff", ".bmp", ".webp"})
	v.SetDefault("video_extensions", []string{".mp4", ".mov", ".m4v", ".avi", ".mkv", ".mts", ".m2ts", ".3gp", ".wmv", ".webm", ".mpg", ".mpeg"})
	v.SetDefault("raw_extensions", []string{".cr2", ".cr3", ".crw", ".nef", ".nrw", ".arw", ".srf", ".sr2", ".dng", ".raf", ".orf", ".rw2", ".pef", ".srw", ".x3f", ".raw"})
	v.SetDefault("sidecar_extensions", []string{".xmp", ".aae", ".thm", ".dop", ".pp3"})
}

// NewViper returns a viper instance with defaults, environment overrides
// (TROLLSKRIPT_*) and the optional config file already read. An explicit
// configFile must exist; the default search location may be empty.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("trollskript")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
		return v, nil
	}

	v.SetConfigName("trollskript")
	v.SetConfigType("toml")
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "trollskript"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return v, nil
}

// LoadConfig unmarshals v into a Config and validates it.
func LoadConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalizes c and rejects unusable values. A destination is required.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Dest) == "" {
		return &SetupError{Op: "config", Err: errors.New("--dest is required")}
	}
	if err := c.Normalize(); err != nil {
		return err
	}
	if c.Source == c.Dest {
		return &SetupError{Op: "config", Path: c.Dest, Err: errors.New("source and destination are the same folder")}
	}
	return nil
}

// Normalize resolves paths and extension lists and checks enumerated values.
// It does not require a destination.
func (c *Config) Normalize() error {
	if c.Source == "" {
		dir, err := executableDir()
		if err != nil {
			return &SetupError{Op: "config", Err: fmt.Errorf("cannot determine default source: %w", err)}
		}
		c.Source = dir
	}

	var err error
	if c.Source, err = filepath.Abs(c.Source); err != nil {
		return &SetupError{Op: "config", Path: c.Source, Err: err}
	}
	if c.Dest != "" {
		if c.Dest, err = filepath.Abs(c.Dest); err != nil {
			return &SetupError{Op: "config", Path: c.Dest, Err: err}
		}
	}

	if c.TopFolder != "" {
		if strings.ContainsAny(c.TopFolder, `/\`) || c.TopFolder == "." || c.TopFolder == ".." {
			return &SetupError{Op: "config", Err: fmt.Errorf("invalid top folder %q", c.TopFolder)}
		}
	}

	policy, err := ParseCollisionPolicy(c.CollisionPolicy)
	if err != nil {
		return &SetupError{Op: "config", Err: err}
	}
	c.CollisionPolicy = string(policy)

	if _, err := ParseHashAlgorithm(c.HashAlgorithm); err != nil {
		return &SetupError{Op: "config", Err: err}
	}

	if c.Workers < 1 {
		c.Workers = runtime.NumCPU()
	}
	if c.MetadataTimeout <= 0 {
		c.MetadataTimeout = 30 * time.Second
	}
	if c.WatchDebounce <= 0 {
		c.WatchDebounce = 5 * time.Second
	}

	c.ImageExt = normalizeExts(c.ImageExt)
	c.VideoExt = normalizeExts(c.VideoExt)
	c.RawExt = normalizeExts(c.RawExt)
	c.SidecarExt = normalizeExts(c.SidecarExt)
	return nil
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	seen := make(map[string]bool, len(exts))
	for _, ext := range exts {
		e := strings.TrimSpace(strings.ToLower(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}
