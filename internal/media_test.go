package internal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover_GroupsSidecars(t *testing.T) {
	src := t.TempDir()
	cfg := testConfig(t, src, t.TempDir(), nil)

	writeFile(t, filepath.Join(src, "IMG_0001.JPG"), "a")
	writeFile(t, filepath.Join(src, "IMG_0001.xmp"), "a-xmp")
	writeFile(t, filepath.Join(src, "photo.cr2"), "raw")
	writeFile(t, filepath.Join(src, "photo.jpg"), "jpg")
	writeFile(t, filepath.Join(src, "photo.xmp"), "p-xmp")
	writeFile(t, filepath.Join(src, "photo.pp3"), "p-pp3")
	writeFile(t, filepath.Join(src, "lonely.xmp"), "orphan")
	writeFile(t, filepath.Join(src, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(src, "trip", "clip.MOV"), "video")
	writeFile(t, filepath.Join(src, "trip", "IMG_0001.xmp"), "other dir")

	d, err := Discover(src, NewExtensions(cfg), nil)
	require.NoError(t, err)

	byPath := make(map[string]MediaItem)
	for _, it := range d.Items {
		byPath[it.Path] = it
	}
	require.Len(t, d.Items, 6)
	assert.Equal(t, 1, d.Ignored)
	assert.Equal(t, 9, d.FileCount())

	img := byPath[filepath.Join(src, "IMG_0001.JPG")]
	assert.Equal(t, KindImage, img.Kind)
	require.Len(t, img.Sidecars, 1)
	assert.Equal(t, ".xmp", img.Sidecars[0].Ext)
	assert.Equal(t, img.Path, img.Sidecars[0].Owner)

	// Both sidecars attach to the lexicographically first media file.
	raw := byPath[filepath.Join(src, "photo.cr2")]
	assert.Equal(t, KindRaw, raw.Kind)
	require.Len(t, raw.Sidecars, 2)
	assert.Equal(t, filepath.Join(src, "photo.pp3"), raw.Sidecars[0].Path)
	assert.Equal(t, filepath.Join(src, "photo.xmp"), raw.Sidecars[1].Path)
	assert.Empty(t, byPath[filepath.Join(src, "photo.jpg")].Sidecars)

	assert.Equal(t, KindVideo, byPath[filepath.Join(src, "trip", "clip.MOV")].Kind)
	assert.Equal(t, KindOther, byPath[filepath.Join(src, "lonely.xmp")].Kind)
	assert.Equal(t, KindOther, byPath[filepath.Join(src, "trip", "IMG_0001.xmp")].Kind)

	for i := 1; i < len(d.Items); i++ {
		assert.Less(t, d.Items[i-1].Path, d.Items[i].Path)
	}
}

func TestDiscover_SkipsExcludedAndReportDirs(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(src, "sorted")
	cfg := testConfig(t, src, dest, nil)

	writeFile(t, filepath.Join(src, "a.jpg"), "a")
	writeFile(t, filepath.Join(dest, "2024", "01", "01", "a.jpg"), "a")
	writeFile(t, filepath.Join(src, "old", ReportDirName, "x.jpg"), "x")

	d, err := Discover(src, NewExtensions(cfg), []string{dest})
	require.NoError(t, err)
	require.Len(t, d.Items, 1)
	assert.Equal(t, filepath.Join(src, "a.jpg"), d.Items[0].Path)
}

func TestDiscover_SymlinksAreWarnings(t *testing.T) {
	src := t.TempDir()
	cfg := testConfig(t, src, t.TempDir(), nil)

	target := writeFile(t, filepath.Join(t.TempDir(), "outside.jpg"), "x")
	if err := os.Symlink(target, filepath.Join(src, "link.jpg")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	writeFile(t, filepath.Join(src, "real.jpg"), "y")

	d, err := Discover(src, NewExtensions(cfg), nil)
	require.NoError(t, err)
	require.Len(t, d.Items, 1)
	require.Len(t, d.Warnings, 1)
	assert.Equal(t, "symlink skipped", d.Warnings[0].Message)
}

func TestDiscover_SymlinkedRoot(t *testing.T) {
	card := t.TempDir()
	writeFile(t, filepath.Join(card, "DCIM", "IMG_0001.JPG"), "x")
	writeFile(t, filepath.Join(card, "DCIM", "IMG_0001.xmp"), "side")
	writeFile(t, filepath.Join(card, "skip", "IMG_0002.JPG"), "y")
	cfg := testConfig(t, card, t.TempDir(), nil)

	src := filepath.Join(t.TempDir(), "card")
	if err := os.Symlink(card, src); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	if err := os.Symlink(filepath.Join(card, "DCIM"), filepath.Join(card, "loop")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	d, err := Discover(src, NewExtensions(cfg), []string{filepath.Join(src, "skip")})
	require.NoError(t, err)
	require.Len(t, d.Items, 1)
	assert.Equal(t, filepath.Join(src, "DCIM", "IMG_0001.JPG"), d.Items[0].Path)
	require.Len(t, d.Items[0].Sidecars, 1)
	assert.Equal(t, filepath.Join(src, "DCIM", "IMG_0001.xmp"), d.Items[0].Sidecars[0].Path)

	// Links below the root are still not followed.
	require.Len(t, d.Warnings, 1)
	assert.Equal(t, filepath.Join(src, "loop"), d.Warnings[0].Path)
	assert.Equal(t, "symlink skipped", d.Warnings[0].Message)
}

func TestDiscover_MissingRootIsSetupError(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), t.TempDir(), nil)

	_, err := Discover(filepath.Join(t.TempDir(), "nope"), NewExtensions(cfg), nil)
	var setupErr *SetupError
	require.True(t, errors.As(err, &setupErr))

	file := writeFile(t, filepath.Join(t.TempDir(), "file.jpg"), "x")
	_, err = Discover(file, NewExtensions(cfg), nil)
	require.True(t, errors.As(err, &setupErr))
}

func TestExtensions_KindOf(t *testing.T) {
	cfg := &Config{
		ImageExt:   []string{"JPG", ".png"},
		RawExt:     []string{".cr2"},
		VideoExt:   []string{".mov"},
		SidecarExt: []string{".xmp"},
	}
	exts := NewExtensions(cfg)

	for path, want := range map[string]Kind{
		"a.jpg": KindImage,
		"a.JPG": KindImage,
		"a.Cr2": KindRaw,
		"a.mov": KindVideo,
		"a.XMP": KindSidecar,
	} {
		got, ok := exts.KindOf(path)
		assert.True(t, ok, path)
		assert.Equal(t, want, got, path)
	}
	_, ok := exts.KindOf("notes.txt")
	assert.False(t, ok)
}

func TestIsWithin(t *testing.T) {
	root := filepath.FromSlash("/data/src")
	assert.True(t, IsWithin(root, root))
	assert.True(t, IsWithin(filepath.Join(root, "sorted"), root))
	assert.False(t, IsWithin(filepath.FromSlash("/data/src2"), root))
	assert.False(t, IsWithin(filepath.FromSlash("/data"), root))
	assert.True(t, IsWithin(filepath.Join(root, "..foo"), root))
}
