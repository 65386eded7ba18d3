package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCopier(t *testing.T, verify bool) (*Copier, *Hasher) {
	t.Helper()
	h, err := NewHasher(HashSHA256)
	require.NoError(t, err)
	return NewCopier(h, verify), h
}

func tempLeftovers(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if isTempName(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestCopier_CopiesAndKeepsMtime(t *testing.T) {
	src := writeFile(t, filepath.Join(t.TempDir(), "IMG_0001.JPG"), "jpeg bytes")
	mtime := time.Date(2021, time.August, 2, 9, 30, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	c, h := newTestCopier(t, true)
	fp, _, err := h.HashFile(context.Background(), src)
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "2021", "08", "02", "IMG_0001.JPG")
	n, err := c.Copy(context.Background(), src, dst, fp)
	require.NoError(t, err)
	assert.EqualValues(t, len("jpeg bytes"), n)
	assert.Equal(t, "jpeg bytes", readFile(t, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime))
	assert.Empty(t, tempLeftovers(t, filepath.Dir(dst)))
}

func TestCopier_NeverOverwrites(t *testing.T) {
	src := writeFile(t, filepath.Join(t.TempDir(), "a.jpg"), "new")
	dst := writeFile(t, filepath.Join(t.TempDir(), "a.jpg"), "old")

	c, h := newTestCopier(t, false)
	fp, _, err := h.HashFile(context.Background(), src)
	require.NoError(t, err)

	_, err = c.Copy(context.Background(), src, dst, fp)
	assert.ErrorIs(t, err, ErrDestinationExists)
	assert.Equal(t, "old", readFile(t, dst))
	assert.Empty(t, tempLeftovers(t, filepath.Dir(dst)))
}

func TestCopier_HashMismatchPublishesNothing(t *testing.T) {
	src := writeFile(t, filepath.Join(t.TempDir(), "a.jpg"), "changed since hashing")
	dstDir := t.TempDir()
	dst := filepath.Join(dstDir, "a.jpg")

	c, _ := newTestCopier(t, true)
	_, err := c.Copy(context.Background(), src, dst, fpOf("original content"))
	require.ErrorIs(t, err, ErrHashMismatch)
	assert.Contains(t, err.Error(), "source changed")

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, tempLeftovers(t, dstDir))
	assert.Equal(t, ErrorCategoryHash, CategorizeError(src, err).Category)
}

func TestCopier_Canceled(t *testing.T) {
	src := writeFile(t, filepath.Join(t.TempDir(), "a.mov"), "video")
	dstDir := t.TempDir()

	c, h := newTestCopier(t, false)
	fp, _, err := h.HashFile(context.Background(), src)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Copy(ctx, src, filepath.Join(dstDir, "a.mov"), fp)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tempLeftovers(t, dstDir))

	entries, err := os.ReadDir(dstDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCopier_MissingSource(t *testing.T) {
	c, _ := newTestCopier(t, false)
	_, err := c.Copy(context.Background(), filepath.Join(t.TempDir(), "gone.jpg"), filepath.Join(t.TempDir(), "gone.jpg"), fpOf("x"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestIsTempName(t *testing.T) {
	assert.True(t, isTempName(".IMG_0001.JPG.tmp-12345"))
	assert.False(t, isTempName("IMG_0001.JPG"))
	assert.False(t, isTempName(".hidden.jpg"))
}
