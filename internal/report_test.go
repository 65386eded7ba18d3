package internal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *Report {
	r := NewReport("run-1")
	r.Source = "/src"
	r.Destination = "/dest"
	r.Policy = PolicyRename
	r.HashAlgorithm = HashSHA256

	r.SetDiscovery(&Discovery{
		Items: []MediaItem{
			{Path: "/src/a.jpg", Kind: KindImage, Sidecars: []Sidecar{{Path: "/src/a.xmp", Owner: "/src/a.jpg", Ext: ".xmp"}}},
			{Path: "/src/b.jpg", Kind: KindImage},
			{Path: "/src/c.mov", Kind: KindVideo},
		},
		Warnings: []Warning{{Path: "/src/link.jpg", Message: "symlink skipped"}},
		Ignored:  2,
	})
	r.UpdateItem(&MediaItem{Path: "/src/a.jpg", Date: Date{2020, 1, 2}, DateSource: DateSourceMetadata, DateTag: CaptureTag, MIMEType: "image/jpeg"})
	return r
}

func TestReport_Summary(t *testing.T) {
	r := sampleReport()
	failed := Record{Src: "/src/c.mov", Kind: KindVideo}
	failed.Fail(errors.New("hash /src/c.mov: input/output error"))

	r.Add(
		Record{Src: "/src/b.jpg", Outcome: OutcomeCollisionRenamed, Size: 5, Occupant: "/dest/2020/01/02/b.jpg", Dst: "/dest/2020/01/02/b_1.jpg"},
		Record{Src: "/src/a.jpg", Outcome: OutcomeCopied, Size: 10, Dst: "/dest/2020/01/02/a.jpg"},
		Record{Src: "/src/a.xmp", Kind: KindSidecar, Owner: "/src/a.jpg", Outcome: OutcomeCopied, Size: 1},
		failed,
	)

	s := r.Summary()
	assert.Equal(t, 4, s.Discovered)
	assert.Equal(t, 2, s.Copied)
	assert.Equal(t, 1, s.Renamed)
	assert.Equal(t, 1, s.Errors)
	assert.EqualValues(t, 16, s.BytesCopied)
	assert.Equal(t, 1, s.Warnings)
	assert.Equal(t, 2, s.Ignored)

	recs := r.Records()
	require.Len(t, recs, 4)
	assert.Equal(t, "/src/a.jpg", recs[0].Src)
	assert.Equal(t, "/src/c.mov", recs[3].Src)
	assert.Equal(t, ErrorCategoryIO, recs[3].ErrorCategory)
	assert.Empty(t, recs[3].Dst)

	assert.Contains(t, r.ErrorReport(), "io_error: 1")
}

func TestReport_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ReportDirName)
	r := sampleReport()
	r.Add(
		Record{Src: "/src/a.jpg", Outcome: OutcomeCopied, Dst: "/dest/2020/01/02/a.jpg"},
		Record{Src: "/src/a.xmp", Kind: KindSidecar, Owner: "/src/a.jpg", Outcome: OutcomeCopied},
		Record{Src: "/src/b.jpg", Outcome: OutcomeDuplicate, Existing: "/dest/2020/01/02/a.jpg"},
		Record{Src: "/src/c.mov", Outcome: OutcomeCollisionSkipped, Occupant: "/dest/unknown_date/c.mov"},
	)
	require.NoError(t, r.Write(dir))

	assert.Equal(t, "/src/a.jpg\n/src/b.jpg\n/src/c.mov\n", readFile(t, filepath.Join(dir, "found_files.txt")))

	var found []FoundFile
	require.NoError(t, json.Unmarshal([]byte(readFile(t, filepath.Join(dir, "found_files.json"))), &found))
	require.Len(t, found, 3)
	assert.Equal(t, "image/jpeg", found[0].MIMEType)
	assert.Equal(t, CaptureTag, found[0].DateTag)
	assert.Equal(t, "2020-01-02", found[0].Date)
	assert.Equal(t, []string{"/src/a.xmp"}, found[0].Sidecars)
	assert.Equal(t, "unknown", found[2].Date)
	assert.Equal(t, []string{}, found[2].Sidecars)

	var rf struct {
		RunID   string   `json:"run_id"`
		Policy  string   `json:"collision_policy"`
		Summary Summary  `json:"summary"`
		Records []Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(readFile(t, filepath.Join(dir, "report.json"))), &rf))
	assert.Equal(t, "run-1", rf.RunID)
	assert.Equal(t, "rename", rf.Policy)
	assert.Len(t, rf.Records, 4)
	assert.Equal(t, 1, rf.Summary.Duplicates)
	assert.Equal(t, 1, rf.Summary.CollisionsSkipped)

	var dups, collisions []Record
	require.NoError(t, json.Unmarshal([]byte(readFile(t, filepath.Join(dir, "duplicates_skipped.json"))), &dups))
	require.NoError(t, json.Unmarshal([]byte(readFile(t, filepath.Join(dir, "collisions.json"))), &collisions))
	require.Len(t, dups, 1)
	assert.Equal(t, "/dest/2020/01/02/a.jpg", dups[0].Existing)
	require.Len(t, collisions, 1)
	assert.Equal(t, "/src/c.mov", collisions[0].Src)

	_, err := os.Stat(filepath.Join(dir, "collisions_applied.json"))
	assert.True(t, os.IsNotExist(err), "nothing was renamed or redirected")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, isTempName(e.Name()), e.Name())
	}
}

func TestReport_WriteCollisionsApplied(t *testing.T) {
	dir := t.TempDir()
	r := NewReport("run-2")
	r.SetDiscovery(&Discovery{})
	r.Add(Record{Src: "/src/b.jpg", Outcome: OutcomeCollisionConflicted, Occupant: "/dest/x/b.jpg", Dst: "/dest/conflicts/b.jpg"})
	require.NoError(t, r.Write(dir))

	var applied []Record
	require.NoError(t, json.Unmarshal([]byte(readFile(t, filepath.Join(dir, "collisions_applied.json"))), &applied))
	require.Len(t, applied, 1)
	assert.Equal(t, "/dest/conflicts/b.jpg", applied[0].Dst)

	assert.Equal(t, "[]\n", readFile(t, filepath.Join(dir, "duplicates_skipped.json")))
	assert.Equal(t, "", readFile(t, filepath.Join(dir, "found_files.txt")))
}
