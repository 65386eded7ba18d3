package internal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type Outcome string

const (
	OutcomeCopied              Outcome = "copied"
	OutcomeDuplicate           Outcome = "duplicate_skipped"
	OutcomeCollisionSkipped    Outcome = "collision_skipped"
	OutcomeCollisionRenamed    Outcome = "collision_renamed"
	OutcomeCollisionConflicted Outcome = "collision_conflicted"
	OutcomeError               Outcome = "error"
)

// Placed reports whether the outcome put a file into the destination.
func (o Outcome) Placed() bool {
	return o == OutcomeCopied || o == OutcomeCollisionRenamed || o == OutcomeCollisionConflicted
}

// Record is the single report line for one discovered file.
type Record struct {
	Src             string        `json:"src"`
	Kind            Kind          `json:"kind"`
	Owner           string        `json:"owner,omitempty"`
	PlannedDst      string        `json:"planned_dst,omitempty"`
	Dst             string        `json:"dst,omitempty"`
	Outcome         Outcome       `json:"outcome"`
	Date            string        `json:"date"`
	DateSource      DateSource    `json:"date_source,omitempty"`
	Hash            string        `json:"hash,omitempty"`
	Existing        string        `json:"existing,omitempty"`
	Occupant        string        `json:"occupant,omitempty"`
	OccupantHash    string        `json:"occupant_hash,omitempty"`
	Size            int64         `json:"size"`
	Error           string        `json:"error,omitempty"`
	ErrorCategory   ErrorCategory `json:"error_category,omitempty"`
	ErrorSeverity   ErrorSeverity `json:"error_severity,omitempty"`
	ErrorSuggestion string        `json:"error_suggestion,omitempty"`
}

// Fail turns r into an error record.
func (r *Record) Fail(err error) {
	pe := CategorizeError(r.Src, err)
	r.Outcome = OutcomeError
	r.Dst = ""
	r.Error = err.Error()
	r.ErrorCategory = pe.Category
	r.ErrorSeverity = pe.Severity
	r.ErrorSuggestion = pe.Suggestion
}

type Summary struct {
	Discovered        int   `json:"discovered"`
	Copied            int   `json:"copied"`
	Duplicates        int   `json:"duplicate_skipped"`
	CollisionsSkipped int   `json:"collision_skipped"`
	Renamed           int   `json:"collision_renamed"`
	Conflicted        int   `json:"collision_conflicted"`
	Errors            int   `json:"error"`
	BytesCopied       int64 `json:"bytes_copied"`
	Warnings          int   `json:"warnings"`
	Ignored           int   `json:"ignored"`
}

// FoundFile is one entry of found_files.json.
type FoundFile struct {
	Src        string     `json:"src"`
	Kind       Kind       `json:"kind"`
	MIMEType   string     `json:"mime_type,omitempty"`
	DateTag    string     `json:"date_tag,omitempty"`
	Date       string     `json:"date"`
	DateSource DateSource `json:"date_source,omitempty"`
	Sidecars   []string   `json:"sidecars"`
}

// Report collects records from concurrent workers and writes the run's
// bookkeeping files once at the end.
type Report struct {
	RunID         string
	Source        string
	Destination   string
	Policy        CollisionPolicy
	HashAlgorithm HashAlgorithm
	DryRun        bool
	Started       time.Time
	Finished      time.Time

	mu       sync.Mutex
	found    []FoundFile
	foundIdx map[string]int
	warnings []Warning
	ignored  int
	records  []Record
	errors   *ErrorStats
}

func NewReport(runID string) *Report {
	return &Report{
		RunID:    runID,
		Started:  time.Now(),
		foundIdx: make(map[string]int),
		errors:   NewErrorStats(),
	}
}

// SetDiscovery fills the found-files list from d.
func (r *Report) SetDiscovery(d *Discovery) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.found = make([]FoundFile, 0, len(d.Items))
	r.foundIdx = make(map[string]int, len(d.Items))
	for _, it := range d.Items {
		ff := FoundFile{Src: it.Path, Kind: it.Kind, Date: Date{}.String(), Sidecars: []string{}}
		for _, sc := range it.Sidecars {
			ff.Sidecars = append(ff.Sidecars, sc.Path)
		}
		r.foundIdx[it.Path] = len(r.found)
		r.found = append(r.found, ff)
	}
	r.warnings = append(r.warnings[:0], d.Warnings...)
	r.ignored = d.Ignored
}

// UpdateItem copies the resolved date and MIME type of it into the
// found-files list.
func (r *Report) UpdateItem(it *MediaItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.foundIdx[it.Path]
	if !ok {
		return
	}
	ff := &r.found[i]
	ff.MIMEType = it.MIMEType
	ff.DateTag = it.DateTag
	ff.Date = it.Date.String()
	ff.DateSource = it.DateSource
}

func (r *Report) Add(recs ...Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		if rec.Outcome == OutcomeError {
			r.errors.Add(&ProcessError{
				FilePath:    rec.Src,
				Category:    rec.ErrorCategory,
				Severity:    rec.ErrorSeverity,
				OriginalErr: errorString(rec.Error),
				Suggestion:  rec.ErrorSuggestion,
			})
		}
		r.records = append(r.records, rec)
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }

// Records returns the records sorted by source path.
func (r *Report) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]Record(nil), r.records...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Src < out[j].Src })
	return out
}

func (r *Report) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary()
}

func (r *Report) summary() Summary {
	s := Summary{
		Discovered: len(r.records),
		Warnings:   len(r.warnings),
		Ignored:    r.ignored,
	}
	for _, rec := range r.records {
		switch rec.Outcome {
		case OutcomeCopied:
			s.Copied++
		case OutcomeDuplicate:
			s.Duplicates++
		case OutcomeCollisionSkipped:
			s.CollisionsSkipped++
		case OutcomeCollisionRenamed:
			s.Renamed++
		case OutcomeCollisionConflicted:
			s.Conflicted++
		case OutcomeError:
			s.Errors++
		}
		if rec.Outcome.Placed() {
			s.BytesCopied += rec.Size
		}
	}
	return s
}

// ErrorReport is the per-category breakdown of failed files, empty when
// nothing failed.
func (r *Report) ErrorReport() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors.GenerateReport()
}

type reportFile struct {
	RunID           string          `json:"run_id"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	Source          string          `json:"source"`
	Destination     string          `json:"destination"`
	CollisionPolicy CollisionPolicy `json:"collision_policy"`
	HashAlgorithm   HashAlgorithm   `json:"hash_algorithm"`
	DryRun          bool            `json:"dry_run,omitempty"`
	Summary         Summary         `json:"summary"`
	Warnings        []Warning       `json:"warnings"`
	Records         []Record        `json:"records"`
}

// Write writes the report files into dir. collisions_applied.json is only
// written when a collision was renamed or redirected.
func (r *Report) Write(dir string) error {
	records := r.Records()

	r.mu.Lock()
	if r.Finished.IsZero() {
		r.Finished = time.Now()
	}
	rf := reportFile{
		RunID:           r.RunID,
		StartedAt:       r.Started,
		FinishedAt:      r.Finished,
		Source:          r.Source,
		Destination:     r.Destination,
		CollisionPolicy: r.Policy,
		HashAlgorithm:   r.HashAlgorithm,
		DryRun:          r.DryRun,
		Summary:         r.summary(),
		Warnings:        append([]Warning{}, r.warnings...),
		Records:         records,
	}
	found := append([]FoundFile(nil), r.found...)
	r.mu.Unlock()

	var dups, collisions, applied []Record
	for _, rec := range records {
		if rec.Outcome == OutcomeDuplicate {
			dups = append(dups, rec)
		}
		if rec.Occupant != "" {
			collisions = append(collisions, rec)
		}
		if rec.Outcome == OutcomeCollisionRenamed || rec.Outcome == OutcomeCollisionConflicted {
			applied = append(applied, rec)
		}
	}

	var txt strings.Builder
	for _, ff := range found {
		txt.WriteString(ff.Src)
		txt.WriteByte('\n')
	}
	if err := writeFileAtomic(dir, "found_files.txt", []byte(txt.String())); err != nil {
		return err
	}

	files := []struct {
		name string
		v    any
	}{
		{"found_files.json", nonNil(found)},
		{"report.json", rf},
		{"duplicates_skipped.json", nonNil(dups)},
		{"collisions.json", nonNil(collisions)},
	}
	if len(applied) > 0 {
		files = append(files, struct {
			name string
			v    any
		}{"collisions_applied.json", applied})
	}
	for _, f := range files {
		if err := writeJSON(dir, f.name, f.v); err != nil {
			return err
		}
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(dir, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(dir, name, append(data, '\n'))
}

// writeFileAtomic replaces dir/name through a same-directory temp file.
func writeFileAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+name+tempMarker+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name))
}
