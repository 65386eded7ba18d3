package internal

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Kind is resolved once at discovery time from the file extension.
type Kind string

const (
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindRaw     Kind = "raw"
	KindSidecar Kind = "sidecar"
	KindOther   Kind = "other" // orphan sidecar
)

// ReportDirName is the run's bookkeeping directory under the destination.
const ReportDirName = ".trollskript"

type Sidecar struct {
	Path  string
	Owner string // path of the owning MediaItem
	Ext   string
	Size  int64
}

type MediaItem struct {
	Path     string
	Kind     Kind
	Size     int64
	ModTime  time.Time
	Sidecars []Sidecar

	// Filled in by a worker.
	Date        Date
	DateSource  DateSource
	DateTag     string
	MIMEType    string
	Fingerprint Fingerprint
}

// Warning is a non-fatal discovery problem.
type Warning struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

type Discovery struct {
	Root     string
	Items    []MediaItem
	Warnings []Warning
	Ignored  int
}

// FileCount counts every discovered file, sidecars included.
func (d *Discovery) FileCount() int {
	n := len(d.Items)
	for _, it := range d.Items {
		n += len(it.Sidecars)
	}
	return n
}

// Extensions classifies paths by lower-cased extension.
type Extensions struct {
	kinds map[string]Kind
}

func NewExtensions(cfg *Config) Extensions {
	e := Extensions{kinds: make(map[string]Kind)}
	add := func(k Kind, exts []string) {
		for _, ext := range normalizeExts(exts) {
			if _, ok := e.kinds[ext]; !ok {
				e.kinds[ext] = k
			}
		}
	}
	add(KindSidecar, cfg.SidecarExt)
	add(KindRaw, cfg.RawExt)
	add(KindVideo, cfg.VideoExt)
	add(KindImage, cfg.ImageExt)
	return e
}

// KindOf reports the kind for path, or false when the extension is not recognized.
func (e Extensions) KindOf(path string) (Kind, bool) {
	k, ok := e.kinds[strings.ToLower(filepath.Ext(path))]
	return k, ok
}

// Discover walks root and groups sidecars with their media files.
// Symlinks below root are never followed; root itself may be one. Directories in exclude, and any directory
// named ReportDirName, are skipped. Unreadable entries become warnings.
func Discover(root string, exts Extensions, exclude []string) (*Discovery, error) {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, &SetupError{Op: "source", Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &SetupError{Op: "source", Path: root, Err: fmt.Errorf("not a directory")}
	}

	excluded := make(map[string]bool, len(exclude))
	for _, p := range exclude {
		excluded[filepath.Clean(p)] = true
	}

	type found struct {
		path string
		kind Kind
		info fs.FileInfo
	}
	var (
		files []found
		d     = &Discovery{Root: root}
	)

	err = walkTree(root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			d.Warnings = append(d.Warnings, Warning{Path: path, Message: err.Error()})
			if de != nil && de.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if de.Type()&fs.ModeSymlink != 0 {
			d.Warnings = append(d.Warnings, Warning{Path: path, Message: "symlink skipped"})
			return nil
		}
		if de.IsDir() {
			if path != root && (excluded[path] || de.Name() == ReportDirName) {
				return fs.SkipDir
			}
			return nil
		}
		if !de.Type().IsRegular() {
			d.Ignored++
			return nil
		}

		kind, ok := exts.KindOf(path)
		if !ok {
			d.Ignored++
			return nil
		}

		fi, infoErr := de.Info()
		if infoErr != nil {
			d.Warnings = append(d.Warnings, Warning{Path: path, Message: infoErr.Error()})
			return nil
		}
		files = append(files, found{path: path, kind: kind, info: fi})
		return nil
	})
	if err != nil {
		return nil, &SetupError{Op: "source", Path: root, Err: err}
	}

	// WalkDir visits in lexical order, so the first media file seen for a
	// stem is the lexicographically smallest one.
	owners := make(map[string]int)
	for _, f := range files {
		if f.kind == KindSidecar {
			continue
		}
		key := stemKey(f.path)
		if _, ok := owners[key]; !ok {
			owners[key] = len(d.Items)
		}
		d.Items = append(d.Items, MediaItem{
			Path:    f.path,
			Kind:    f.kind,
			Size:    f.info.Size(),
			ModTime: f.info.ModTime(),
		})
	}

	for _, f := range files {
		if f.kind != KindSidecar {
			continue
		}
		if idx, ok := owners[stemKey(f.path)]; ok {
			owner := &d.Items[idx]
			owner.Sidecars = append(owner.Sidecars, Sidecar{
				Path:  f.path,
				Owner: owner.Path,
				Ext:   filepath.Ext(f.path),
				Size:  f.info.Size(),
			})
			continue
		}
		d.Items = append(d.Items, MediaItem{
			Path:    f.path,
			Kind:    KindOther,
			Size:    f.info.Size(),
			ModTime: f.info.ModTime(),
		})
	}

	sort.Slice(d.Items, func(i, j int) bool { return d.Items[i].Path < d.Items[j].Path })
	return d, nil
}

// walkTree is filepath.WalkDir that enters root even when root is a symlink
// to a directory. Paths passed to fn stay under root as given.
func walkTree(root string, fn fs.WalkDirFunc) error {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil || resolved == root {
		return filepath.WalkDir(root, fn)
	}
	return filepath.WalkDir(resolved, func(path string, de fs.DirEntry, err error) error {
		if rel, relErr := filepath.Rel(resolved, path); relErr == nil {
			path = filepath.Join(root, rel)
		}
		return fn(path, de, err)
	})
}

func stemKey(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// IsWithin reports whether path is root or lies below it.
func IsWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
