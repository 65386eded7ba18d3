package internal

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	UnknownDateDir = "unknown_date"
	ConflictsDir   = "conflicts"
)

// Planner computes canonical destinations under Root.
type Planner struct {
	Root      string
	TopFolder string
}

// Base is the output base: DEST, or DEST/<top-folder> when one is configured.
// Conflicts and reports live under it.
func (p Planner) Base() string {
	if p.TopFolder != "" {
		return filepath.Join(p.Root, p.TopFolder)
	}
	return p.Root
}

// Dir returns DEST/<top-folder> when a top folder is configured, otherwise
// DEST/YYYY/MM/DD or DEST/unknown_date.
func (p Planner) Dir(d Date) string {
	if p.TopFolder != "" {
		return p.Base()
	}
	if d.IsZero() {
		return filepath.Join(p.Root, UnknownDateDir)
	}
	return filepath.Join(p.Root,
		fmt.Sprintf("%04d", d.Year),
		fmt.Sprintf("%02d", d.Month),
		fmt.Sprintf("%02d", d.Day))
}

// ConflictsDir is where the conflicts policy places colliding groups.
func (p Planner) ConflictsDir() string {
	return filepath.Join(p.Base(), ConflictsDir)
}

// ReportDir is the bookkeeping directory under the output base.
func (p Planner) ReportDir() string {
	return filepath.Join(p.Base(), ReportDirName)
}

// Plan returns the group for item with its original file names. Orphan
// sidecars never carry a date and land in the unknown/top folder.
func (p Planner) Plan(item *MediaItem, sidecars []Sidecar) Group {
	date := item.Date
	if item.Kind == KindOther {
		date = Date{}
	}
	name := filepath.Base(item.Path)
	ext := filepath.Ext(name)

	g := Group{
		Dir:  p.Dir(date),
		Stem: strings.TrimSuffix(name, ext),
		Ext:  ext,
	}
	for _, sc := range sidecars {
		g.SidecarExts = append(g.SidecarExts, sc.Ext)
	}
	return g
}

// Group is a media file and its sidecars at one destination: all members
// share Dir and Stem and differ only by extension.
type Group struct {
	Dir         string
	Stem        string
	Ext         string
	SidecarExts []string
}

func (g Group) MediaPath() string {
	return filepath.Join(g.Dir, g.Stem+g.Ext)
}

func (g Group) SidecarPath(i int) string {
	return filepath.Join(g.Dir, g.Stem+g.SidecarExts[i])
}

// Paths lists the media path followed by every sidecar path.
func (g Group) Paths() []string {
	paths := make([]string, 0, 1+len(g.SidecarExts))
	paths = append(paths, g.MediaPath())
	for i := range g.SidecarExts {
		paths = append(paths, g.SidecarPath(i))
	}
	return paths
}

// Suffixed returns the n-th rename candidate: <stem>_<n><ext>. n == 0 is the
// group itself.
func (g Group) Suffixed(n int) Group {
	if n == 0 {
		return g
	}
	out := g
	out.Stem = fmt.Sprintf("%s_%d", g.Stem, n)
	return out
}

// In moves the group to dir, keeping names.
func (g Group) In(dir string) Group {
	out := g
	out.Dir = dir
	return out
}

// IsZero reports an unplanned group.
func (g Group) IsZero() bool {
	return g.Dir == "" && g.Stem == "" && g.Ext == ""
}
