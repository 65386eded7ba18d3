package internal

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Decision is what a claim decided for one group.
type Decision struct {
	Outcome Outcome
	Planned Group
	Final   Group // set only when the group is to be copied

	Existing string // duplicates: where the content already lives

	Occupant            string // collisions: the path that blocked Planned
	OccupantFingerprint Fingerprint
}

type occupant struct {
	fp    Fingerprint
	known bool
}

// Ledger holds the run's shared state: the dedup index (fingerprint to first
// destination) and destination occupancy. One mutex covers both so that
// "is this a duplicate", "which name is free" and "reserve it" form a
// single step.
type Ledger struct {
	mu   sync.Mutex
	cond *sync.Cond

	seen     map[Fingerprint]string
	pending  map[Fingerprint]bool
	occupied map[string]occupant
	reserved map[string]Fingerprint

	// probe fingerprints a file found on disk that the ledger has not seen.
	probe func(path string) (Fingerprint, bool)
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	l := &Ledger{
		seen:     make(map[Fingerprint]string),
		pending:  make(map[Fingerprint]bool),
		occupied: make(map[string]occupant),
		reserved: make(map[string]Fingerprint),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// SetProbe installs the function used to fingerprint unknown occupants.
// Without one, an unknown occupant always counts as different content.
func (l *Ledger) SetProbe(probe func(path string) (Fingerprint, bool)) {
	l.mu.Lock()
	l.probe = probe
	l.mu.Unlock()
}

// Lookup returns the first destination accepted for fp.
func (l *Ledger) Lookup(fp Fingerprint) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dest, ok := l.seen[fp]
	return dest, ok
}

// Record marks dest as occupied by fp and makes dest the first destination
// for fp unless one is already known.
func (l *Ledger) Record(fp Fingerprint, dest string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(fp, dest)
}

func (l *Ledger) record(fp Fingerprint, dest string) {
	if _, ok := l.seen[fp]; !ok {
		l.seen[fp] = dest
	}
	l.occupied[dest] = occupant{fp: fp, known: true}
}

// Len is the number of distinct fingerprints in the index.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Claim decides the fate of a group whose media content is fp, applying
// policy when the planned names are taken, and reserves the chosen paths.
// If another worker holds an open claim on fp, Claim waits for it to commit
// (the caller becomes a duplicate) or abort (the caller is re-evaluated).
// Likewise, planned names reserved by another open claim are waited on
// rather than treated as a collision.
func (l *Ledger) Claim(ctx context.Context, fp Fingerprint, planned Group, policy CollisionPolicy, conflictsDir string) (*Claim, error) {
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if l.pending[fp] {
			l.cond.Wait()
			continue
		}

		c, st, path := l.decide(fp, planned, policy, conflictsDir)
		if c == nil {
			if st == slotUnprobed {
				l.probeOccupant(path)
			} else {
				l.cond.Wait()
			}
			continue
		}

		if !c.Final.IsZero() {
			l.pending[fp] = true
			c.paths = c.Final.Paths()
			for _, p := range c.paths {
				l.reserved[p] = fp
			}
		}
		return c, nil
	}
}

// decide applies the dedup index and policy to planned. A nil claim means
// nothing could be decided yet: st is slotReserved when the planned names are
// held by an open claim, or slotUnprobed when path must be fingerprinted
// first. Must hold l.mu.
func (l *Ledger) decide(fp Fingerprint, planned Group, policy CollisionPolicy, conflictsDir string) (*Claim, slotState, string) {
	c := &Claim{l: l, fp: fp, Decision: Decision{Planned: planned}}
	if dest, ok := l.seen[fp]; ok {
		c.Outcome, c.Existing = OutcomeDuplicate, dest
		return c, slotSame, ""
	}

	st, blocker, blockerFP := l.check(fp, planned)
	switch st {
	case slotReserved, slotUnprobed:
		return nil, st, blocker
	case slotFree:
		c.Outcome, c.Final = OutcomeCopied, planned
		return c, st, ""
	case slotSame:
		c.Outcome, c.Existing = OutcomeDuplicate, blocker
		l.seen[fp] = blocker
		return c, st, ""
	}

	c.Occupant, c.OccupantFingerprint = blocker, blockerFP

	var base Group
	var first int
	switch policy {
	case PolicyRename:
		c.Outcome, base, first = OutcomeCollisionRenamed, planned, 1
	case PolicyConflicts:
		c.Outcome, base, first = OutcomeCollisionConflicted, planned.In(conflictsDir), 0
	default:
		c.Outcome = OutcomeCollisionSkipped
		return c, st, ""
	}

	for n := first; ; n++ {
		cand := base.Suffixed(n)
		st, blocker, _ := l.check(fp, cand)
		switch st {
		case slotUnprobed:
			return nil, st, blocker
		case slotSame:
			c.Outcome, c.Existing = OutcomeDuplicate, blocker
			l.seen[fp] = blocker
			return c, st, ""
		case slotFree:
			c.Final = cand
			return c, st, ""
		}
		// taken or reserved: next candidate
	}
}

type slotState int

const (
	slotFree slotState = iota
	slotSame           // the media path already holds this content
	slotTaken
	slotReserved // held by an open claim
	slotUnprobed // an on-disk file the ledger has not fingerprinted
)

// check reports whether every path of g is free. Must hold l.mu.
func (l *Ledger) check(fp Fingerprint, g Group) (slotState, string, Fingerprint) {
	for i, p := range g.Paths() {
		if _, ok := l.reserved[p]; ok {
			return slotReserved, p, Fingerprint{}
		}
		occ, ok := l.occupied[p]
		if !ok {
			if _, err := os.Lstat(p); err != nil {
				continue
			}
			if l.probe != nil {
				return slotUnprobed, p, Fingerprint{}
			}
			l.occupied[p] = occ
		}
		if i == 0 && occ.known && occ.fp == fp {
			return slotSame, p, occ.fp
		}
		return slotTaken, p, occ.fp
	}
	return slotFree, "", Fingerprint{}
}

// probeOccupant fingerprints the file at path with l.mu released. Must hold
// l.mu on entry.
func (l *Ledger) probeOccupant(path string) {
	probe := l.probe
	l.mu.Unlock()
	fp, ok := probe(path)
	l.mu.Lock()
	if _, known := l.occupied[path]; !known {
		l.occupied[path] = occupant{fp: fp, known: ok}
	}
}

// Claim is an open reservation. Exactly one of Commit or Abort must follow a
// claim whose Decision has a Final group; for other decisions both are no-ops.
type Claim struct {
	Decision

	l     *Ledger
	fp    Fingerprint
	paths []string
	done  bool
}

// Release gives up one reserved path, e.g. a sidecar that failed to copy.
func (c *Claim) Release(path string) {
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	for i, p := range c.paths {
		if p == path {
			delete(c.l.reserved, p)
			c.paths = append(c.paths[:i], c.paths[i+1:]...)
			return
		}
	}
}

// Commit makes the copy the canonical one for its content.
func (c *Claim) Commit() {
	c.finish(true)
}

// Abort releases the reservation so that waiting workers re-evaluate.
func (c *Claim) Abort() {
	c.finish(false)
}

func (c *Claim) finish(commit bool) {
	if c.Final.IsZero() {
		return
	}
	l := c.l
	l.mu.Lock()
	defer l.mu.Unlock()
	if c.done {
		return
	}
	c.done = true

	for _, p := range c.paths {
		delete(l.reserved, p)
		if commit {
			l.occupied[p] = occupant{}
		}
	}
	if commit {
		l.record(c.fp, c.Final.MediaPath())
	}
	delete(l.pending, c.fp)
	l.cond.Broadcast()
}

// IndexDestination fingerprints every file already under root so that
// content copied by earlier runs counts as seen. The bookkeeping directory
// and leftover temp files are ignored. Files that cannot be read stay
// occupied but unknown.
func (l *Ledger) IndexDestination(ctx context.Context, root string, hasher *Hasher, workers int, log logrus.FieldLogger) (int, error) {
	var paths []string
	err := walkTree(root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			log.WithField("path", path).WithError(err).Warn("cannot index destination entry")
			if de != nil && de.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if de.IsDir() {
			if path != root && de.Name() == ReportDirName {
				return fs.SkipDir
			}
			return nil
		}
		if !de.Type().IsRegular() || isTempName(de.Name()) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return 0, err
	}

	fps := make([]Fingerprint, len(paths))
	ok := make([]bool, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, p := range paths {
		g.Go(func() error {
			fp, _, err := hasher.HashFile(gctx, p)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.WithField("path", p).WithError(err).Warn("cannot fingerprint existing file")
				return nil
			}
			fps[i], ok[i] = fp, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	// WalkDir visits in lexical order, so the first copy of any content
	// becomes canonical.
	l.mu.Lock()
	defer l.mu.Unlock()
	indexed := 0
	for i, p := range paths {
		if !ok[i] {
			l.occupied[p] = occupant{}
			continue
		}
		l.record(fps[i], p)
		indexed++
	}
	return indexed, nil
}
