package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ImportSession runs one import of Config.Source into Config.Dest.
type ImportSession struct {
	ID string // run id, also written to report.json

	cfg     *Config
	log     logrus.FieldLogger
	planner Planner
	exts    Extensions
	policy  CollisionPolicy
	ledger  *Ledger
	hasher  *Hasher
	copier  *Copier
	dates   *DateResolver
	report  *Report

	// OnDiscovered receives the number of files found, sidecars included.
	OnDiscovered func(files int)
	// OnProgress is called after each item with the number of files it accounted for.
	OnProgress func(files int)
}

// NewImportSession validates the destination side of cfg and prepares the
// output base and report directory. cfg must have passed Validate.
func NewImportSession(cfg *Config, tool MetadataTool, log logrus.FieldLogger) (*ImportSession, error) {
	algo, err := ParseHashAlgorithm(cfg.HashAlgorithm)
	if err != nil {
		return nil, &SetupError{Op: "hash algorithm", Err: err}
	}
	hasher, err := NewHasher(algo)
	if err != nil {
		return nil, &SetupError{Op: "hash algorithm", Err: err}
	}
	policy, err := ParseCollisionPolicy(cfg.CollisionPolicy)
	if err != nil {
		return nil, &SetupError{Op: "collision policy", Err: err}
	}

	planner := Planner{Root: cfg.Dest, TopFolder: cfg.TopFolder}
	if !cfg.DryRun {
		if err := prepareOutput(planner); err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()
	log = log.WithField("run", id)

	ledger := NewLedger()
	ledger.SetProbe(func(path string) (Fingerprint, bool) {
		fp, _, err := hasher.HashFile(context.Background(), path)
		if err != nil {
			log.WithField("path", path).WithError(err).Warn("cannot fingerprint destination occupant")
			return Fingerprint{}, false
		}
		return fp, true
	})

	report := NewReport(id)
	report.Source = cfg.Source
	report.Destination = planner.Base()
	report.Policy = policy
	report.HashAlgorithm = algo
	report.DryRun = cfg.DryRun

	return &ImportSession{
		ID:      id,
		cfg:     cfg,
		log:     log,
		planner: planner,
		exts:    NewExtensions(cfg),
		policy:  policy,
		ledger:  ledger,
		hasher:  hasher,
		copier:  NewCopier(hasher, cfg.Verify),
		dates:   NewDateResolver(tool, cfg.MetadataTimeout, cfg.MtimeFallback, log),
		report:  report,
	}, nil
}

// prepareOutput creates the output base and checks the report directory is
// writable before any file is touched.
func prepareOutput(p Planner) error {
	if err := os.MkdirAll(p.Base(), 0o755); err != nil {
		return &SetupError{Op: "create destination", Path: p.Base(), Err: err}
	}
	dir := p.ReportDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &SetupError{Op: "create report directory", Path: dir, Err: err}
	}
	probe, err := os.CreateTemp(dir, ".write-probe"+tempMarker+"*")
	if err != nil {
		return &SetupError{Op: "write report directory", Path: dir, Err: err}
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// Planner returns the destination layout used by the session.
func (s *ImportSession) Planner() Planner { return s.planner }

// Report returns the run's report, filled in as items complete.
func (s *ImportSession) Report() *Report { return s.report }

// Run discovers, processes and reports. Per-file failures end up in the
// report; only setup problems are returned. When ctx is canceled the items
// not yet processed are recorded as canceled and the reports are still
// written.
func (s *ImportSession) Run(ctx context.Context) (*Report, error) {
	base := s.planner.Base()

	var exclude []string
	if IsWithin(base, s.cfg.Source) {
		exclude = append(exclude, base)
	}
	disc, err := Discover(s.cfg.Source, s.exts, exclude)
	if err != nil {
		return nil, err
	}
	s.report.SetDiscovery(disc)
	for _, w := range disc.Warnings {
		s.log.WithField("path", w.Path).Warn(w.Message)
	}
	s.log.WithFields(logrus.Fields{
		"items":   len(disc.Items),
		"files":   disc.FileCount(),
		"ignored": disc.Ignored,
	}).Info("discovery finished")
	if s.OnDiscovered != nil {
		s.OnDiscovered(disc.FileCount())
	}

	if s.cfg.IndexDest {
		n, err := s.ledger.IndexDestination(ctx, base, s.hasher, s.cfg.Workers, s.log)
		switch {
		case err == nil:
			s.log.WithField("files", n).Info("destination indexed")
		case ctx.Err() == nil:
			return nil, &SetupError{Op: "index destination", Path: base, Err: err}
		}
	}

	done := make([]bool, len(disc.Items))
	var g errgroup.Group
	g.SetLimit(max(s.cfg.Workers, 1))
	for i := range disc.Items {
		if ctx.Err() != nil {
			break
		}
		item := &disc.Items[i]
		g.Go(func() error {
			s.processItem(ctx, item)
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()

	for i := range disc.Items {
		if done[i] {
			continue
		}
		cause := ctx.Err()
		if cause == nil {
			cause = context.Canceled
		}
		s.finish(s.failAll(&disc.Items[i], disc.Items[i].Sidecars, cause)...)
	}

	sum := s.report.Summary()
	s.log.WithFields(logrus.Fields{
		"copied":     sum.Copied,
		"duplicates": sum.Duplicates,
		"skipped":    sum.CollisionsSkipped,
		"renamed":    sum.Renamed,
		"conflicted": sum.Conflicted,
		"errors":     sum.Errors,
	}).Info("import finished")

	if !s.cfg.DryRun {
		if err := s.report.Write(s.planner.ReportDir()); err != nil {
			return s.report, fmt.Errorf("write report: %w", err)
		}
	}
	return s.report, nil
}

// processItem takes one group from metadata to committed copy. Every file of
// the group gets exactly one record.
func (s *ImportSession) processItem(ctx context.Context, item *MediaItem) {
	if item.Kind == KindOther {
		item.DateSource = DateSourceUnknown
	} else {
		var scPaths []string
		for _, sc := range item.Sidecars {
			scPaths = append(scPaths, sc.Path)
		}
		res := s.dates.Resolve(ctx, item.Path, item.ModTime, scPaths...)
		item.Date, item.DateSource, item.DateTag, item.MIMEType = res.Date, res.Source, res.Tag, res.MIMEType
	}
	s.report.UpdateItem(item)

	fp, _, err := s.hasher.HashFile(ctx, item.Path)
	if err != nil {
		s.finish(s.failAll(item, item.Sidecars, err)...)
		return
	}
	item.Fingerprint = fp

	var (
		sidecars []Sidecar
		scFPs    []Fingerprint
		recs     []Record
	)
	for _, sc := range item.Sidecars {
		sfp, _, err := s.hasher.HashFile(ctx, sc.Path)
		if err != nil {
			rec := s.sidecarRecord(item, sc)
			rec.Fail(err)
			recs = append(recs, rec)
			continue
		}
		sidecars = append(sidecars, sc)
		scFPs = append(scFPs, sfp)
	}

	planned := s.planner.Plan(item, sidecars)
	claim, err := s.ledger.Claim(ctx, fp, planned, s.policy, s.planner.ConflictsDir())
	if err != nil {
		recs = append(recs, s.failAll(item, sidecars, err)...)
		s.finish(recs...)
		return
	}

	media := s.mediaRecord(item)
	media.PlannedDst = planned.MediaPath()
	media.Outcome = claim.Outcome
	media.Existing = claim.Existing
	media.Occupant = claim.Occupant
	if !claim.OccupantFingerprint.IsZero() {
		media.OccupantHash = claim.OccupantFingerprint.String()
	}

	if claim.Outcome == OutcomeDuplicate {
		recs = append(recs, media)
		for i, sc := range sidecars {
			recs = append(recs, s.placeBeside(ctx, item, sc, scFPs[i], claim.Existing))
		}
		s.finish(recs...)
		return
	}

	scRecs := make([]Record, len(sidecars))
	for i, sc := range sidecars {
		scRecs[i] = s.sidecarRecord(item, sc)
		scRecs[i].Hash = scFPs[i].String()
		scRecs[i].PlannedDst = planned.SidecarPath(i)
		scRecs[i].Outcome = claim.Outcome
	}

	if claim.Final.IsZero() {
		s.finish(append(append(recs, media), scRecs...)...)
		return
	}

	final := claim.Final
	if err := s.copy(ctx, item.Path, final.MediaPath(), fp); err != nil {
		claim.Abort()
		media.Fail(err)
		for i := range scRecs {
			scRecs[i].Fail(fmt.Errorf("owner %s not copied: %w", item.Path, err))
		}
		s.finish(append(append(recs, media), scRecs...)...)
		return
	}
	media.Dst = final.MediaPath()

	for i, sc := range sidecars {
		dst := final.SidecarPath(i)
		if err := s.copy(ctx, sc.Path, dst, scFPs[i]); err != nil {
			claim.Release(dst)
			scRecs[i].Fail(err)
			continue
		}
		scRecs[i].Dst = dst
	}
	claim.Commit()

	for i := range scRecs {
		if scRecs[i].Outcome != OutcomeError {
			s.ledger.Record(scFPs[i], scRecs[i].Dst)
		}
	}
	s.finish(append(append(recs, media), scRecs...)...)
}

// placeBeside handles a sidecar whose media file is a duplicate of existing.
// The sidecar is deduplicated by its own content; new content is placed next
// to existing under the session's collision policy.
func (s *ImportSession) placeBeside(ctx context.Context, item *MediaItem, sc Sidecar, fp Fingerprint, existing string) Record {
	rec := s.sidecarRecord(item, sc)
	rec.Hash = fp.String()

	base := filepath.Base(existing)
	planned := Group{
		Dir:  filepath.Dir(existing),
		Stem: strings.TrimSuffix(base, filepath.Ext(base)),
		Ext:  sc.Ext,
	}
	rec.PlannedDst = planned.MediaPath()

	claim, err := s.ledger.Claim(ctx, fp, planned, s.policy, s.planner.ConflictsDir())
	if err != nil {
		rec.Fail(err)
		return rec
	}
	rec.Outcome = claim.Outcome
	rec.Existing = claim.Existing
	rec.Occupant = claim.Occupant
	if !claim.OccupantFingerprint.IsZero() {
		rec.OccupantHash = claim.OccupantFingerprint.String()
	}
	if claim.Final.IsZero() {
		return rec
	}

	dst := claim.Final.MediaPath()
	if err := s.copy(ctx, sc.Path, dst, fp); err != nil {
		claim.Abort()
		rec.Fail(err)
		return rec
	}
	claim.Commit()
	rec.Dst = dst
	return rec
}

func (s *ImportSession) copy(ctx context.Context, src, dst string, fp Fingerprint) error {
	if s.cfg.DryRun {
		return ctx.Err()
	}
	_, err := s.copier.Copy(ctx, src, dst, fp)
	return err
}

func (s *ImportSession) mediaRecord(item *MediaItem) Record {
	rec := Record{
		Src:        item.Path,
		Kind:       item.Kind,
		Date:       item.Date.String(),
		DateSource: item.DateSource,
		Size:       item.Size,
	}
	if !item.Fingerprint.IsZero() {
		rec.Hash = item.Fingerprint.String()
	}
	return rec
}

func (s *ImportSession) sidecarRecord(item *MediaItem, sc Sidecar) Record {
	return Record{
		Src:        sc.Path,
		Kind:       KindSidecar,
		Owner:      item.Path,
		Date:       item.Date.String(),
		DateSource: item.DateSource,
		Size:       sc.Size,
	}
}

// failAll records err for the item and the given sidecars.
func (s *ImportSession) failAll(item *MediaItem, sidecars []Sidecar, err error) []Record {
	media := s.mediaRecord(item)
	media.Fail(err)
	recs := []Record{media}
	for _, sc := range sidecars {
		rec := s.sidecarRecord(item, sc)
		rec.Fail(fmt.Errorf("owner %s: %w", item.Path, err))
		recs = append(recs, rec)
	}
	return recs
}

func (s *ImportSession) finish(recs ...Record) {
	s.report.Add(recs...)
	for _, rec := range recs {
		entry := s.log.WithFields(logrus.Fields{
			"src":     rec.Src,
			"dst":     rec.Dst,
			"outcome": rec.Outcome,
		})
		switch {
		case rec.Outcome == OutcomeError:
			entry.WithField("category", rec.ErrorCategory).Warn(rec.Error)
		case rec.Kind == KindSidecar:
			entry.Debug("sidecar done")
		case rec.Outcome.Placed():
			entry.Info("copied")
		default:
			entry.Info("skipped")
		}
	}
	if s.OnProgress != nil {
		s.OnProgress(len(recs))
	}
}
