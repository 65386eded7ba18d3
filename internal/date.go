package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
)

// Date is a calendar day; time of day is irrelevant for folder placement.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in its own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	if d.IsZero() {
		return "unknown"
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// DateSource records which link of the fallback chain produced a date.
type DateSource string

const (
	DateSourceMetadata DateSource = "metadata"
	DateSourceSidecar  DateSource = "sidecar"
	DateSourceMtime    DateSource = "mtime"
	DateSourceUnknown  DateSource = "unknown"
)

// Fields are the tag/value pairs a metadata tool reports for one file.
type Fields map[string]string

// MetadataTool extracts metadata fields for a single file. Implementations
// must return promptly once ctx is done.
type MetadataTool interface {
	Extract(ctx context.Context, path string) (Fields, error)
}

// CaptureTag is the field describing when the shutter fired.
const CaptureTag = "DateTimeOriginal"

// dateTagPriority lists the remaining date fields in order of trust.
var dateTagPriority = []string{
	"MediaCreateDate",
	"CreateDate",
	"TrackCreateDate",
	"DateTimeDigitized",
	"ModifyDate",
}

var metadataDateLayouts = []string{
	"2006:01:02 15:04:05Z07:00",
	"2006:01:02 15:04:05-0700",
	"2006:01:02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006:01:02",
}

// ParseMetadataDate parses the date formats metadata tools emit. The wall
// clock day of the value is kept, whatever its zone.
func ParseMetadataDate(s string) (Date, bool) {
	v := strings.TrimSpace(s)
	if v == "" || strings.HasPrefix(v, "0000") {
		return Date{}, false
	}
	// exiftool appends " DST" to some QuickTime values.
	v = strings.TrimSuffix(v, " DST")
	for _, layout := range metadataDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return DateOf(t), true
		}
	}
	return Date{}, false
}

// PickDate walks the metadata part of the fallback chain: the capture tag,
// then the known date tags, then any other embedded *Date field. File* tags
// describe the filesystem, not the content, and never count.
func PickDate(f Fields) (Date, string, bool) {
	if d, ok := ParseMetadataDate(f[CaptureTag]); ok {
		return d, CaptureTag, true
	}
	for _, tag := range dateTagPriority {
		if d, ok := ParseMetadataDate(f[tag]); ok {
			return d, tag, true
		}
	}

	var rest []string
	for tag := range f {
		if strings.HasSuffix(tag, "Date") && !strings.HasPrefix(tag, "File") {
			rest = append(rest, tag)
		}
	}
	sort.Strings(rest)
	for _, tag := range rest {
		if d, ok := ParseMetadataDate(f[tag]); ok {
			return d, tag, true
		}
	}
	return Date{}, "", false
}

// Resolution is the outcome of date resolution for one file.
type Resolution struct {
	Date     Date
	Source   DateSource
	Tag      string
	MIMEType string
}

type DateResolver struct {
	tool          MetadataTool
	timeout       time.Duration
	mtimeFallback bool
	log           logrus.FieldLogger
}

func NewDateResolver(tool MetadataTool, timeout time.Duration, mtimeFallback bool, log logrus.FieldLogger) *DateResolver {
	return &DateResolver{tool: tool, timeout: timeout, mtimeFallback: mtimeFallback, log: log}
}

// Resolve never fails: tool errors and timeouts degrade along the chain.
// sidecars are asked, in order, when the file itself carries no date.
func (r *DateResolver) Resolve(ctx context.Context, path string, modTime time.Time, sidecars ...string) Resolution {
	var res Resolution

	if r.tool != nil {
		fields, err := r.extract(ctx, path)
		if err != nil {
			r.log.WithField("src", path).WithError(err).Warn("metadata unavailable")
		} else {
			res.MIMEType = fields["MIMEType"]
			if d, tag, ok := PickDate(fields); ok {
				res.Date, res.Source, res.Tag = d, DateSourceMetadata, tag
			}
		}
	}

	if res.Date.IsZero() && r.tool != nil {
		for _, sc := range sidecars {
			fields, err := r.extract(ctx, sc)
			if err != nil {
				r.log.WithField("src", sc).WithError(err).Debug("sidecar metadata unavailable")
				continue
			}
			if d, tag, ok := PickDate(fields); ok {
				res.Date, res.Source, res.Tag = d, DateSourceSidecar, tag
				break
			}
		}
	}

	if res.MIMEType == "" {
		if m, err := mimetype.DetectFile(path); err == nil {
			res.MIMEType = m.String()
		}
	}

	if res.Date.IsZero() && r.mtimeFallback {
		if modTime.IsZero() {
			var err error
			if modTime, err = getFileModTime(path); err != nil {
				r.log.WithField("src", path).WithError(err).Warn("mtime unavailable")
			}
		}
		if !modTime.IsZero() {
			res.Date, res.Source = DateOf(modTime), DateSourceMtime
		}
	}

	if res.Date.IsZero() {
		res.Source = DateSourceUnknown
	}
	return res
}

func (r *DateResolver) extract(ctx context.Context, path string) (Fields, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	fields, err := r.tool.Extract(ctx, path)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("metadata timed out after %s: %w", r.timeout, err)
	}
	return fields, err
}

// getFileModTime fallback to file modification time
func getFileModTime(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}
