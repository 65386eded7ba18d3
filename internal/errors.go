package internal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"syscall"
)

var (
	// ErrDestinationExists is returned when the final path appeared between
	// reservation and publish. The copy never overwrites.
	ErrDestinationExists = errors.New("destination file already exists")

	// ErrHashMismatch means the bytes written differ from the source fingerprint.
	ErrHashMismatch = errors.New("hash mismatch")

	// ErrToolUnavailable is returned by metadata tools that cannot run at all.
	ErrToolUnavailable = errors.New("metadata tool unavailable")
)

// SetupError aborts a run before any file is processed.
type SetupError struct {
	Op   string
	Path string
	Err  error
}

func (e *SetupError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("setup %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("setup %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// ErrorCategory represents the type of error encountered
type ErrorCategory string

const (
	ErrorCategoryIO       ErrorCategory = "io_error"       // File system, permissions, disk space
	ErrorCategoryHash     ErrorCategory = "hash_mismatch"  // Corruption during copy
	ErrorCategoryMetadata ErrorCategory = "metadata_error" // Metadata extraction failed
	ErrorCategoryCanceled ErrorCategory = "canceled"       // Run interrupted before the file finished
	ErrorCategoryUnknown  ErrorCategory = "unknown_error"
)

// ErrorSeverity indicates how critical the error is
type ErrorSeverity string

const (
	ErrorSeverityCritical ErrorSeverity = "critical" // System-level issues (disk full, permissions)
	ErrorSeverityError    ErrorSeverity = "error"    // File-level issues (corruption, unreadable)
	ErrorSeverityWarning  ErrorSeverity = "warning"  // Recoverable issues
)

// ProcessError is a per-file error with a category, severity and a hint for the user.
type ProcessError struct {
	FilePath    string
	Category    ErrorCategory
	Severity    ErrorSeverity
	OriginalErr error
	Suggestion  string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", e.Severity, e.Category, e.FilePath, e.OriginalErr)
}

func (e *ProcessError) Unwrap() error { return e.OriginalErr }

// CategorizeError classifies err, preferring wrapped sentinel values and
// falling back to the message text for errors that lost their type.
func CategorizeError(filePath string, err error) *ProcessError {
	if err == nil {
		return nil
	}

	pe := &ProcessError{FilePath: filePath, OriginalErr: err}
	set := func(c ErrorCategory, s ErrorSeverity, hint string) *ProcessError {
		pe.Category, pe.Severity, pe.Suggestion = c, s, hint
		return pe
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return set(ErrorCategoryCanceled, ErrorSeverityWarning, "Run was interrupted - rerun to pick up this file")
	case errors.Is(err, ErrHashMismatch):
		return set(ErrorCategoryHash, ErrorSeverityError, "Data corruption detected during copy - check disk health")
	case errors.Is(err, syscall.ENOSPC):
		return set(ErrorCategoryIO, ErrorSeverityCritical, "Free up disk space on the destination drive and rerun")
	case errors.Is(err, syscall.EROFS):
		return set(ErrorCategoryIO, ErrorSeverityCritical, "Destination filesystem is read-only - check mount options")
	case errors.Is(err, syscall.EMFILE):
		return set(ErrorCategoryIO, ErrorSeverityCritical, "File descriptor limit reached - lower --workers or raise ulimit")
	case errors.Is(err, fs.ErrPermission):
		return set(ErrorCategoryIO, ErrorSeverityCritical, "Check file permissions on both source and destination directories")
	case errors.Is(err, syscall.EIO):
		return set(ErrorCategoryIO, ErrorSeverityError, "I/O error - check disk health with SMART tools")
	case errors.Is(err, fs.ErrNotExist):
		return set(ErrorCategoryIO, ErrorSeverityError, "Source file disappeared during the run - check if the card was removed")
	case errors.Is(err, ErrDestinationExists):
		return set(ErrorCategoryIO, ErrorSeverityError, "Another process wrote into the destination - rerun to place this file")
	case errors.Is(err, ErrToolUnavailable):
		return set(ErrorCategoryMetadata, ErrorSeverityWarning, "Install exiftool for better date detection")
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no space left"):
		return set(ErrorCategoryIO, ErrorSeverityCritical, "Free up disk space on the destination drive and rerun")
	case strings.Contains(msg, "permission denied"):
		return set(ErrorCategoryIO, ErrorSeverityCritical, "Check file permissions on both source and destination directories")
	case strings.Contains(msg, "hash mismatch"):
		return set(ErrorCategoryHash, ErrorSeverityError, "Data corruption detected during copy - check disk health")
	case strings.Contains(msg, "input/output error"):
		return set(ErrorCategoryIO, ErrorSeverityError, "I/O error - check disk health with SMART tools")
	case strings.Contains(msg, "exif") || strings.Contains(msg, "metadata"):
		return set(ErrorCategoryMetadata, ErrorSeverityWarning, "Metadata could not be extracted")
	}
	return set(ErrorCategoryUnknown, ErrorSeverityError, "Unexpected error - check trollskript.log for details")
}

// ErrorStats aggregates per-file errors for the end-of-run summary.
type ErrorStats struct {
	Total      int
	Critical   int
	Errors     int
	Warnings   int
	ByCategory map[ErrorCategory]int
	LastErrors []*ProcessError // Last 5 errors for quick diagnosis
}

func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ByCategory: make(map[ErrorCategory]int),
		LastErrors: make([]*ProcessError, 0, 5),
	}
}

func (s *ErrorStats) Add(err *ProcessError) {
	s.Total++
	s.ByCategory[err.Category]++

	switch err.Severity {
	case ErrorSeverityCritical:
		s.Critical++
	case ErrorSeverityError:
		s.Errors++
	case ErrorSeverityWarning:
		s.Warnings++
	}

	if len(s.LastErrors) >= 5 {
		s.LastErrors = s.LastErrors[1:]
	}
	s.LastErrors = append(s.LastErrors, err)
}

// GenerateReport creates a human-readable error report
func (s *ErrorStats) GenerateReport() string {
	if s.Total == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d file(s) failed:\n", s.Total)
	if s.Critical > 0 {
		fmt.Fprintf(&b, "  critical: %d (system-level issues)\n", s.Critical)
	}
	if s.Errors > 0 {
		fmt.Fprintf(&b, "  errors:   %d (file-level issues)\n", s.Errors)
	}
	if s.Warnings > 0 {
		fmt.Fprintf(&b, "  warnings: %d (recoverable issues)\n", s.Warnings)
	}

	cats := make([]string, 0, len(s.ByCategory))
	for c := range s.ByCategory {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)
	b.WriteString("Error categories:\n")
	for _, c := range cats {
		fmt.Fprintf(&b, "  - %s: %d\n", c, s.ByCategory[ErrorCategory(c)])
	}

	b.WriteString("Recent errors:\n")
	for i, err := range s.LastErrors {
		fmt.Fprintf(&b, "%d. %s\n", i+1, err.FilePath)
		fmt.Fprintf(&b, "   %v\n", err.OriginalErr)
		if err.Suggestion != "" {
			fmt.Fprintf(&b, "   suggestion: %s\n", err.Suggestion)
		}
	}
	return b.String()
}
