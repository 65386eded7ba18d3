package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/barasher/go-exiftool"
	"github.com/sirupsen/logrus"
)

// ExifTool runs up to size long-lived exiftool processes (-stay_open), one
// per concurrent caller. A process whose call outlives its context is
// retired in the background and replaced on demand.
type ExifTool struct {
	opts []func(*exiftool.Exiftool) error
	sem  chan struct{}
	idle chan *exiftool.Exiftool
	log  logrus.FieldLogger

	mu     sync.Mutex
	closed bool
}

// NewExifTool starts one process up front so a missing binary is reported
// immediately as ErrToolUnavailable.
func NewExifTool(binPath string, size int, log logrus.FieldLogger) (*ExifTool, error) {
	if size < 1 {
		size = 1
	}
	opts := []func(*exiftool.Exiftool) error{exiftool.Charset("filename=utf8")}
	if binPath != "" {
		opts = append(opts, exiftool.SetExiftoolBinaryPath(binPath))
	}

	et := &ExifTool{
		opts: opts,
		sem:  make(chan struct{}, size),
		idle: make(chan *exiftool.Exiftool, size),
		log:  log,
	}
	first, err := exiftool.NewExiftool(et.opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	et.idle <- first
	return et, nil
}

func (e *ExifTool) Extract(ctx context.Context, path string) (Fields, error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.sem }()

	proc, err := e.acquire()
	if err != nil {
		return nil, err
	}

	done := make(chan exiftool.FileMetadata, 1)
	go func() {
		done <- proc.ExtractMetadata(path)[0]
	}()

	select {
	case fm := <-done:
		e.release(proc)
		if fm.Err != nil {
			return nil, fmt.Errorf("exiftool %s: %w", path, fm.Err)
		}
		return toFields(fm), nil
	case <-ctx.Done():
		e.retire(proc, done)
		return nil, ctx.Err()
	}
}

func (e *ExifTool) acquire() (*exiftool.Exiftool, error) {
	select {
	case p := <-e.idle:
		return p, nil
	default:
	}
	p, err := exiftool.NewExiftool(e.opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	return p, nil
}

func (e *ExifTool) release(p *exiftool.Exiftool) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		_ = p.Close()
		return
	}
	select {
	case e.idle <- p:
	default:
		_ = p.Close()
	}
}

// retire waits for the stuck call to come back before closing the process;
// exiftool reads commands sequentially, so Close would queue behind it.
func (e *ExifTool) retire(p *exiftool.Exiftool, done <-chan exiftool.FileMetadata) {
	go func() {
		<-done
		if err := p.Close(); err != nil {
			e.log.WithError(err).Debug("closing retired exiftool")
		}
	}()
}

// Close stops idle processes. Retired processes are not waited for: a call
// stuck on a broken file must not block shutdown.
func (e *ExifTool) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	var errs []error
	for {
		select {
		case p := <-e.idle:
			if err := p.Close(); err != nil {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}

func toFields(fm exiftool.FileMetadata) Fields {
	fields := make(Fields, len(fm.Fields))
	for k, v := range fm.Fields {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			fields[k] = s
			continue
		}
		fields[k] = fmt.Sprint(v)
	}
	return fields
}

// NewMetadataTool assembles the extraction chain from cfg: exiftool when
// enabled and installed, then the in-process EXIF decoder. The returned
// closer stops any exiftool processes.
func NewMetadataTool(cfg *Config, log logrus.FieldLogger) (MetadataTool, io.Closer) {
	var chain ToolChain
	var closer io.Closer = nopCloser{}

	if cfg.UseExifTool {
		et, err := NewExifTool(cfg.ExifToolPath, cfg.Workers, log)
		if err != nil {
			log.WithError(err).Warn("exiftool not found, using built-in EXIF reader (videos will fall back further)")
		} else {
			chain = append(chain, et)
			closer = et
		}
	}
	chain = append(chain, ExifDecoder{})
	return chain, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
