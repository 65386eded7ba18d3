package internal

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rwcarlsen/goexif/exif"
)

// ExifDecoder reads EXIF dates in-process. It covers JPEG, TIFF and the
// TIFF-based RAW formats when exiftool is not installed.
type ExifDecoder struct{}

// exifTags maps EXIF field names onto the names exiftool reports.
var exifTags = []struct {
	field exif.FieldName
	tag   string
}{
	{exif.DateTimeOriginal, "DateTimeOriginal"},
	{exif.DateTimeDigitized, "DateTimeDigitized"},
	{exif.DateTime, "ModifyDate"},
}

func (ExifDecoder) Extract(ctx context.Context, path string) (Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("exif decode: %w", err)
	}

	fields := make(Fields)
	for _, t := range exifTags {
		tag, err := x.Get(t.field)
		if err != nil {
			continue
		}
		s, err := tag.StringVal()
		if err != nil || s == "" {
			continue
		}
		fields[t.tag] = s
	}
	return fields, nil
}

// ToolChain asks each tool in turn; the first one that answers wins.
type ToolChain []MetadataTool

func (c ToolChain) Extract(ctx context.Context, path string) (Fields, error) {
	var errs []error
	for _, tool := range c {
		if tool == nil {
			continue
		}
		fields, err := tool.Extract(ctx, path)
		if err == nil {
			return fields, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, ErrToolUnavailable
	}
	return nil, errors.Join(errs...)
}
