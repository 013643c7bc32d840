// Package imaging identifies uploaded X-ray files and extracts the metadata
// stored alongside them.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatDICOM   Format = "dicom"
	FormatUnknown Format = "unknown"
)

var ErrUnsupportedFormat = errors.New("file is not a JPEG, PNG or DICOM image")

var (
	jpegMagic  = []byte{0xFF, 0xD8, 0xFF}
	pngMagic   = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	dicomMagic = []byte("DICM")
)

// dicomPreamble is the fixed-size preamble before the DICM marker.
const dicomPreamble = 128

// Sniff identifies the format from the first bytes of the file.
func Sniff(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, jpegMagic):
		return FormatJPEG
	case bytes.HasPrefix(head, pngMagic):
		return FormatPNG
	case len(head) >= dicomPreamble+4 && bytes.Equal(head[dicomPreamble:dicomPreamble+4], dicomMagic):
		return FormatDICOM
	}
	return FormatUnknown
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatDICOM:
		return "application/dicom"
	}
	return "application/octet-stream"
}

// DICOMMetadata holds the tags copied onto the X-ray record.
type DICOMMetadata struct {
	Modality         string `json:"modality,omitempty"`
	StudyInstanceUID string `json:"study_instance_uid,omitempty"`
	PatientID        string `json:"patient_id,omitempty"`
	BodyPartExamined string `json:"body_part_examined,omitempty"`
	ViewPosition     string `json:"view_position,omitempty"`
	StudyDate        string `json:"study_date,omitempty"`
}

// Info is what Inspect learns about an upload.
type Info struct {
	Format Format         `json:"format"`
	Width  int            `json:"width,omitempty"`
	Height int            `json:"height,omitempty"`
	DICOM  *DICOMMetadata `json:"dicom,omitempty"`
}

// Inspect sniffs data and reads its dimensions, plus the DICOM header for
// DICOM files. Pixel data is never decoded for DICOM.
func Inspect(data []byte) (*Info, error) {
	format := Sniff(data)
	switch format {
	case FormatJPEG, FormatPNG:
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode %s header: %w", format, err)
		}
		return &Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
	case FormatDICOM:
		return inspectDICOM(data)
	}
	return nil, ErrUnsupportedFormat
}

func inspectDICOM(data []byte) (*Info, error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("parse dicom: %w", err)
	}

	meta := &DICOMMetadata{
		Modality:         stringTag(&ds, tag.Modality),
		StudyInstanceUID: stringTag(&ds, tag.StudyInstanceUID),
		PatientID:        stringTag(&ds, tag.PatientID),
		BodyPartExamined: stringTag(&ds, tag.BodyPartExamined),
		ViewPosition:     strings.ToUpper(stringTag(&ds, tag.ViewPosition)),
		StudyDate:        stringTag(&ds, tag.StudyDate),
	}
	return &Info{
		Format: FormatDICOM,
		Width:  intTag(&ds, tag.Columns),
		Height: intTag(&ds, tag.Rows),
		DICOM:  meta,
	}, nil
}

func stringTag(ds *dicom.Dataset, t tag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return ""
	}
	if vals, ok := elem.Value.GetValue().([]string); ok && len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return strings.Trim(elem.Value.String(), " []")
}

func intTag(ds *dicom.Dataset, t tag.Tag) int {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return 0
	}
	if vals, ok := elem.Value.GetValue().([]int); ok && len(vals) > 0 {
		return vals[0]
	}
	return 0
}
