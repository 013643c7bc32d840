package blobstore

import (
	"fmt"
	"path"
	"strings"
)

// DefaultMaxUploadSize is the X-ray upload cap when none is configured.
const DefaultMaxUploadSize = 50 * 1024 * 1024

// AllowedContentTypes lists the accepted X-ray formats.
var AllowedContentTypes = map[string]bool{
	"image/jpeg":        true,
	"image/png":         true,
	"application/dicom": true,
	"image/dicom":       true,
}

var allowedExtensions = map[string]bool{
	".jpg":   true,
	".jpeg":  true,
	".png":   true,
	".dcm":   true,
	".dicom": true,
}

// ValidateUpload checks an upload's name, size and content type before any
// bytes are stored. A zero maxSize means DefaultMaxUploadSize.
func ValidateUpload(fileName, contentType string, size, maxSize int64) error {
	if strings.TrimSpace(fileName) == "" {
		return ErrMissingFileName
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	if size > maxSize {
		return fmt.Errorf("%w: %d bytes (max %d MB)", ErrFileTooLarge, size, maxSize/(1024*1024))
	}
	if size == 0 {
		return fmt.Errorf("file is empty")
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if !AllowedContentTypes[ct] {
		return fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}
	if ext := strings.ToLower(path.Ext(fileName)); !allowedExtensions[ext] {
		return fmt.Errorf("%w: extension %q", ErrInvalidContentType, ext)
	}
	return nil
}
