package blobstore

import (
	"errors"
	"testing"
)

func TestValidateUpload(t *testing.T) {
	tests := []struct {
		name        string
		fileName    string
		contentType string
		size        int64
		maxSize     int64
		wantErr     error
		ok          bool
	}{
		{"jpeg", "chest.jpg", "image/jpeg", 1024, 0, nil, true},
		{"png with params", "chest.PNG", "image/png; charset=binary", 1024, 0, nil, true},
		{"dicom", "study.dcm", "application/dicom", 1024, 0, nil, true},
		{"missing name", " ", "image/png", 1, 0, ErrMissingFileName, false},
		{"too large default", "a.png", "image/png", DefaultMaxUploadSize + 1, 0, ErrFileTooLarge, false},
		{"too large custom", "a.png", "image/png", 11, 10, ErrFileTooLarge, false},
		{"empty", "a.png", "image/png", 0, 0, nil, false},
		{"pdf", "a.pdf", "application/pdf", 10, 0, ErrInvalidContentType, false},
		{"png type with exe extension", "a.exe", "image/png", 10, 0, ErrInvalidContentType, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpload(tt.fileName, tt.contentType, tt.size, tt.maxSize)
			if tt.ok {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
