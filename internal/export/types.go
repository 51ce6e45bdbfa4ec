// Package export renders a completed interview's vision summary to PDF.
package export

import "errors"

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	// ArtifactURL is set when the PDF was also uploaded to object storage.
	ArtifactURL string
}

var (
	// ErrPDFDependencyMissing indicates the headless browser is unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
