package constants

import (
	"mime"
	"path"
	"strings"
)

// Blob buckets used by the pipeline.
const (
	InvoiceBucket  = "invoice-audits"
	DocumentBucket = "contract-documents"
)

// DefaultDocumentMediaType is assumed when an upload carries no usable content type.
const DefaultDocumentMediaType = "application/pdf"

// AllowedExtensions holds the file extensions accepted for contract documents.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MediaTypeFor picks the media type sent to the model for a stored document.
// An explicit content type wins unless it is generic; otherwise the extension decides.
func MediaTypeFor(fileName, contentType string) string {
	ct := strings.TrimSpace(contentType)
	if ct != "" && ct != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			return mt
		}
	}
	if mt := mime.TypeByExtension("." + NormalizeExt(path.Ext(fileName))); mt != "" {
		if base, _, err := mime.ParseMediaType(mt); err == nil {
			return base
		}
	}
	return DefaultDocumentMediaType
}
