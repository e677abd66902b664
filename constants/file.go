package constants

import "strings"

// AllowedExtensions holds the file extensions accepted for analysis.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
}

// ImageExtensions are the extensions produced by page rendering and image extraction.
var ImageExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
}

// Artifact file names written per analysis.
const (
	ArtifactMarkdown = "document.md"
	ArtifactEnriched = "enriched.md"
	ArtifactKIDJSON  = "kid.json"
	ArtifactDebug    = "debug_response.txt"
	ArtifactXML      = "key-info.xml"
	ArtifactSummary  = "resume.txt"
	ImagesDir        = "images"
)

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// AllowedExt reports whether ext (with or without dot) may be analyzed.
func AllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// IsImageExt reports whether ext names a raster image.
func IsImageExt(ext string) bool {
	_, ok := ImageExtensions[NormalizeExt(ext)]
	return ok
}
