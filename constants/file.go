package constants

import "strings"

// Formats accepted at upload time.
const (
	IMAGE = "IMAGE"
	PDF   = "PDF"
)

// MaxUploadBytesDefault is the upload size ceiling.
const MaxUploadBytesDefault = 10 * 1024 * 1024

// RenderScaleDefault is the upscale factor used when a PDF page is rendered to an image.
const RenderScaleDefault = 2

// AllowedExtensions holds the accepted source extensions for the inbox and uploads.
var AllowedExtensions = map[string]string{
	"pdf":  PDF,
	"jpg":  IMAGE,
	"jpeg": IMAGE,
	"png":  IMAGE,
	"gif":  IMAGE,
	"bmp":  IMAGE,
	"tif":  IMAGE,
	"tiff": IMAGE,
	"webp": IMAGE,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat returns IMAGE, PDF or "" for unsupported extensions.
func MapExtToFormat(ext string) string {
	return AllowedExtensions[NormalizeExt(ext)]
}

// IsAllowedExt reports whether ext is accepted.
func IsAllowedExt(ext string) bool {
	return MapExtToFormat(ext) != ""
}

// MapContentTypeToFormat classifies an upload content type.
func MapContentTypeToFormat(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case ct == "application/pdf":
		return PDF
	case strings.HasPrefix(ct, "image/"):
		return IMAGE
	default:
		return ""
	}
}

// ExtForContentType picks a file extension for a stored upload.
func ExtForContentType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "application/pdf":
		return "pdf"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/bmp":
		return "bmp"
	case "image/tiff":
		return "tiff"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}
