// Package media holds helpers for attachment payloads: MIME normalization,
// data URIs for vision requests and scoped temp files for transcription.
package media

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"relaybot/internal/domain"
)

// Kind is the routing class of a MIME type.
type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
	KindOther Kind = "other"
)

// BaseType strips parameters (e.g. "; codecs=opus") and lowercases the type.
func BaseType(mimeType string) string {
	mt := strings.TrimSpace(mimeType)
	if mt == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// Classify maps a MIME type to its routing class.
func Classify(mimeType string) Kind {
	base := BaseType(mimeType)
	switch {
	case strings.HasPrefix(base, "image/"):
		return KindImage
	case strings.HasPrefix(base, "audio/"):
		return KindAudio
	default:
		return KindOther
	}
}

// DataURI inlines the payload as base64 for vision requests.
func DataURI(m domain.Media) string {
	mt := BaseType(m.MimeType)
	if mt == "" {
		mt = "application/octet-stream"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(m.Data)
}

// common audio/image extensions the transcription APIs recognise; mime's
// table is platform dependent and often misses these.
var knownExtensions = map[string]string{
	"audio/ogg":       ".ogg",
	"audio/opus":      ".opus",
	"audio/mpeg":      ".mp3",
	"audio/mp3":       ".mp3",
	"audio/mp4":       ".m4a",
	"audio/m4a":       ".m4a",
	"audio/x-m4a":     ".m4a",
	"audio/aac":       ".aac",
	"audio/wav":       ".wav",
	"audio/x-wav":     ".wav",
	"audio/wave":      ".wav",
	"audio/webm":      ".webm",
	"audio/flac":      ".flac",
	"audio/amr":       ".amr",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"application/pdf": ".pdf",
}

var typesByExtension = map[string]string{
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".amr":  "audio/amr",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
}

// Extension returns a file extension for the MIME type, ".bin" when unknown.
func Extension(mimeType string) string {
	base := BaseType(mimeType)
	if ext, ok := knownExtensions[base]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// ByFilename returns the MIME type implied by the file extension, "" when unknown.
func ByFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return ""
	}
	if mt, ok := typesByExtension[ext]; ok {
		return mt
	}
	return BaseType(mime.TypeByExtension(ext))
}

// Detect returns the MIME type for a local file: extension first, then content sniffing.
func Detect(filename string, data []byte) string {
	if mt := ByFilename(filename); mt != "" {
		return mt
	}
	return BaseType(http.DetectContentType(data))
}

// Resolve picks the type of a downloaded payload. Servers often answer with
// application/octet-stream, in which case the declared type or the file
// itself decides.
func Resolve(served, declared, filename string, data []byte) string {
	if mt := BaseType(served); mt != "" && mt != "application/octet-stream" {
		return mt
	}
	if mt := BaseType(declared); mt != "" {
		return mt
	}
	return Detect(filename, data)
}

// Materialize writes the payload to a temp file in dir (os.TempDir when empty)
// with an extension derived from its MIME type. The returned cleanup removes
// the file and must be called on every path.
func Materialize(dir string, m domain.Media) (string, func(), error) {
	f, err := os.CreateTemp(dir, "relaybot-audio-*"+Extension(m.MimeType))
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }

	if _, err := f.Write(m.Data); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("close temp file: %w", err)
	}
	return path, cleanup, nil
}
