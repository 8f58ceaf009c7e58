// Package media classifies generated media files, finds the ones an agent
// run left behind, and removes stale leftovers.
package media

import (
	"path/filepath"
	"strings"
)

// Kind is a coarse media category.
type Kind int

const (
	KindOther Kind = iota
	KindImage
	KindVideo
	KindAudio
	KindModel
	KindArchive
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindModel:
		return "model"
	case KindArchive:
		return "archive"
	default:
		return "other"
	}
}

// Icon returns the emoji shown next to files of this kind.
func (k Kind) Icon() string {
	switch k {
	case KindImage:
		return "🖼️"
	case KindVideo:
		return "🎬"
	case KindAudio:
		return "🎵"
	case KindModel:
		return "🗿"
	case KindArchive:
		return "📦"
	default:
		return "📎"
	}
}

type extInfo struct {
	kind Kind
	mime string
}

var extensions = map[string]extInfo{
	".png":  {KindImage, "image/png"},
	".jpg":  {KindImage, "image/jpeg"},
	".jpeg": {KindImage, "image/jpeg"},
	".gif":  {KindImage, "image/gif"},
	".bmp":  {KindImage, "image/bmp"},
	".webp": {KindImage, "image/webp"},
	".svg":  {KindImage, "image/svg+xml"},
	".tiff": {KindImage, "image/tiff"},

	".mp4":  {KindVideo, "video/mp4"},
	".mov":  {KindVideo, "video/quicktime"},
	".avi":  {KindVideo, "video/x-msvideo"},
	".mkv":  {KindVideo, "video/x-matroska"},
	".webm": {KindVideo, "video/webm"},
	".flv":  {KindVideo, "video/x-flv"},
	".wmv":  {KindVideo, "video/x-ms-wmv"},
	".m4v":  {KindVideo, "video/x-m4v"},

	".mp3":  {KindAudio, "audio/mpeg"},
	".wav":  {KindAudio, "audio/wav"},
	".flac": {KindAudio, "audio/flac"},
	".aac":  {KindAudio, "audio/aac"},
	".ogg":  {KindAudio, "audio/ogg"},
	".m4a":  {KindAudio, "audio/x-m4a"},
	".wma":  {KindAudio, "audio/x-ms-wma"},

	".obj":   {KindModel, ""},
	".fbx":   {KindModel, ""},
	".gltf":  {KindModel, ""},
	".glb":   {KindModel, ""},
	".dae":   {KindModel, ""},
	".3ds":   {KindModel, ""},
	".blend": {KindModel, ""},
	".stl":   {KindModel, ""},

	".zip": {KindArchive, "application/zip"},
	".rar": {KindArchive, "application/x-rar-compressed"},
	".7z":  {KindArchive, "application/x-7z-compressed"},
	".tar": {KindArchive, "application/x-tar"},
	".gz":  {KindArchive, "application/gzip"},
}

// KindOf classifies a file name by extension, case-insensitively.
func KindOf(name string) Kind {
	return extensions[strings.ToLower(filepath.Ext(name))].kind
}

// IsMedia reports whether name has one of the deliverable extensions.
func IsMedia(name string) bool {
	_, ok := extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Icon returns the kind icon for name.
func Icon(name string) string {
	return KindOf(name).Icon()
}

// MimeType guesses the content type of name, falling back to
// application/octet-stream.
func MimeType(name string) string {
	if info := extensions[strings.ToLower(filepath.Ext(name))]; info.mime != "" {
		return info.mime
	}
	return "application/octet-stream"
}
