package agent

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	dataURLPattern    = regexp.MustCompile(`(?i)data:image/([a-z]+);base64,([A-Za-z0-9+/=]+)`)
	bareBase64Pattern = regexp.MustCompile(`[A-Za-z0-9+/]{500,}={0,2}`)
	localFilePattern  = regexp.MustCompile(`([a-zA-Z0-9_-]+\.(png|jpg|jpeg|wav|mp4|mp3|obj|mov|avi|mkv|webm))`)
)

var (
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
)

// GeneratedPrefix is the filename prefix of images decoded from agent output.
const GeneratedPrefix = "generated_image_"

// scanToolResult persists embedded images found in one tool-result fragment
// and records the local file hint.
func (x *Extractor) scanToolResult(text string, resp *Response) {
	// Data URLs are handled first and blanked out so their payload is not
	// rediscovered by the bare base64 scan.
	rest := dataURLPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := dataURLPattern.FindStringSubmatch(m)
		data, err := decodeBase64(sub[2])
		if err != nil {
			x.logger.Debug("skipping undecodable data URL", "error", err)
			return " "
		}
		if name, err := x.save(data, strings.ToLower(sub[1])); err != nil {
			x.logger.Warn("failed to save data URL image", "error", err)
		} else {
			resp.SavedFiles = append(resp.SavedFiles, name)
		}
		return " "
	})

	for _, run := range bareBase64Pattern.FindAllString(rest, -1) {
		data, err := decodeBase64(run)
		if err != nil {
			continue
		}
		ext := sniffImage(data)
		if ext == "" {
			continue
		}
		name, err := x.save(data, ext)
		if err != nil {
			x.logger.Warn("failed to save base64 image", "error", err)
			continue
		}
		resp.SavedFiles = append(resp.SavedFiles, name)
	}

	if m := localFilePattern.FindAllStringSubmatch(rest, -1); len(m) > 0 {
		resp.LocalFileHint = m[len(m)-1][1]
	}
}

// sniffImage returns "png" or "jpg" when data starts with the matching magic
// number, or "" otherwise.
func sniffImage(data []byte) string {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return "png"
	case bytes.HasPrefix(data, jpegMagic):
		return "jpg"
	}
	return ""
}

// decodeBase64 decodes standard base64, tolerating missing padding and a
// dangling final character.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if len(s)%4 == 1 {
		s = s[:len(s)-1]
	}
	if s == "" {
		return nil, errors.New("empty base64 payload")
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// save writes data to a new uniquely named file and returns its base name.
func (x *Extractor) save(data []byte, ext string) (string, error) {
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(x.now().UTC().Format("2006-01-02T15:04:05.000Z"))
	name := fmt.Sprintf("%s%s.%s", GeneratedPrefix, stamp, ext)

	for i := 0; i < 3; i++ {
		path := filepath.Join(x.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			name = fmt.Sprintf("%s%s_%s.%s", GeneratedPrefix, stamp, uuid.NewString()[:8], ext)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", name, err)
		}
		// Partial files must not be left for the finder to upload.
		if _, err := x.write(f, data); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("writing %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("closing %s: %w", name, err)
		}
		x.logger.Info("saved generated image", "file", name, "bytes", len(data))
		return name, nil
	}
	return "", fmt.Errorf("could not allocate a unique name for %s", name)
}
