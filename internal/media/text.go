package media

import (
	"path/filepath"
	"strings"
	"unicode"
)

var imageExtensions = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true}

var videoExtensions = map[string]bool{"mp4": true, "mov": true, "avi": true, "webm": true}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"of": true, "with": true, "by": true, "from": true, "and": true, "or": true,
}

// Extension returns the lower-cased extension of filename without the dot.
func Extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// DetectMediaType maps a filename onto image or video. The extension decides;
// the content type is only consulted when the filename has none.
func DetectMediaType(filename, contentType string) (string, error) {
	ext := Extension(filename)
	if ext == "" {
		ct := strings.ToLower(contentType)
		switch {
		case strings.HasPrefix(ct, "image/"):
			ext = strings.TrimPrefix(ct, "image/")
		case strings.HasPrefix(ct, "video/"):
			ext = strings.TrimPrefix(ct, "video/")
			if ext == "quicktime" {
				ext = "mov"
			}
			if ext == "x-msvideo" {
				ext = "avi"
			}
		}
	}
	switch {
	case imageExtensions[ext]:
		return TypeImage, nil
	case videoExtensions[ext]:
		return TypeVideo, nil
	}
	return "", E("detect media type", ErrNonRetryableMedia, errUnsupportedExtension(filename))
}

type errUnsupportedExtension string

func (e errUnsupportedExtension) Error() string {
	return "file type not allowed: " + string(e)
}

// Tokenize lower-cases text, splits on anything that is not a letter or digit
// and drops stop words and single characters.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// CaptionTags derives tags from a caption: unique tokens longer than two characters.
func CaptionTags(caption string, confidence float64) Tags {
	tags := Tags{}
	for _, tok := range Tokenize(caption) {
		if len([]rune(tok)) > 2 {
			tags[tok] = confidence
		}
	}
	return tags
}
