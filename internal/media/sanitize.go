package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/gotd/td/tg"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultFilename = "file"
	maxFilenameLen  = 180
	illegalChars    = `<>:"/\|?*`
)

// SanitizeFilename replaces characters illegal on common filesystems and
// control characters with "_", trims surrounding whitespace and dots, and
// falls back to "file" when nothing is left.
func SanitizeFilename(name string) string {
	name = norm.NFC.String(name)

	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(illegalChars, r) || unicode.IsControl(r) {
			return '_'
		}

		return r
	}, name)

	name = strings.Trim(strings.TrimSpace(name), ".")
	name = strings.TrimSpace(name)

	if name == "" || strings.Trim(name, "_") == "" {
		return defaultFilename
	}

	if r := []rune(name); len(r) > maxFilenameLen {
		ext := filepath.Ext(name)
		if len([]rune(ext)) >= maxFilenameLen {
			ext = ""
		}

		name = string(r[:maxFilenameLen-len([]rune(ext))]) + ext
	}

	return name
}

// FilenameHint is the document file name, or "<abs(chat)>_<id>" when the
// message has none.
func FilenameHint(msg *tg.Message, chatID int64) string {
	if doc, ok := Document(msg); ok {
		if name := documentFilename(doc); name != "" {
			return name
		}
	}

	if chatID < 0 {
		chatID = -chatID
	}

	id := 0
	if msg != nil {
		id = msg.ID
	}

	return fmt.Sprintf("%d_%d", chatID, id)
}

// WithExt appends ext when name has no extension.
func WithExt(name, ext string) string {
	if ext == "" || filepath.Ext(name) != "" {
		return name
	}

	return name + ext
}

// UniquePath joins dir and name and, if the path exists, inserts "_1",
// "_2"... before the extension until a free name is found.
func UniquePath(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if !exists(candidate) {
		return candidate
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for i := 1; ; i++ {
		candidate = filepath.Join(dir, base+"_"+strconv.Itoa(i)+ext)
		if !exists(candidate) {
			return candidate
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
