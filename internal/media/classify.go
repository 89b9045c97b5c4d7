package media

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gotd/td/tg"
)

// Kind is the logical media kind of a message. Document is the fallback.
type Kind int

const (
	KindDocument Kind = iota
	KindPhoto
	KindVideo
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "document"
	}
}

const sniffLen = 64

var (
	photoExts    = extSet(".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".heic", ".tif", ".tiff")
	videoExts    = extSet(".mp4", ".mkv", ".mov", ".avi", ".webm", ".m4v", ".3gp", ".flv", ".wmv", ".ts")
	audioExts    = extSet(".mp3", ".m4a", ".ogg", ".oga", ".opus", ".flac", ".wav", ".aac", ".wma")
	documentExts = extSet(".pdf", ".zip", ".rar", ".7z", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".txt", ".epub", ".apk")
)

func extSet(exts ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		m[e] = struct{}{}
	}

	return m
}

// Classification is the outcome of Classify. Exactly one kind applies.
type Classification struct {
	Kind     Kind
	Filename string
	MIMEType string
	// Source names the rule that decided Kind.
	Source string
}

func (c Classification) IsPhoto() bool    { return c.Kind == KindPhoto }
func (c Classification) IsVideo() bool    { return c.Kind == KindVideo }
func (c Classification) IsAudio() bool    { return c.Kind == KindAudio }
func (c Classification) IsDocument() bool { return c.Kind == KindDocument }

// Classify decides the media kind from, in order: the attached media object,
// the document MIME type, the extension of localPath, and the first bytes of
// the file at localPath. localPath may be empty.
func Classify(msg *tg.Message, localPath string) Classification {
	c, matched := fromMedia(msg)

	if !matched && localPath != "" {
		if kind, ok := kindByExtension(localPath); ok {
			c.Kind, c.Source = kind, "extension"
			matched = true
		}
	}

	if !matched && localPath != "" {
		if kind, ok := sniffFile(localPath); ok {
			c.Kind, c.Source = kind, "signature"
			matched = true
		}
	}

	if !matched {
		c.Kind, c.Source = KindDocument, "default"
	}

	if c.Filename == "" {
		if doc, ok := Document(msg); ok {
			c.Filename = documentFilename(doc)
		}
	}

	return c
}

func fromMedia(msg *tg.Message) (Classification, bool) {
	if msg == nil {
		return Classification{}, false
	}

	switch m := msg.Media.(type) {
	case *tg.MessageMediaPhoto:
		if _, ok := m.Photo.(*tg.Photo); ok {
			return Classification{Kind: KindPhoto, Source: "media"}, true
		}
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return Classification{}, false
		}

		c := Classification{
			Kind:     kindByAttributes(doc),
			Filename: documentFilename(doc),
			MIMEType: doc.MimeType,
			Source:   "media",
		}

		if kind, ok := kindByMIME(doc.MimeType); ok {
			c.Kind, c.Source = kind, "mime"
		}

		return c, true
	}

	return Classification{}, false
}

func kindByAttributes(doc *tg.Document) Kind {
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeVideo:
			if !a.RoundMessage {
				return KindVideo
			}
		case *tg.DocumentAttributeAudio:
			if !a.Voice {
				return KindAudio
			}
		}
	}

	return KindDocument
}

func kindByMIME(mime string) (Kind, bool) {
	mime = strings.ToLower(strings.TrimSpace(mime))

	switch {
	case strings.HasPrefix(mime, "image/"):
		return KindPhoto, true
	case strings.HasPrefix(mime, "video/"):
		return KindVideo, true
	case strings.HasPrefix(mime, "audio/"):
		return KindAudio, true
	case mime == "application/pdf":
		return KindDocument, true
	default:
		return KindDocument, false
	}
}

func kindByExtension(path string) (Kind, bool) {
	ext := strings.ToLower(filepath.Ext(path))

	if _, ok := photoExts[ext]; ok {
		return KindPhoto, true
	}

	if _, ok := videoExts[ext]; ok {
		return KindVideo, true
	}

	if _, ok := audioExts[ext]; ok {
		return KindAudio, true
	}

	if _, ok := documentExts[ext]; ok {
		return KindDocument, true
	}

	return KindDocument, false
}

func sniffFile(path string) (Kind, bool) {
	f, err := os.Open(path)
	if err != nil {
		return KindDocument, false
	}
	defer f.Close()

	head := make([]byte, sniffLen)

	n, err := io.ReadFull(f, head)
	if err != nil && n == 0 {
		return KindDocument, false
	}

	return Sniff(head[:n]), true
}

var (
	sigPDF      = []byte("%PDF")
	sigJPEG     = []byte{0xFF, 0xD8, 0xFF}
	sigPNG      = []byte{0x89, 'P', 'N', 'G'}
	sigMatroska = []byte{0x1A, 0x45, 0xDF, 0xA3}
	sigID3      = []byte("ID3")
	sigFLAC     = []byte("fLaC")
	atomFtyp    = []byte("ftyp")
	atomMoov    = []byte("moov")
)

// Sniff classifies content by its leading bytes, defaulting to document.
func Sniff(head []byte) Kind {
	switch {
	case bytes.HasPrefix(head, sigPDF):
		return KindDocument
	case bytes.HasPrefix(head, sigJPEG), bytes.HasPrefix(head, sigPNG):
		return KindPhoto
	case len(head) >= 8 && bytes.Equal(head[4:8], atomFtyp),
		bytes.Contains(head, atomMoov),
		bytes.HasPrefix(head, sigMatroska):
		return KindVideo
	case bytes.HasPrefix(head, sigID3), bytes.HasPrefix(head, sigFLAC):
		return KindAudio
	default:
		return KindDocument
	}
}

func documentFilename(doc *tg.Document) string {
	for _, attr := range doc.Attributes {
		if a, ok := attr.(*tg.DocumentAttributeFilename); ok && a.FileName != "" {
			return a.FileName
		}
	}

	return ""
}
