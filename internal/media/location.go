package media

import (
	"mime"
	"sort"
	"strconv"
	"strings"

	"github.com/gotd/td/tg"
)

// Document returns the document attached to msg.
func Document(msg *tg.Message) (*tg.Document, bool) {
	if msg == nil {
		return nil, false
	}

	m, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok {
		return nil, false
	}

	doc, ok := m.Document.(*tg.Document)

	return doc, ok
}

// Photo returns the photo attached to msg.
func Photo(msg *tg.Message) (*tg.Photo, bool) {
	if msg == nil {
		return nil, false
	}

	m, ok := msg.Media.(*tg.MessageMediaPhoto)
	if !ok {
		return nil, false
	}

	photo, ok := m.Photo.(*tg.Photo)

	return photo, ok
}

// HasMedia reports whether msg carries a downloadable photo or document.
func HasMedia(msg *tg.Message) bool {
	_, ok := MessageLocation(msg)
	return ok
}

// File is a downloadable object with the extension its bytes should get.
type File struct {
	Location tg.InputFileLocationClass
	Ext      string
	Size     int64
}

// MessageLocation resolves the file handle of the media attached to msg.
func MessageLocation(msg *tg.Message) (File, bool) {
	if photo, ok := Photo(msg); ok {
		return PhotoFile(photo)
	}

	if doc, ok := Document(msg); ok {
		return DocumentFile(doc), true
	}

	return File{}, false
}

// ContentFiles extracts every bare photo and document object reachable
// from msg. Photos yield all their sizes largest first. Documents bring
// their alternative video qualities along.
func ContentFiles(msg *tg.Message) []File {
	if msg == nil {
		return nil
	}

	var files []File

	addPhoto := func(p tg.PhotoClass) {
		if photo, ok := p.(*tg.Photo); ok {
			files = append(files, photoFiles(photo)...)
		}
	}

	addDoc := func(d tg.DocumentClass) {
		if doc, ok := d.(*tg.Document); ok {
			files = append(files, DocumentFile(doc))
		}
	}

	switch m := msg.Media.(type) {
	case *tg.MessageMediaPhoto:
		addPhoto(m.Photo)
	case *tg.MessageMediaDocument:
		addDoc(m.Document)

		for _, alt := range m.AltDocuments {
			addDoc(alt)
		}
	}

	return files
}

// PhotoFile picks the largest size of photo.
func PhotoFile(photo *tg.Photo) (File, bool) {
	files := photoFiles(photo)
	if len(files) == 0 {
		return File{}, false
	}

	return files[0], true
}

type photoSize struct {
	typ  string
	area int
	size int
}

// photoFiles lists the downloadable sizes of photo, largest first. Ties keep
// the server order.
func photoFiles(photo *tg.Photo) []File {
	var sizes []photoSize

	for _, s := range photo.Sizes {
		var typ string

		var w, h, size int

		switch v := s.(type) {
		case *tg.PhotoSize:
			typ, w, h, size = v.Type, v.W, v.H, v.Size
		case *tg.PhotoSizeProgressive:
			typ, w, h = v.Type, v.W, v.H
			if n := len(v.Sizes); n > 0 {
				size = v.Sizes[n-1]
			}
		case *tg.PhotoCachedSize:
			typ, w, h, size = v.Type, v.W, v.H, len(v.Bytes)
		default:
			continue
		}

		sizes = append(sizes, photoSize{typ: typ, area: w * h, size: size})
	}

	sort.SliceStable(sizes, func(i, j int) bool { return sizes[i].area > sizes[j].area })

	files := make([]File, 0, len(sizes))

	for _, s := range sizes {
		files = append(files, File{
			Location: &tg.InputPhotoFileLocation{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
				ThumbSize:     s.typ,
			},
			Ext:  ".jpg",
			Size: int64(s.size),
		})
	}

	return files
}

// locationKey identifies the object and size a location points at.
func locationKey(loc tg.InputFileLocationClass) string {
	switch l := loc.(type) {
	case *tg.InputPhotoFileLocation:
		return "photo:" + strconv.FormatInt(l.ID, 10) + ":" + l.ThumbSize
	case *tg.InputDocumentFileLocation:
		return "doc:" + strconv.FormatInt(l.ID, 10) + ":" + l.ThumbSize
	default:
		return loc.String()
	}
}

func DocumentFile(doc *tg.Document) File {
	return File{
		Location: &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		},
		Ext:  documentExt(doc),
		Size: doc.Size,
	}
}

var preferredExt = map[string]string{
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"audio/mpeg":      ".mp3",
	"audio/ogg":       ".ogg",
	"audio/mp4":       ".m4a",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

func documentExt(doc *tg.Document) string {
	if name := documentFilename(doc); name != "" {
		if i := strings.LastIndex(name, "."); i > 0 && i < len(name)-1 {
			return strings.ToLower(name[i:])
		}
	}

	mt := strings.ToLower(doc.MimeType)
	if ext, ok := preferredExt[mt]; ok {
		return ext
	}

	if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
		return exts[0]
	}

	return ""
}
