package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docMessage(mime string, attrs ...tg.DocumentAttributeClass) *tg.Message {
	return &tg.Message{ID: 1, Media: &tg.MessageMediaDocument{
		Document: &tg.Document{ID: 10, AccessHash: 20, MimeType: mime, Attributes: attrs},
	}}
}

func TestClassify_Media(t *testing.T) {
	tests := []struct {
		name     string
		msg      *tg.Message
		wantKind Kind
		wantName string
	}{
		{
			name:     "photo",
			msg:      &tg.Message{Media: &tg.MessageMediaPhoto{Photo: &tg.Photo{ID: 1}}},
			wantKind: KindPhoto,
		},
		{
			name:     "png document becomes photo",
			msg:      docMessage("image/png", &tg.DocumentAttributeFilename{FileName: "scan.png"}),
			wantKind: KindPhoto,
			wantName: "scan.png",
		},
		{
			name:     "video attribute",
			msg:      docMessage("", &tg.DocumentAttributeVideo{W: 640, H: 480}),
			wantKind: KindVideo,
		},
		{
			name:     "mp4 mime without attribute",
			msg:      docMessage("video/mp4"),
			wantKind: KindVideo,
		},
		{
			name:     "audio attribute",
			msg:      docMessage("application/octet-stream", &tg.DocumentAttributeAudio{Duration: 30}),
			wantKind: KindAudio,
		},
		{
			name:     "voice note stays document",
			msg:      docMessage("", &tg.DocumentAttributeAudio{Voice: true}),
			wantKind: KindDocument,
		},
		{
			name:     "pdf",
			msg:      docMessage("application/pdf", &tg.DocumentAttributeFilename{FileName: "book.pdf"}),
			wantKind: KindDocument,
			wantName: "book.pdf",
		},
		{
			name:     "no media",
			msg:      &tg.Message{Message: "text"},
			wantKind: KindDocument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.msg, "")
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantName, got.Filename)
		})
	}
}

func TestClassify_PNGMimeFlags(t *testing.T) {
	got := Classify(docMessage("image/png"), "")

	assert.True(t, got.IsPhoto())
	assert.False(t, got.IsDocument())
	assert.False(t, got.IsVideo())
	assert.False(t, got.IsAudio())
}

func TestClassify_LocalFile(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, content []byte) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, content, 0o600))

		return path
	}

	tests := []struct {
		name       string
		path       string
		wantKind   Kind
		wantSource string
	}{
		{name: "jpeg extension", path: write("a.JPG", []byte("x")), wantKind: KindPhoto, wantSource: "extension"},
		{name: "mkv extension", path: write("b.mkv", []byte("x")), wantKind: KindVideo, wantSource: "extension"},
		{name: "flac extension", path: write("c.flac", []byte("x")), wantKind: KindAudio, wantSource: "extension"},
		{name: "pdf signature", path: write("d.bin", []byte("%PDF-1.7")), wantKind: KindDocument, wantSource: "signature"},
		{name: "mp4 signature", path: write("e", []byte{0, 0, 0, 0x20, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm'}), wantKind: KindVideo, wantSource: "signature"},
		{name: "id3 signature", path: write("f.dat", []byte("ID3\x04\x00")), wantKind: KindAudio, wantSource: "signature"},
		{name: "unknown bytes", path: write("g.dat", []byte("hello")), wantKind: KindDocument, wantSource: "signature"},
		{name: "missing file", path: filepath.Join(dir, "nope.dat"), wantKind: KindDocument, wantSource: "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(&tg.Message{}, tt.path)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantSource, got.Source)
		})
	}
}

func TestClassify_MediaBeatsExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	got := Classify(docMessage("application/pdf"), path)

	assert.Equal(t, KindDocument, got.Kind)
	assert.Equal(t, "mime", got.Source)
}

func TestSniff(t *testing.T) {
	assert.Equal(t, KindPhoto, Sniff([]byte{0xFF, 0xD8, 0xFF, 0xE0}))
	assert.Equal(t, KindPhoto, Sniff([]byte{0x89, 'P', 'N', 'G', '\r', '\n'}))
	assert.Equal(t, KindVideo, Sniff([]byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}))
	assert.Equal(t, KindVideo, Sniff([]byte("....moov....")))
	assert.Equal(t, KindAudio, Sniff([]byte("fLaC\x00")))
	assert.Equal(t, KindDocument, Sniff(nil))
}

func TestPhotoFile_PicksLargest(t *testing.T) {
	photo := &tg.Photo{ID: 1, AccessHash: 2, Sizes: []tg.PhotoSizeClass{
		&tg.PhotoStrippedSize{Type: "i"},
		&tg.PhotoSize{Type: "m", W: 320, H: 240, Size: 100},
		&tg.PhotoSizeProgressive{Type: "y", W: 1280, H: 960, Sizes: []int{10, 200, 900}},
		&tg.PhotoSize{Type: "x", W: 800, H: 600, Size: 400},
	}}

	file, ok := PhotoFile(photo)
	require.True(t, ok)

	loc, ok := file.Location.(*tg.InputPhotoFileLocation)
	require.True(t, ok)
	assert.Equal(t, "y", loc.ThumbSize)
	assert.Equal(t, int64(900), file.Size)
	assert.Equal(t, ".jpg", file.Ext)

	_, ok = PhotoFile(&tg.Photo{})
	assert.False(t, ok)
}

func TestDocumentFile_Ext(t *testing.T) {
	assert.Equal(t, ".mkv", DocumentFile(&tg.Document{MimeType: "video/mp4", Attributes: []tg.DocumentAttributeClass{
		&tg.DocumentAttributeFilename{FileName: "Movie.MKV"},
	}}).Ext)
	assert.Equal(t, ".mp4", DocumentFile(&tg.Document{MimeType: "video/mp4"}).Ext)
	assert.Equal(t, ".pdf", DocumentFile(&tg.Document{MimeType: "application/pdf"}).Ext)
}

func TestContentFiles(t *testing.T) {
	msg := &tg.Message{Media: &tg.MessageMediaDocument{
		Document:     &tg.Document{ID: 1, MimeType: "video/mp4"},
		AltDocuments: []tg.DocumentClass{&tg.Document{ID: 2, MimeType: "video/mp4"}, &tg.DocumentEmpty{}},
	}}

	assert.Len(t, ContentFiles(msg), 2)

	photo := &tg.Message{Media: &tg.MessageMediaPhoto{Photo: &tg.Photo{Sizes: []tg.PhotoSizeClass{
		&tg.PhotoSize{Type: "m", W: 320, H: 240},
		&tg.PhotoStrippedSize{Type: "i"},
		&tg.PhotoSize{Type: "x", W: 800, H: 600},
	}}}}

	files := ContentFiles(photo)
	require.Len(t, files, 2)
	assert.Equal(t, "x", files[0].Location.(*tg.InputPhotoFileLocation).ThumbSize)
	assert.Equal(t, "m", files[1].Location.(*tg.InputPhotoFileLocation).ThumbSize)

	page := &tg.Message{Media: &tg.MessageMediaWebPage{Webpage: &tg.WebPage{
		Photo: &tg.Photo{Sizes: []tg.PhotoSizeClass{&tg.PhotoSize{Type: "x", W: 1, H: 1}}},
	}}}

	assert.Empty(t, ContentFiles(page))
	assert.False(t, HasMedia(page))
	assert.Empty(t, ContentFiles(nil))
}
