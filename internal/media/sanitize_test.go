package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "clean", in: "report.pdf", want: "report.pdf"},
		{name: "illegal characters", in: `a<b>c:d"e/f\g|h?i*j.txt`, want: "a_b_c_d_e_f_g_h_i_j.txt"},
		{name: "control bytes", in: "a\x00b\x1fc", want: "a_b_c"},
		{name: "surrounding whitespace", in: "  name.mp4 \t", want: "name.mp4"},
		{name: "empty", in: "", want: "file"},
		{name: "only spaces", in: "   ", want: "file"},
		{name: "only illegal", in: "???", want: "file"},
		{name: "dot names", in: "..", want: "file"},
		{name: "nfc", in: "é.txt", want: "é.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestSanitizeFilename_Truncates(t *testing.T) {
	got := SanitizeFilename(strings.Repeat("x", 500) + ".mp4")

	assert.Len(t, []rune(got), maxFilenameLen)
	assert.True(t, strings.HasSuffix(got, ".mp4"))
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()

	first := UniquePath(dir, "clip.mp4")
	assert.Equal(t, filepath.Join(dir, "clip.mp4"), first)
	require.NoError(t, os.WriteFile(first, []byte("x"), 0o600))

	second := UniquePath(dir, "clip.mp4")
	assert.Equal(t, filepath.Join(dir, "clip_1.mp4"), second)
	require.NoError(t, os.WriteFile(second, []byte("x"), 0o600))

	assert.Equal(t, filepath.Join(dir, "clip_2.mp4"), UniquePath(dir, "clip.mp4"))
}

func TestFilenameHint(t *testing.T) {
	named := docMessage("application/pdf", &tg.DocumentAttributeFilename{FileName: "notes.pdf"})
	assert.Equal(t, "notes.pdf", FilenameHint(named, -1001234))

	assert.Equal(t, "1001234_42", FilenameHint(&tg.Message{ID: 42}, -1001234))
}

func TestWithExt(t *testing.T) {
	assert.Equal(t, "a.jpg", WithExt("a", ".jpg"))
	assert.Equal(t, "a.png", WithExt("a.png", ".jpg"))
	assert.Equal(t, "a", WithExt("a", ""))
}
