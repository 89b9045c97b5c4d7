// Package videoproc wraps ffmpeg for the watermark and thumbnail steps.
package videoproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/telegram-backup-bot/internal/platform/worker"
)

const (
	maxHeight        = 480
	thumbnailSecond  = 10
	thumbnailTimeout = time.Minute
	stderrLogLimit   = 200
	watermarkSuffix  = "_wm"
	thumbnailSuffix  = "_thumb.jpg"
	defaultVideoExt  = ".mp4"
	fontFile         = "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf"
)

var ErrNoOutput = errors.New("ffmpeg produced no output")

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args ...string) (stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stderr.Bytes(), err
}

type Processor struct {
	ffmpeg  string
	text    string
	timeout time.Duration
	run     Runner
	logger  *zerolog.Logger
}

func New(ffmpegPath, text string, timeout time.Duration, logger *zerolog.Logger) *Processor {
	return &Processor{ffmpeg: ffmpegPath, text: text, timeout: timeout, run: execRunner, logger: logger}
}

// WithRunner replaces the command runner.
func (p *Processor) WithRunner(r Runner) *Processor {
	p.run = r
	return p
}

// Watermark re-encodes in capped at 480p with the text overlay in the top
// right corner and returns the new file, "<name>_wm<ext>".
func (p *Processor) Watermark(ctx context.Context, in string) (string, error) {
	out := WatermarkPath(in)

	err := worker.RunWithTimeout(ctx, p.timeout, func(ctx context.Context) error {
		return p.exec(ctx, "watermark", watermarkArgs(in, out, p.text))
	})
	if err != nil {
		_ = os.Remove(out)
		return "", err
	}

	return out, checkOutput(out)
}

// Thumbnail grabs the frame at 10s as "<name>_thumb.jpg".
func (p *Processor) Thumbnail(ctx context.Context, in string) (string, error) {
	out := ThumbnailPath(in)

	err := worker.RunWithTimeout(ctx, thumbnailTimeout, func(ctx context.Context) error {
		return p.exec(ctx, "thumbnail", thumbnailArgs(in, out))
	})
	if err != nil {
		_ = os.Remove(out)
		return "", err
	}

	return out, checkOutput(out)
}

func (p *Processor) exec(ctx context.Context, op string, args []string) error {
	p.logger.Debug().Str("op", op).Strs("args", args).Msg("running ffmpeg")

	stderr, err := p.run(ctx, p.ffmpeg, args...)
	if len(stderr) > 0 {
		msg := string(stderr)
		if len(msg) > stderrLogLimit {
			msg = msg[:stderrLogLimit]
		}

		p.logger.Debug().Str("op", op).Str("stderr", msg).Msg("ffmpeg stderr")
	}

	if err != nil {
		return fmt.Errorf("ffmpeg %s: %w", op, err)
	}

	return nil
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrNoOutput, path)
	}

	return nil
}

func WatermarkPath(in string) string {
	ext := filepath.Ext(in)
	if ext == "" {
		ext = defaultVideoExt
	}

	return strings.TrimSuffix(in, filepath.Ext(in)) + watermarkSuffix + ext
}

func ThumbnailPath(in string) string {
	return strings.TrimSuffix(in, filepath.Ext(in)) + thumbnailSuffix
}

func watermarkArgs(in, out, text string) []string {
	h := strconv.Itoa(maxHeight)
	vf := "scale='if(gt(ih," + h + "),-2,iw)':'if(gt(ih," + h + ")," + h + ",ih)'," +
		"drawtext=fontfile=" + fontFile + ":" +
		"text='" + escapeDrawtext(text) + "':" +
		"fontcolor=white@0.35:shadowcolor=black@0.45:shadowx=2:shadowy=2:" +
		"fontsize=h*0.035:x=w-tw-20:y=20"

	return []string{
		"-y", "-loglevel", "error",
		"-i", in,
		"-vf", vf,
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "25",
		"-c:a", "copy",
		out,
	}
}

func thumbnailArgs(in, out string) []string {
	return []string{
		"-y",
		"-ss", strconv.Itoa(thumbnailSecond),
		"-i", in,
		"-frames:v", "1",
		"-q:v", "3",
		out,
	}
}

// escapeDrawtext escapes characters that end a drawtext option value.
func escapeDrawtext(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`, `%`, `\%`)
	return r.Replace(s)
}
