package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/robolabel/internal/errors"
)

// FFmpeg opens videos by probing them with ffprobe and piping raw bgr24
// frames out of ffmpeg.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	fallbackFPS float64
	logger      *zap.Logger
}

// NewFFmpeg returns an Opener backed by the ffmpeg/ffprobe executables.
// fallbackFPS is used when the container reports no usable frame rate.
func NewFFmpeg(ffmpegPath, ffprobePath string, fallbackFPS float64, logger *zap.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, fallbackFPS: fallbackFPS, logger: logger}
}

// Info describes the first video stream of a file.
type Info struct {
	Width    int
	Height   int
	FPS      float64
	Duration float64
}

// Open implements Opener. The returned Source owns an ffmpeg process that is
// killed by Close if the stream has not been read to the end.
func (f *FFmpeg) Open(ctx context.Context, path string) (Source, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("video", path)
		}
		return nil, errors.NewDecodeFailed(path, err)
	}

	info, err := f.Probe(ctx, path)
	if err != nil {
		return nil, errors.NewDecodeFailed(path, err)
	}

	fps := info.FPS
	if !usableFPS(fps) {
		f.logger.Warn("video reports no usable frame rate, using fallback",
			zap.String("path", path),
			zap.Float64("reported_fps", fps),
			zap.Float64("fallback_fps", f.fallbackFPS),
		)
		fps = f.fallbackFPS
	}
	if !usableFPS(fps) {
		return nil, errors.NewDecodeFailed(path, fmt.Errorf("no usable frame rate"))
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-v", "error",
		"-nostdin",
		"-i", path,
		"-map", "0:v:0",
		"-fps_mode", "passthrough",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-",
	)
	stderr := &limitedBuffer{max: 4 << 10}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewDecodeFailed(path, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.NewDecodeFailed(path, fmt.Errorf("start ffmpeg: %w", err))
	}

	f.logger.Debug("video opened",
		zap.String("path", path),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.Float64("fps", fps),
		zap.Float64("duration", info.Duration),
	)

	return newRawSource(path, stdout, info.Width, info.Height, fps, &execProcess{cmd: cmd, stderr: stderr}), nil
}

// Probe reads stream geometry and frame rate with ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*Info, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate:format=duration",
		"-of", "json",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbe(output)
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// parseProbe decodes ffprobe's JSON output. A zero frame rate is not an error
// here; Open decides on the fallback.
func parseProbe(data []byte) (*Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("no video stream")
	}
	s := out.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", s.Width, s.Height)
	}

	fps := parseRate(s.RFrameRate)
	if !usableFPS(fps) {
		fps = parseRate(s.AvgFrameRate)
	}
	duration, _ := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)

	return &Info{Width: s.Width, Height: s.Height, FPS: fps, Duration: duration}, nil
}

// parseRate parses ffprobe rationals such as "30000/1001" or plain numbers.
// Unparsable or undefined rates ("0/0") yield 0.
func parseRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func usableFPS(fps float64) bool {
	return fps > 0 && !math.IsNaN(fps) && !math.IsInf(fps, 0)
}

func asExitError(err error, target **exec.ExitError) bool {
	e, ok := err.(*exec.ExitError)
	if ok {
		*target = e
	}
	return ok
}

// process is the part of a running decoder the source needs.
type process interface {
	// Wait reaps the process after its output was fully read.
	Wait() error
	// Kill stops the process early and reaps it.
	Kill() error
}

type execProcess struct {
	cmd    *exec.Cmd
	stderr *limitedBuffer
}

func (p *execProcess) Wait() error {
	if err := p.cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(p.stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

func (p *execProcess) Kill() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	// exit status after a kill is expected to be non-zero
	_ = p.cmd.Wait()
	return nil
}

// rawSource reads fixed-size bgr24 frames from a pipe.
type rawSource struct {
	path   string
	r      io.Reader
	proc   process
	width  int
	height int
	fps    float64
	buf    []byte
	next   int
	done   bool
	closed bool
}

func newRawSource(path string, r io.Reader, width, height int, fps float64, proc process) *rawSource {
	return &rawSource{
		path:   path,
		r:      r,
		proc:   proc,
		width:  width,
		height: height,
		fps:    fps,
		buf:    make([]byte, width*height*3),
	}
}

func (s *rawSource) FPS() float64 { return s.fps }

func (s *rawSource) Size() (int, int) { return s.width, s.height }

func (s *rawSource) Next(ctx context.Context) (Frame, error) {
	if s.closed {
		return Frame{}, ErrClosed
	}
	if s.done {
		return Frame{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	_, err := io.ReadFull(s.r, s.buf)
	switch {
	case err == io.EOF:
		s.done = true
		if werr := s.proc.Wait(); werr != nil {
			return Frame{}, errors.NewDecodeFailed(s.path, werr)
		}
		return Frame{}, io.EOF
	case err == io.ErrUnexpectedEOF:
		s.done = true
		_ = s.proc.Kill()
		return Frame{}, errors.NewDecodeFailed(s.path, fmt.Errorf("truncated frame %d", s.next))
	case err != nil:
		s.done = true
		_ = s.proc.Kill()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, ctxErr
		}
		return Frame{}, errors.NewDecodeFailed(s.path, err)
	}

	f := Frame{Index: s.next, Width: s.width, Height: s.height, Pix: s.buf}
	s.next++
	return f, nil
}

// Close kills the decoder if the stream was not drained. Idempotent.
func (s *rawSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.done {
		s.done = true
		return s.proc.Kill()
	}
	return nil
}

// limitedBuffer keeps the first max bytes written to it.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
