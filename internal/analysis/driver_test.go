package analysis

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/robolabel/internal/errors"
	"github.com/hpungsan/robolabel/internal/inference"
	"github.com/hpungsan/robolabel/internal/prompt"
	"github.com/hpungsan/robolabel/internal/video"
)

const (
	testWidth  = 16
	testHeight = 2
)

type fakeSource struct {
	fps    float64
	frames int
	failAt int // -1 disables
	next   int
	closed int
	pix    []byte
}

func (s *fakeSource) FPS() float64 { return s.fps }
func (s *fakeSource) Size() (int, int) { return testWidth, testHeight }

func (s *fakeSource) Next(ctx context.Context) (video.Frame, error) {
	if s.next == s.failAt {
		return video.Frame{}, errors.NewDecodeFailed("fake.mp4", fmt.Errorf("corrupt packet"))
	}
	if s.next >= s.frames {
		return video.Frame{}, io.EOF
	}
	if s.pix == nil {
		s.pix = make([]byte, testWidth*testHeight*3)
	}
	for i := range s.pix {
		s.pix[i] = byte(s.next)
	}
	f := video.Frame{Index: s.next, Width: testWidth, Height: testHeight, Pix: s.pix}
	s.next++
	return f, nil
}

func (s *fakeSource) Close() error {
	s.closed++
	return nil
}

type fakeOpener struct {
	src    *fakeSource
	err    error
	opened []string
}

func (o *fakeOpener) Open(ctx context.Context, path string) (video.Source, error) {
	o.opened = append(o.opened, path)
	if o.err != nil {
		return nil, o.err
	}
	return o.src, nil
}

// recorder answers each call with a numbered response unless failOn matches.
type recorder struct {
	mu     sync.Mutex
	reqs   []inference.Request
	failOn int // 1-based call number, 0 disables
	empty  bool
}

func (r *recorder) Label(ctx context.Context, req inference.Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	n := len(r.reqs)
	if n == r.failOn {
		return "", fmt.Errorf("service unavailable")
	}
	if r.empty {
		return "", nil
	}
	return fmt.Sprintf("response-%d", n), nil
}

func testTemplate(t *testing.T) *prompt.Template {
	t.Helper()
	tpl, err := prompt.Parse("test", "from {start_time} to {end_time} after [{last_analysis}]")
	require.NoError(t, err)
	return tpl
}

func newTestDriver(t *testing.T, src *fakeSource, lab inference.Labeler) (*Driver, *fakeOpener) {
	t.Helper()
	op := &fakeOpener{src: src}
	return NewDriver(op, lab, testTemplate(t), Options{JPEGQuality: 75}, nil), op
}

func TestRun_TwoGroupsCarryContext(t *testing.T) {
	// 12 s at 1 fps: stride clamps to 1, so 12 samples
	src := &fakeSource{fps: 1, frames: 12, failAt: -1}
	lab := &recorder{}
	d, op := newTestDriver(t, src, lab)

	res, err := d.Run(context.Background(), "clip.mp4", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"clip.mp4"}, op.opened)
	require.Len(t, lab.reqs, 2)

	first, second := lab.reqs[0], lab.reqs[1]
	assert.Equal(t, "", first.Context)
	assert.Equal(t, "from 00:00 to 00:09 after []", first.Instruction)
	assert.Len(t, first.Images, 40)
	assert.Equal(t, "00:00", first.StartTime)
	assert.Equal(t, "00:09", first.EndTime)

	assert.Equal(t, "response-1", second.Context)
	assert.Equal(t, "from 00:10 to 00:11 after [response-1]", second.Instruction)
	assert.Len(t, second.Images, 8)
	assert.Equal(t, 1, second.Group)

	assert.Equal(t, "response-2", res.Description)
	assert.Equal(t, 2, res.Groups)
	assert.Equal(t, 12, res.Samples)
	assert.Equal(t, 12, res.Frames)
	assert.Equal(t, "00:00", res.FirstTime)
	assert.Equal(t, "00:11", res.LastTime)
	assert.Equal(t, 1, src.closed)
}

func TestRun_SingleFullGroup(t *testing.T) {
	src := &fakeSource{fps: 1, frames: 10, failAt: -1}
	lab := &recorder{}
	d, _ := newTestDriver(t, src, lab)

	res, err := d.Run(context.Background(), "clip.mp4", RunOptions{})
	require.NoError(t, err)
	require.Len(t, lab.reqs, 1)
	assert.Equal(t, "00:09", lab.reqs[0].EndTime)
	assert.Equal(t, "response-1", res.Description)
}

func TestRun_ThirtyFPSStride(t *testing.T) {
	src := &fakeSource{fps: 30, frames: 300, failAt: -1}
	lab := &recorder{}
	d, _ := newTestDriver(t, src, lab)

	res, err := d.Run(context.Background(), "clip.mp4", RunOptions{})
	require.NoError(t, err)
	require.Len(t, lab.reqs, 2)
	assert.Equal(t, "00:04", lab.reqs[0].EndTime)
	assert.Equal(t, "00:05", lab.reqs[1].StartTime)
	assert.Equal(t, "00:09", res.LastTime)
	assert.Equal(t, 20, res.Samples)
}

func TestRun_ImagesInFrameThenCameraOrder(t *testing.T) {
	src := &fakeSource{fps: 1, frames: 2, failAt: -1}
	lab := &recorder{}
	d, _ := newTestDriver(t, src, lab)

	_, err := d.Run(context.Background(), "clip.mp4", RunOptions{})
	require.NoError(t, err)
	require.Len(t, lab.reqs, 1)
	imgs := lab.reqs[0].Images
	require.Len(t, imgs, 8)

	for i, img := range imgs {
		assert.Equal(t, "image/jpeg", img.MIMEType)
		decoded, err := jpeg.Decode(bytes.NewReader(img.Data))
		require.NoError(t, err)
		b := decoded.Bounds()
		if i%4 == 1 {
			assert.Equal(t, testHeight, b.Dx(), "front view %d is rotated", i)
			assert.Equal(t, testWidth/4, b.Dy())
		} else {
			assert.Equal(t, testWidth/4, b.Dx(), "view %d", i)
			assert.Equal(t, testHeight, b.Dy())
		}
	}
}

// Failure on the second group loses the first group's context: Run reports
// the error and returns no result.
func TestRun_FailureOnSecondGroupDiscardsContext(t *testing.T) {
	src := &fakeSource{fps: 1, frames: 12, failAt: -1}
	lab := &recorder{failOn: 2}
	var saved []Checkpoint
	d, _ := newTestDriver(t, src, lab)

	res, err := d.Run(context.Background(), "clip.mp4", RunOptions{
		Checkpointer: CheckpointFunc(func(ctx context.Context, cp Checkpoint) error {
			saved = append(saved, cp)
			return nil
		}),
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, errors.ErrInferenceFailed))

	appErr := errors.As(err)
	assert.Equal(t, 1, appErr.Details["group"])
	assert.Equal(t, "00:10", appErr.Details["start_time"])
	assert.Equal(t, 1, src.closed)

	// the checkpoint is the only place the first response survives
	require.Len(t, saved, 1)
	assert.Equal(t, Checkpoint{GroupIndex: 0, StartTime: "00:00", EndTime: "00:09", Context: "response-1"}, saved[0])
}

func TestRun_EmptyResponseIsInferenceFailure(t *testing.T) {
	src := &fakeSource{fps: 1, frames: 3, failAt: -1}
	d, _ := newTestDriver(t, src, &recorder{empty: true})

	_, err := d.Run(context.Background(), "clip.mp4", RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInferenceFailed))
}

func TestRun_DecodeErrorClosesSource(t *testing.T) {
	src := &fakeSource{fps: 1, frames: 20, failAt: 14}
	lab := &recorder{}
	d, _ := newTestDriver(t, src, lab)

	_, err := d.Run(context.Background(), "clip.mp4", RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDecodeFailed))
	assert.Equal(t, 1, src.closed)
	assert.Len(t, lab.reqs, 1)
}

func TestRun_OpenErrorPropagates(t *testing.T) {
	lab := &recorder{}
	op := &fakeOpener{err: errors.NewNotFound("video", "gone.mp4")}
	d := NewDriver(op, lab, nil, Options{}, nil)

	_, err := d.Run(context.Background(), "gone.mp4", RunOptions{})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Empty(t, lab.reqs)
}

func TestRun_NoFrames(t *testing.T) {
	src := &fakeSource{fps: 30, frames: 0, failAt: -1}
	lab := &recorder{}
	d, _ := newTestDriver(t, src, lab)

	res, err := d.Run(context.Background(), "empty.mp4", RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, lab.reqs)
	assert.Equal(t, "", res.Description)
	assert.Zero(t, res.Groups)
	assert.Equal(t, 1, src.closed)
}

func TestRun_ResumeSkipsCheckpointedGroups(t *testing.T) {
	src := &fakeSource{fps: 1, frames: 25, failAt: -1}
	lab := &recorder{}
	d, _ := newTestDriver(t, src, lab)

	res, err := d.Run(context.Background(), "clip.mp4", RunOptions{
		Resume: &Checkpoint{GroupIndex: 0, StartTime: "00:00", EndTime: "00:09", Context: "prior"},
	})
	require.NoError(t, err)

	require.Len(t, lab.reqs, 2)
	assert.Equal(t, "prior", lab.reqs[0].Context)
	assert.Equal(t, "00:10", lab.reqs[0].StartTime)
	assert.Equal(t, "response-1", lab.reqs[1].Context)
	assert.Equal(t, "00:24", lab.reqs[1].EndTime)

	assert.Equal(t, 3, res.Groups)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "00:00", res.FirstTime)
	assert.Equal(t, "response-2", res.Description)
}

func TestRun_ResumePastEndKeepsContext(t *testing.T) {
	src := &fakeSource{fps: 1, frames: 10, failAt: -1}
	lab := &recorder{}
	d, _ := newTestDriver(t, src, lab)

	res, err := d.Run(context.Background(), "clip.mp4", RunOptions{Resume: &Checkpoint{GroupIndex: 4, Context: "done"}})
	require.NoError(t, err)
	assert.Empty(t, lab.reqs)
	assert.Equal(t, "done", res.Description)
}

func TestRun_CheckpointErrorIsNotFatal(t *testing.T) {
	src := &fakeSource{fps: 1, frames: 12, failAt: -1}
	lab := &recorder{}
	d, _ := newTestDriver(t, src, lab)

	res, err := d.Run(context.Background(), "clip.mp4", RunOptions{
		Checkpointer: CheckpointFunc(func(ctx context.Context, cp Checkpoint) error {
			return fmt.Errorf("disk full")
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, "response-2", res.Description)
}

func TestRun_CanceledDuringLabel(t *testing.T) {
	src := &fakeSource{fps: 1, frames: 12, failAt: -1}
	ctx, cancel := context.WithCancel(context.Background())
	lab := inference.LabelerFunc(func(ctx context.Context, req inference.Request) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	d, _ := newTestDriver(t, src, lab)

	_, err := d.Run(ctx, "clip.mp4", RunOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, src.closed)
}

func TestNewDriver_Defaults(t *testing.T) {
	d := NewDriver(&fakeOpener{}, &recorder{}, nil, Options{}, nil)
	assert.Equal(t, DefaultOptions(), d.opts)
	assert.Equal(t, prompt.DefaultVersion, d.template.Version)
}
