// Package sampler picks frames at a fixed cadence and batches them into groups.
package sampler

import (
	"fmt"
	"math"

	"github.com/hpungsan/robolabel/internal/video"
)

// DefaultGroupSize is the number of samples per group.
const DefaultGroupSize = 10

// DefaultSampleSeconds is the source-time distance between samples.
const DefaultSampleSeconds = 0.5

// Interval returns the raw-frame stride between samples, floor(fps*sampleSeconds),
// never less than 1. Low frame rates therefore sample every frame.
func Interval(fps, sampleSeconds float64) int {
	k := math.Floor(fps * sampleSeconds)
	if math.IsNaN(k) || k < 1 {
		return 1
	}
	if k > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(k)
}

// Timestamp formats floor(frameIndex/fps) seconds as mm:ss. Minutes are not
// wrapped at 60.
func Timestamp(frameIndex int, fps float64) string {
	if fps <= 0 || frameIndex < 0 {
		return "00:00"
	}
	seconds := int(math.Floor(float64(frameIndex) / fps))
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Sample is a selected frame with its source position.
type Sample struct {
	FrameIndex int
	Timestamp  string
	Frame      video.Frame
}

// Group is a batch of consecutive samples, emitted once.
type Group struct {
	Index     int
	Samples   []Sample
	StartTime string
	EndTime   string
}

// Frames returns the group's frames in order.
func (g Group) Frames() []video.Frame {
	out := make([]video.Frame, len(g.Samples))
	for i, s := range g.Samples {
		out[i] = s.Frame
	}
	return out
}

// Grouper turns a frame stream into groups. Not safe for concurrent use; one
// Grouper belongs to one pipeline run.
type Grouper struct {
	fps       float64
	interval  int
	groupSize int

	seen    int
	sampled int
	emitted int
	current []Sample
}

// NewGrouper returns a Grouper for a stream at fps. Non-positive groupSize and
// sampleSeconds fall back to the defaults.
func NewGrouper(fps, sampleSeconds float64, groupSize int) *Grouper {
	if sampleSeconds <= 0 {
		sampleSeconds = DefaultSampleSeconds
	}
	if groupSize <= 0 {
		groupSize = DefaultGroupSize
	}
	return &Grouper{
		fps:       fps,
		interval:  Interval(fps, sampleSeconds),
		groupSize: groupSize,
		current:   make([]Sample, 0, groupSize),
	}
}

// Interval returns the frame stride in use.
func (g *Grouper) Interval() int { return g.interval }

// Seen returns the number of raw frames pushed so far.
func (g *Grouper) Seen() int { return g.seen }

// Sampled returns the number of frames selected so far.
func (g *Grouper) Sampled() int { return g.sampled }

// Push feeds the next raw frame in stream order. Frames are numbered by their
// position in the stream, not by f.Index. Selected frames are cloned, so the
// caller may reuse f's buffer. When the current group reaches the group size
// it is returned with ok set.
func (g *Grouper) Push(f video.Frame) (Group, bool) {
	idx := g.seen
	g.seen++
	if idx%g.interval != 0 {
		return Group{}, false
	}

	g.sampled++
	g.current = append(g.current, Sample{
		FrameIndex: idx,
		Timestamp:  Timestamp(idx, g.fps),
		Frame:      f.Clone(),
	})
	if len(g.current) < g.groupSize {
		return Group{}, false
	}
	return g.emit(), true
}

// Flush returns the trailing partial group, if any samples are pending.
func (g *Grouper) Flush() (Group, bool) {
	if len(g.current) == 0 {
		return Group{}, false
	}
	return g.emit(), true
}

func (g *Grouper) emit() Group {
	samples := g.current
	grp := Group{
		Index:     g.emitted,
		Samples:   samples,
		StartTime: samples[0].Timestamp,
		EndTime:   samples[len(samples)-1].Timestamp,
	}
	g.emitted++
	g.current = make([]Sample, 0, g.groupSize)
	return grp
}
