package cache

import (
	"fmt"
	"math"
)

type (
	SceneID uint64
	StripID uint64
	// TaskID identifies concurrent render task, that owns temp entries.
	TaskID uint32
)

// Stage is render pipeline phase, that produced buffer.
type Stage uint8

const (
	// StageRaw is decoded media frame. Its frame index is media frame,
	// so it is shared between timeline frames that show the same media frame.
	StageRaw Stage = iota + 1
	// StagePreprocessed is raw frame after strip transform, crop and color modifiers.
	StagePreprocessed
	// StageComposite is strip blended over strips below it.
	StageComposite
	// StageFinal is sequencer output frame. Only final entries own chains.
	StageFinal
)

func (s Stage) Valid() bool     { return s >= StageRaw && s <= StageFinal }
func (s Stage) Mask() StageMask { return 1 << (s - 1) }

func (s Stage) String() string {
	switch s {
	case StageRaw:
		return "raw"
	case StagePreprocessed:
		return "preprocessed"
	case StageComposite:
		return "composite"
	case StageFinal:
		return "final"
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// StageMask is set of stages.
type StageMask uint8

const (
	MaskRaw          = StageMask(1 << (StageRaw - 1))
	MaskPreprocessed = StageMask(1 << (StagePreprocessed - 1))
	MaskComposite    = StageMask(1 << (StageComposite - 1))
	MaskFinal        = StageMask(1 << (StageFinal - 1))
	// MaskSources are stages, that are produced from single strip data.
	MaskSources = MaskRaw | MaskPreprocessed | MaskComposite
	MaskAll     = MaskSources | MaskFinal
)

func (m StageMask) Has(s Stage) bool { return m&s.Mask() != 0 }

// RenderContext describes output settings, that affect rendered pixels.
// Buffers rendered with different contexts are different entries.
type RenderContext struct {
	Scene             SceneID
	RectX             int
	RectY             int
	PreviewRenderSize int // Percent of full resolution.
	UseProxies        bool
	MotionBlurSamples int
	ViewID            int
}

// FrameRange is half open timeline frame interval [Start, End).
type FrameRange struct {
	Start float64
	End   float64
}

func (r FrameRange) Contains(frame float64) bool {
	return frame >= r.Start && frame < r.End
}

// Strip is the part of sequencer strip model, that cache depends on.
type Strip interface {
	ID() StripID
	// Range returns timeline frames, that strip occupies.
	Range() FrameRange
	// MediaFrame maps timeline frame to frame of underlying media.
	MediaFrame(timelineFrame float64) float64
}

// Key identifies cache entry. Task is part of identity only for temp keys.
type Key struct {
	Strip   StripID
	Context RenderContext
	Frame   float64
	Stage   Stage
	Temp    bool
	Task    TaskID
}

// NewKey returns key of non temp entry rendered for timelineFrame.
// Invalid arguments are pipeline bugs and cause panic.
func NewKey(ctx RenderContext, strip Strip, timelineFrame float64, stage Stage) Key {
	mustValid(strip, timelineFrame, stage)
	frame := frameIndex(strip, timelineFrame, stage)
	if math.IsNaN(frame) {
		panic("strip mapped frame to NaN")
	}
	return Key{
		Strip:   strip.ID(),
		Context: ctx,
		Frame:   frame,
		Stage:   stage,
	}
}

// NewTempKey returns key of temp entry owned by task.
func NewTempKey(ctx RenderContext, strip Strip, timelineFrame float64, stage Stage, task TaskID) Key {
	k := NewKey(ctx, strip, timelineFrame, stage)
	k.Temp = true
	k.Task = task
	return k
}

func frameIndex(strip Strip, timelineFrame float64, stage Stage) float64 {
	if stage == StageRaw {
		return strip.MediaFrame(timelineFrame)
	}
	return timelineFrame
}

func mustValid(strip Strip, timelineFrame float64, stage Stage) {
	if strip == nil {
		panic("nil strip")
	}
	if strip.ID() == 0 {
		panic("zero strip id")
	}
	if math.IsNaN(timelineFrame) {
		panic("NaN timeline frame")
	}
	if !stage.Valid() {
		panic("invalid stage: " + stage.String())
	}
}

// rekeyed returns key of the same entry belonging to other strip.
func (k Key) rekeyed(strip Strip, timelineFrame float64) Key {
	k.Strip = strip.ID()
	k.Frame = frameIndex(strip, timelineFrame, k.Stage)
	return k
}

func (k Key) String() string {
	s := fmt.Sprintf("{strip:%v scene:%v frame:%v stage:%v", k.Strip, k.Context.Scene, k.Frame, k.Stage)
	if k.Temp {
		s += fmt.Sprintf(" temp task:%v", k.Task)
	}
	return s + "}"
}
