package cache

// LinearStrip is Strip playing media with constant speed.
// Timeline frame Frames.Start shows media frame MediaStart.
type LinearStrip struct {
	StripID    StripID
	Frames     FrameRange
	MediaStart float64
	// Speed is media frames per timeline frame. Zero means 1.
	Speed float64
}

var _ Strip = LinearStrip{}

func (s LinearStrip) ID() StripID        { return s.StripID }
func (s LinearStrip) Range() FrameRange { return s.Frames }

func (s LinearStrip) MediaFrame(timelineFrame float64) float64 {
	speed := s.Speed
	if speed == 0 {
		speed = 1
	}
	return s.MediaStart + float64(int64((timelineFrame-s.Frames.Start)*speed))
}
