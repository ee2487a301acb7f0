package audio

// Framer accumulates floating-point microphone samples and cuts them into
// fixed-length PCM16LE frames. Frame length is constant for the lifetime of a
// capture session; every pushed sample lands in exactly one emitted frame,
// except the trailing partial buffer, which is discarded on stop rather than
// emitted undersized.
type Framer struct {
	frameSamples int
	buffer       []float64
}

// NewFramer creates a framer emitting frames of frameSamples samples each.
func NewFramer(frameSamples int) *Framer {
	if frameSamples <= 0 {
		frameSamples = 800
	}
	return &Framer{
		frameSamples: frameSamples,
		buffer:       make([]float64, 0, frameSamples),
	}
}

// FrameSamples returns the fixed frame length in samples.
func (f *Framer) FrameSamples() int {
	return f.frameSamples
}

// Push appends samples to the internal buffer and returns any complete frames
// produced, in order, as PCM16LE byte slices. No overlap, no drop: whenever
// the buffer reaches capacity exactly one frame is cut and the buffer resets.
func (f *Framer) Push(samples []float64) [][]byte {
	var frames [][]byte
	for _, s := range samples {
		f.buffer = append(f.buffer, s)
		if len(f.buffer) == f.frameSamples {
			frames = append(frames, f.cutFrame())
		}
	}
	return frames
}

// Pending returns the number of buffered samples not yet emitted.
func (f *Framer) Pending() int {
	return len(f.buffer)
}

// Reset discards the partially-filled trailing buffer. Called when capture
// stops.
func (f *Framer) Reset() {
	f.buffer = f.buffer[:0]
}

func (f *Framer) cutFrame() []byte {
	quantized := make([]int16, len(f.buffer))
	for i, s := range f.buffer {
		quantized[i] = QuantizeSample(s)
	}
	f.buffer = f.buffer[:0]
	return EncodePCM16(quantized)
}
