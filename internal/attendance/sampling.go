package attendance

// DefaultSampleEvery is how many frames pass between two recognition calls.
const DefaultSampleEvery = 10

// SamplingGate bounds recognition cost by analysing every Nth frame only.
// It is not safe for concurrent use; the capture loop owns it.
type SamplingGate struct {
	every uint64
	count uint64
}

// NewSamplingGate creates a gate analysing one frame out of every.
func NewSamplingGate(every int) *SamplingGate {
	if every <= 0 {
		every = DefaultSampleEvery
	}
	return &SamplingGate{every: uint64(every)}
}

// ShouldAnalyze reports whether the frame at frameIndex (1-based) goes to recognition.
func (g *SamplingGate) ShouldAnalyze(frameIndex uint64) bool {
	return frameIndex > 0 && frameIndex%g.every == 0
}

// Next advances the frame counter and returns the new index and its decision.
func (g *SamplingGate) Next() (uint64, bool) {
	g.count++
	return g.count, g.ShouldAnalyze(g.count)
}

// Every returns N.
func (g *SamplingGate) Every() int { return int(g.every) }
