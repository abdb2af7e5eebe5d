// Package pipeline runs captured frames through sampling, identification,
// cooldown and the attendance ledger.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"faceattend/internal/attendance"
	"faceattend/internal/capture"
	"faceattend/internal/logger"
	"faceattend/internal/metrics"
)

// Identifier recognises the faces in a frame.
type Identifier interface {
	Identify(ctx context.Context, frame capture.Frame) ([]attendance.Detection, error)
}

// Action says what happened to one detection.
type Action string

const (
	ActionDisplay    Action = "display"  // unknown face, annotation only
	ActionCooldown   Action = "cooldown" // known face inside the cooldown window
	ActionTransition Action = "transition"
	ActionRejected   Action = "rejected" // the ledger refused or failed
)

// Event is the result of one detection of a frame.
type Event struct {
	Seq       uint64
	Detection attendance.Detection
	Action    Action
	Outcome   attendance.Outcome
	At        time.Time
	Err       error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records stage counters on rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = rec }
}

// WithLogger sets the pipeline logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithClock overrides the timestamp used for frames without a capture time.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithEventHook calls fn with the events of every analysed frame.
func WithEventHook(fn func([]Event)) Option {
	return func(p *Pipeline) { p.hook = fn }
}

// Pipeline is driven by a single capture loop and is not safe for concurrent
// HandleFrame calls.
type Pipeline struct {
	sampler  *attendance.SamplingGate
	ident    Identifier
	cooldown *attendance.CooldownGate
	ledger   *attendance.Ledger

	metrics *metrics.Recorder
	log     logger.Logger
	now     func() time.Time
	hook    func([]Event)
}

// New wires the stages together.
func New(sampler *attendance.SamplingGate, ident Identifier, cooldown *attendance.CooldownGate, ledger *attendance.Ledger, opts ...Option) *Pipeline {
	p := &Pipeline{
		sampler:  sampler,
		ident:    ident,
		cooldown: cooldown,
		ledger:   ledger,
		log:      logger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleFrame processes one frame and returns one event per detection.
// Frames skipped by the sampler, and frames whose identification failed,
// yield no events.
func (p *Pipeline) HandleFrame(ctx context.Context, frame capture.Frame) []Event {
	p.metrics.FrameReceived()
	if _, analyse := p.sampler.Next(); !analyse {
		return nil
	}
	p.metrics.FrameSampled()

	dets, err := p.ident.Identify(ctx, frame)
	if err != nil {
		p.metrics.IdentifyFailed()
		p.log.Warn(ctx, "identify failed",
			logger.Uint64("seq", frame.Seq),
			logger.String("device", frame.DeviceID),
			logger.Error(err))
		return nil
	}
	if len(dets) == 0 {
		return nil
	}

	at := frame.CapturedAt
	if at.IsZero() {
		at = p.now()
	}

	events := make([]Event, 0, len(dets))
	for _, det := range dets {
		events = append(events, p.handleDetection(ctx, frame.Seq, det, at))
	}
	p.metrics.CooldownSize(p.cooldown.Size())

	if p.hook != nil {
		p.hook(events)
	}
	return events
}

func (p *Pipeline) handleDetection(ctx context.Context, seq uint64, det attendance.Detection, at time.Time) Event {
	// Cooldown and ledger must agree on the key.
	det.Identity = strings.TrimSpace(det.Identity)
	ev := Event{Seq: seq, Detection: det, At: at}
	if !det.Known() {
		p.metrics.Detection(metrics.KindUnknown)
		ev.Action = ActionDisplay
		return ev
	}
	p.metrics.Detection(metrics.KindKnown)

	if !p.cooldown.Accept(det.Identity, at) {
		p.metrics.CooldownRejected()
		ev.Action = ActionCooldown
		return ev
	}

	outcome, err := p.ledger.Transition(ctx, det.Identity, at)
	if err != nil {
		ev.Action = ActionRejected
		ev.Err = err
		if errors.Is(err, attendance.ErrCheckOutBeforeCheckIn) {
			p.log.Warn(ctx, "check-out not after check-in",
				logger.String("identity", det.Identity), logger.Time("at", at))
			return ev
		}
		p.metrics.LedgerFailed()
		p.log.Error(ctx, "ledger transition failed",
			logger.String("identity", det.Identity),
			logger.Time("at", at),
			logger.Error(err))
		return ev
	}

	p.metrics.Transition(string(outcome))
	ev.Action = ActionTransition
	ev.Outcome = outcome
	if outcome != attendance.OutcomeAlreadyComplete {
		p.log.Info(ctx, "attendance recorded",
			logger.String("identity", det.Identity),
			logger.String("outcome", string(outcome)),
			logger.Float64("confidence", det.Confidence),
			logger.Time("at", at))
	}
	return ev
}

// Run handles frames until ctx is done or frames is closed.
func (p *Pipeline) Run(ctx context.Context, frames <-chan capture.Frame) error {
	p.log.Info(ctx, "pipeline started", logger.Int("sample_every", p.sampler.Every()),
		logger.Duration("cooldown", p.cooldown.Window()))
	for {
		select {
		case <-ctx.Done():
			p.log.Info(ctx, "pipeline stopped")
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				p.log.Info(ctx, "frame source closed")
				return nil
			}
			p.HandleFrame(ctx, frame)
		}
	}
}
