// Package call runs the voice capture state machine for one live call:
// recorder chunks in, filtered transcript fragments and flushed utterances
// out. All state transitions happen on a single goroutine fed by one event
// queue, so there is no locking and no reentrancy.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// CaptureHints are passed to the recorder on acquisition.
type CaptureHints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	ChannelCount     int
	ChunkInterval    time.Duration
}

// Recorder abstracts the audio source. Start returns a channel of encoded
// audio slices; the first slice is the container header.
type Recorder interface {
	Start(ctx context.Context, hints CaptureHints) (<-chan []byte, error)
	Pause()
	Resume()
	// Flush asks for a final partial chunk ahead of schedule.
	Flush()
	Stop()
}

// Transcriber matches stt.Transcriber.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, lang string) (string, error)
}

// Sink receives the machine's outputs.
type Sink interface {
	// Fragment is an accepted interim transcript piece.
	Fragment(text string)
	// Utterance is a complete flushed user turn.
	Utterance(text string)
	// StopAudio force-stops assistant playback (barge-in, speak-off).
	StopAudio()
}

type Config struct {
	Lang          string
	Filter        FilterPolicy
	ChunkInterval time.Duration // recorder slice length
	FlushIdle     time.Duration // quiet period that completes a flush
	FlushMax      time.Duration // hard flush deadline
}

func (c *Config) applyDefaults() {
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = 850 * time.Millisecond
	}
	if c.FlushIdle <= 0 {
		c.FlushIdle = 900 * time.Millisecond
	}
	if c.FlushMax <= 0 {
		c.FlushMax = 1600 * time.Millisecond
	}
	if len(c.Filter.BannedPatterns) == 0 && c.Filter.MinChars == 0 {
		c.Filter = DefaultFilterPolicy()
	}
}

type eventKind int

const (
	evChunk eventKind = iota
	evTranscriptDone
	evPlaybackStarted
	evPlaybackEnded
	evSpeakingStarted
	evSpeakingStopped
	evSpeakToggled
	evEnd
	evBarrier
)

type event struct {
	kind eventKind
	data []byte
	text string
	err  error
	on   bool
	done chan struct{}
}

type clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Machine is the per-call state machine.
type Machine struct {
	cfg   Config
	rec   Recorder
	stt   Transcriber
	sink  Sink
	log   *slog.Logger
	clock clock

	events chan event
	done   chan struct{}

	// Everything below is owned by the run goroutine.
	active     bool
	speaking   bool
	playing    bool
	header     []byte
	inFlight   bool
	pending    []byte
	utterance  string
	lastAppend string

	flushing  bool
	idleTimer <-chan time.Time
	hardTimer <-chan time.Time
}

func NewMachine(cfg Config, rec Recorder, transcriber Transcriber, sink Sink, log *slog.Logger) *Machine {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		cfg:    cfg,
		rec:    rec,
		stt:    transcriber,
		sink:   sink,
		log:    log,
		clock:  realClock{},
		events: make(chan event, 64),
		done:   make(chan struct{}),
	}
}

// Start acquires the recorder and begins processing. Microphone acquisition
// failure aborts the call.
func (m *Machine) Start(ctx context.Context) error {
	chunks, err := m.rec.Start(ctx, CaptureHints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		ChannelCount:     1,
		ChunkInterval:    m.cfg.ChunkInterval,
	})
	if err != nil {
		return fmt.Errorf("acquire recorder: %w", err)
	}
	m.active = true
	m.speaking = true

	go m.pump(ctx, chunks)
	go m.run(ctx)
	return nil
}

func (m *Machine) pump(ctx context.Context, chunks <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case data, ok := <-chunks:
			if !ok {
				return
			}
			m.post(event{kind: evChunk, data: data})
		}
	}
}

func (m *Machine) post(ev event) {
	select {
	case <-m.done:
		if ev.done != nil {
			close(ev.done)
		}
	case m.events <- ev:
	}
}

// Done is closed once the call has fully ended.
func (m *Machine) Done() <-chan struct{} { return m.done }

func (m *Machine) PlaybackStarted()     { m.post(event{kind: evPlaybackStarted}) }
func (m *Machine) PlaybackEnded()       { m.post(event{kind: evPlaybackEnded}) }
func (m *Machine) SpeakingStarted()     { m.post(event{kind: evSpeakingStarted}) }
func (m *Machine) SpeakingStopped()     { m.post(event{kind: evSpeakingStopped}) }
func (m *Machine) SpeakToggled(on bool) { m.post(event{kind: evSpeakToggled, on: on}) }
func (m *Machine) End()                 { m.post(event{kind: evEnd}) }

// barrier blocks until every previously posted event has been processed.
func (m *Machine) barrier() {
	done := make(chan struct{})
	m.post(event{kind: evBarrier, done: done})
	<-done
}

func (m *Machine) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.end()
			return
		case <-m.idleTimer:
			m.idleTimer = nil
			if m.flushing && !m.inFlight {
				m.finishFlush()
			}
		case <-m.hardTimer:
			m.hardTimer = nil
			if m.flushing {
				m.finishFlush()
			}
		case ev := <-m.events:
			if m.handle(ctx, ev); !m.active {
				return
			}
		}
	}
}

func (m *Machine) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evBarrier:
		close(ev.done)
	case evChunk:
		m.onChunk(ctx, ev.data)
	case evTranscriptDone:
		m.onTranscriptDone(ctx, ev.text, ev.err)
	case evPlaybackStarted:
		m.playing = true
		m.rec.Pause()
	case evPlaybackEnded:
		m.playing = false
		if m.active {
			m.rec.Resume()
		}
	case evSpeakingStarted:
		if m.playing {
			// Barge-in: the user talking over the assistant wins.
			m.sink.StopAudio()
			m.playing = false
			m.rec.Resume()
		}
		m.utterance = ""
		m.lastAppend = ""
		m.speaking = true
	case evSpeakingStopped:
		m.speaking = false
		m.rec.Flush()
		m.flushing = true
		m.idleTimer = m.clock.After(m.cfg.FlushIdle)
		m.hardTimer = m.clock.After(m.cfg.FlushMax)
	case evSpeakToggled:
		if !ev.on {
			m.sink.StopAudio()
			m.playing = false
		}
	case evEnd:
		m.end()
	}
}

func (m *Machine) onChunk(ctx context.Context, data []byte) {
	if !m.active || len(data) == 0 {
		return
	}
	if m.header == nil {
		m.header = data
		return
	}
	if m.playing {
		return
	}
	assembled := make([]byte, 0, len(m.header)+len(data))
	assembled = append(assembled, m.header...)
	assembled = append(assembled, data...)
	if m.inFlight {
		// Only the newest chunk waits; older pending audio is stale.
		m.pending = assembled
		return
	}
	m.transcribe(ctx, assembled)
}

func (m *Machine) transcribe(ctx context.Context, audio []byte) {
	m.inFlight = true
	go func() {
		text, err := m.stt.Transcribe(ctx, audio, m.cfg.Lang)
		m.post(event{kind: evTranscriptDone, text: text, err: err})
	}()
}

func (m *Machine) onTranscriptDone(ctx context.Context, text string, err error) {
	m.inFlight = false
	switch {
	case err != nil:
		if !errors.Is(err, context.Canceled) {
			m.log.Debug("chunk transcription failed", "error", err)
		}
	case m.active && text != "":
		if usable, ok := m.cfg.Filter.AcceptFragment(text, m.cfg.Lang); ok && (m.speaking || m.flushing) {
			if usable != m.lastAppend {
				if m.utterance == "" {
					m.utterance = usable
				} else {
					m.utterance += " " + usable
				}
				m.lastAppend = usable
				m.sink.Fragment(usable)
				if m.flushing {
					m.idleTimer = m.clock.After(m.cfg.FlushIdle)
				}
			}
		}
	}

	if m.pending != nil {
		next := m.pending
		m.pending = nil
		if m.active && !m.playing {
			m.transcribe(ctx, next)
			return
		}
	}
	if m.flushing && !m.inFlight && m.idleTimer == nil {
		m.finishFlush()
	}
}

func (m *Machine) finishFlush() {
	m.flushing = false
	m.idleTimer = nil
	m.hardTimer = nil
	final := m.utterance
	m.utterance = ""
	m.lastAppend = ""
	cleaned := m.cfg.Filter.SanitizeFinal(final, m.cfg.Lang)
	if cleaned != "" {
		m.sink.Utterance(cleaned)
	}
}

// end tears the call down; safe to reach more than once.
func (m *Machine) end() {
	if !m.active {
		return
	}
	m.active = false
	m.speaking = false
	m.flushing = false
	m.playing = false
	m.inFlight = false
	m.pending = nil
	m.header = nil
	m.utterance = ""
	m.lastAppend = ""
	m.idleTimer = nil
	m.hardTimer = nil
	m.rec.Stop()
	m.sink.StopAudio()
	close(m.done)
}
