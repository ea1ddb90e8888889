package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeRecorder struct {
	mu      sync.Mutex
	chunks  chan []byte
	failure error
	pauses  int
	resumes int
	flushes int
	stops   int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{chunks: make(chan []byte, 16)}
}

func (r *fakeRecorder) Start(context.Context, CaptureHints) (<-chan []byte, error) {
	if r.failure != nil {
		return nil, r.failure
	}
	return r.chunks, nil
}

func (r *fakeRecorder) Pause()  { r.mu.Lock(); r.pauses++; r.mu.Unlock() }
func (r *fakeRecorder) Resume() { r.mu.Lock(); r.resumes++; r.mu.Unlock() }
func (r *fakeRecorder) Flush()  { r.mu.Lock(); r.flushes++; r.mu.Unlock() }
func (r *fakeRecorder) Stop()   { r.mu.Lock(); r.stops++; r.mu.Unlock() }

func (r *fakeRecorder) counts() (pauses, resumes, flushes, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pauses, r.resumes, r.flushes, r.stops
}

type sttCall struct {
	audio []byte
}

type fakeSTT struct {
	mu      sync.Mutex
	calls   []sttCall
	text    string
	err     error
	block   chan struct{} // non-nil: Transcribe waits until closed
	started chan struct{}
}

func (s *fakeSTT) Transcribe(_ context.Context, audio []byte, _ string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, sttCall{audio: audio})
	block := s.block
	started := s.started
	s.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return s.text, s.err
}

func (s *fakeSTT) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSTT) lastAudio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return nil
	}
	return s.calls[len(s.calls)-1].audio
}

type fakeSink struct {
	mu         sync.Mutex
	fragments  chan string
	utterances chan string
	stops      int
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		fragments:  make(chan string, 16),
		utterances: make(chan string, 16),
	}
}

func (s *fakeSink) Fragment(text string)  { s.fragments <- text }
func (s *fakeSink) Utterance(text string) { s.utterances <- text }
func (s *fakeSink) StopAudio()            { s.mu.Lock(); s.stops++; s.mu.Unlock() }

func (s *fakeSink) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakeClock struct {
	mu     sync.Mutex
	afters []struct {
		d  time.Duration
		ch chan time.Time
	}
}

func (c *fakeClock) Now() time.Time { return time.Unix(0, 0) }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.afters = append(c.afters, struct {
		d  time.Duration
		ch chan time.Time
	}{d, ch})
	return ch
}

// fire triggers the newest pending timer armed with the given duration.
func (c *fakeClock) fire(d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.afters) - 1; i >= 0; i-- {
		if c.afters[i].d == d {
			c.afters[i].ch <- time.Unix(1, 0)
			c.afters = append(c.afters[:i], c.afters[i+1:]...)
			return true
		}
	}
	return false
}

const accepted = "I want a 3 bedroom home under 800k in Austin"

func recv(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for output")
		return ""
	}
}

func startMachine(t *testing.T, rec *fakeRecorder, stt *fakeSTT, sink *fakeSink) (*Machine, *fakeClock) {
	t.Helper()
	m := NewMachine(Config{Lang: "en"}, rec, stt, sink, nil)
	fc := &fakeClock{}
	m.clock = fc
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(m.End)
	return m, fc
}

func TestStartFailsWithoutMicrophone(t *testing.T) {
	rec := newFakeRecorder()
	rec.failure = errors.New("mic denied")
	m := NewMachine(Config{}, rec, &fakeSTT{}, newFakeSink(), nil)
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
}

func TestHeaderChunkPrepended(t *testing.T) {
	rec := newFakeRecorder()
	stt := &fakeSTT{text: accepted}
	sink := newFakeSink()
	m, _ := startMachine(t, rec, stt, sink)

	rec.chunks <- []byte("HDR:")
	rec.chunks <- []byte("chunk1")
	if got := recv(t, sink.fragments); got != accepted {
		t.Fatalf("fragment = %q", got)
	}
	m.barrier()
	if stt.callCount() != 1 {
		t.Fatalf("stt calls = %d, want 1 (header chunk itself is never transcribed)", stt.callCount())
	}
	if got := string(stt.lastAudio()); got != "HDR:chunk1" {
		t.Fatalf("audio = %q, want header-prefixed chunk", got)
	}
}

func TestChunkDroppedDuringPlayback(t *testing.T) {
	rec := newFakeRecorder()
	stt := &fakeSTT{text: accepted}
	sink := newFakeSink()
	m, _ := startMachine(t, rec, stt, sink)

	rec.chunks <- []byte("HDR:")
	m.PlaybackStarted()
	rec.chunks <- []byte("while-playing")
	m.barrier()
	if stt.callCount() != 0 {
		t.Fatalf("stt calls = %d, want 0 during playback", stt.callCount())
	}
	pauses, _, _, _ := rec.counts()
	if pauses != 1 {
		t.Fatalf("pauses = %d, want 1", pauses)
	}

	m.PlaybackEnded()
	m.barrier()
	_, resumes, _, _ := rec.counts()
	if resumes != 1 {
		t.Fatalf("resumes = %d, want 1", resumes)
	}
}

func TestPendingChunkKeepsNewestOnly(t *testing.T) {
	rec := newFakeRecorder()
	stt := &fakeSTT{text: accepted, block: make(chan struct{}), started: make(chan struct{}, 4)}
	sink := newFakeSink()
	m, _ := startMachine(t, rec, stt, sink)

	rec.chunks <- []byte("HDR:")
	rec.chunks <- []byte("c1")
	<-stt.started // first transcription in flight

	// Queue the follow-up chunks directly on the event queue so both are
	// handled before the in-flight transcription is released. Going through
	// the pump goroutine here would race with the barrier below.
	m.post(event{kind: evChunk, data: []byte("c2")})
	m.post(event{kind: evChunk, data: []byte("c3")})
	m.barrier()
	close(stt.block)
	<-stt.started // pending chunk started

	recv(t, sink.fragments)
	m.barrier()
	if stt.callCount() != 2 {
		t.Fatalf("stt calls = %d, want 2 (c2 replaced by c3)", stt.callCount())
	}
	if got := string(stt.lastAudio()); got != "HDR:c3" {
		t.Fatalf("second audio = %q, want newest pending chunk", got)
	}
}

func TestTranscriptFilterRejectsOutro(t *testing.T) {
	rec := newFakeRecorder()
	stt := &fakeSTT{text: "Thanks for watching, don't forget to subscribe!"}
	sink := newFakeSink()
	m, _ := startMachine(t, rec, stt, sink)

	rec.chunks <- []byte("HDR:")
	rec.chunks <- []byte("c1")
	m.barrier()
	// Allow the transcription goroutine to complete and its result to land.
	for i := 0; i < 50 && stt.callCount() == 0; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	m.barrier()
	select {
	case got := <-sink.fragments:
		t.Fatalf("outro fragment accepted: %q", got)
	default:
	}
}

func TestDuplicateFragmentAppendedOnce(t *testing.T) {
	rec := newFakeRecorder()
	stt := &fakeSTT{text: accepted}
	sink := newFakeSink()
	m, fc := startMachine(t, rec, stt, sink)

	rec.chunks <- []byte("HDR:")
	rec.chunks <- []byte("c1")
	recv(t, sink.fragments)
	rec.chunks <- []byte("c2") // same transcript again
	m.barrier()
	for i := 0; i < 50 && stt.callCount() < 2; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	m.barrier()

	m.SpeakingStopped()
	m.barrier()
	if !fc.fire(900 * time.Millisecond) {
		t.Fatal("idle timer not armed")
	}
	if got := recv(t, sink.utterances); got != accepted+"." {
		t.Fatalf("utterance = %q, want single appended fragment", got)
	}
}

func TestSpeakingStoppedFlushes(t *testing.T) {
	rec := newFakeRecorder()
	stt := &fakeSTT{text: accepted}
	sink := newFakeSink()
	m, fc := startMachine(t, rec, stt, sink)

	rec.chunks <- []byte("HDR:")
	rec.chunks <- []byte("c1")
	recv(t, sink.fragments)

	m.SpeakingStopped()
	m.barrier()
	_, _, flushes, _ := rec.counts()
	if flushes != 1 {
		t.Fatalf("recorder flushes = %d, want 1", flushes)
	}
	if !fc.fire(900 * time.Millisecond) {
		t.Fatal("idle timer not armed")
	}
	if got := recv(t, sink.utterances); got != accepted+"." {
		t.Fatalf("utterance = %q", got)
	}

	// Buffer cleared: stopping again yields nothing.
	m.SpeakingStarted()
	m.SpeakingStopped()
	m.barrier()
	fc.fire(900 * time.Millisecond)
	m.barrier()
	select {
	case got := <-sink.utterances:
		t.Fatalf("unexpected second utterance %q", got)
	default:
	}
}

func TestFlushHardDeadline(t *testing.T) {
	rec := newFakeRecorder()
	stt := &fakeSTT{text: accepted, block: make(chan struct{}), started: make(chan struct{}, 4)}
	sink := newFakeSink()
	m, fc := startMachine(t, rec, stt, sink)

	rec.chunks <- []byte("HDR:")
	rec.chunks <- []byte("c1")
	<-stt.started

	m.SpeakingStopped()
	m.barrier()
	// Idle fires while a transcription is still in flight: no flush yet.
	if !fc.fire(900 * time.Millisecond) {
		t.Fatal("idle timer not armed")
	}
	m.barrier()
	select {
	case got := <-sink.utterances:
		t.Fatalf("flushed while transcription in flight: %q", got)
	default:
	}
	// The hard deadline flushes regardless.
	if !fc.fire(1600 * time.Millisecond) {
		t.Fatal("hard timer not armed")
	}
	m.barrier()
	close(stt.block)
}

func TestBargeInStopsPlayback(t *testing.T) {
	rec := newFakeRecorder()
	sink := newFakeSink()
	m, _ := startMachine(t, rec, &fakeSTT{}, sink)

	m.PlaybackStarted()
	m.SpeakingStarted()
	m.barrier()
	if sink.stopCount() != 1 {
		t.Fatalf("stop audio calls = %d, want 1", sink.stopCount())
	}
	_, resumes, _, _ := rec.counts()
	if resumes != 1 {
		t.Fatalf("resumes = %d, want recorder back on after barge-in", resumes)
	}
}

func TestSpeakToggleOffStopsAudio(t *testing.T) {
	rec := newFakeRecorder()
	sink := newFakeSink()
	m, _ := startMachine(t, rec, &fakeSTT{}, sink)

	m.PlaybackStarted()
	m.SpeakToggled(false)
	m.barrier()
	if sink.stopCount() != 1 {
		t.Fatalf("stop audio calls = %d, want 1", sink.stopCount())
	}
}

func TestEndCallIdempotentAndNoResume(t *testing.T) {
	rec := newFakeRecorder()
	sink := newFakeSink()
	m, _ := startMachine(t, rec, &fakeSTT{}, sink)

	m.PlaybackStarted()
	m.End()
	<-m.Done()
	m.End() // second end is a no-op
	m.PlaybackEnded()

	_, resumes, _, stops := rec.counts()
	if stops != 1 {
		t.Fatalf("recorder stops = %d, want 1", stops)
	}
	if resumes != 0 {
		t.Fatalf("resumes = %d, playback end after hangup must not restart capture", resumes)
	}
}
