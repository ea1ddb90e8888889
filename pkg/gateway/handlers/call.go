package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/casavox/casavox/pkg/chat/content"
	"github.com/casavox/casavox/pkg/voice/call"
	"github.com/casavox/casavox/pkg/voice/stt"
	"github.com/casavox/casavox/pkg/voice/tts"
)

// CallHandler handles /v1/call websocket sessions. The browser owns the
// microphone: binary frames carry recorded audio chunks in, JSON frames
// carry control events both ways, and synthesized speech goes out as binary
// frames.
type CallHandler struct {
	Engine      *Engine
	Transcriber stt.Transcriber
	Synthesizer tts.Synthesizer
	Logger      *slog.Logger

	ChunkInterval   time.Duration
	FlushIdle       time.Duration
	FlushMax        time.Duration
	MaxSessionTime  time.Duration
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	Voice           string
}

type callClientFrame struct {
	Type string `json:"type"`
	On   bool   `json:"on"`
	Lang string `json:"lang"`
}

type callServerFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Action  string `json:"action,omitempty"`
	Content any    `json:"content,omitempty"`
	Session string `json:"session_id,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (h *CallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cw := &callConn{conn: conn, writeTimeout: h.WriteTimeout}
	rec := &wsRecorder{out: cw, chunks: make(chan []byte, 16)}

	callID := "call_" + randomHex(8)
	bridge := &callBridge{
		out:    cw,
		engine: h.Engine,
		synth:  h.Synthesizer,
		voice:  h.Voice,
		userID: userID(r),
		log:    h.log(),
	}

	machine := call.NewMachine(call.Config{
		Lang:          r.URL.Query().Get("lang"),
		Filter:        call.DefaultFilterPolicy(),
		ChunkInterval: h.ChunkInterval,
		FlushIdle:     h.FlushIdle,
		FlushMax:      h.FlushMax,
	}, rec, h.Transcriber, bridge, h.log())
	bridge.machine = machine

	if err := machine.Start(ctx); err != nil {
		_ = cw.writeJSON(callServerFrame{Type: "error", Code: "capture_failed", Text: "could not start audio capture"})
		return
	}
	_ = cw.writeJSON(callServerFrame{Type: "call_started", Session: callID})

	if h.MaxSessionTime > 0 {
		timer := time.AfterFunc(h.MaxSessionTime, machine.End)
		defer timer.Stop()
	}
	if h.PingInterval > 0 {
		go h.pingLoop(ctx, cw)
	}

	go func() {
		<-machine.Done()
		_ = cw.writeJSON(callServerFrame{Type: "call_ended"})
		cancel()
		_ = conn.Close()
	}()

	h.readLoop(conn, rec, machine, bridge)
	machine.End()
	<-machine.Done()
}

func (h *CallHandler) readLoop(conn *websocket.Conn, rec *wsRecorder, machine *call.Machine, bridge *callBridge) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			buf := make([]byte, len(data))
			copy(buf, data)
			rec.deliver(buf)
		case websocket.TextMessage:
			var frame callClientFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			switch frame.Type {
			case "speaking_started":
				machine.SpeakingStarted()
			case "speaking_stopped":
				machine.SpeakingStopped()
			case "playback_started":
				machine.PlaybackStarted()
			case "playback_ended":
				machine.PlaybackEnded()
			case "speak_toggled":
				machine.SpeakToggled(frame.On)
			case "end":
				machine.End()
				return
			default:
				h.log().Debug("unknown call frame", "type", frame.Type)
			}
		}
	}
}

func (h *CallHandler) pingLoop(ctx context.Context, cw *callConn) {
	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cw.writeControl(websocket.PingMessage); err != nil {
				return
			}
		}
	}
}

func (h *CallHandler) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// callConn serializes websocket writes; gorilla connections allow one
// concurrent writer.
type callConn struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *callConn) deadline() time.Time {
	if c.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.writeTimeout)
}

func (c *callConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(c.deadline())
	return c.conn.WriteJSON(v)
}

func (c *callConn) writeBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(c.deadline())
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *callConn) writeControl(messageType int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(messageType, nil, time.Now().Add(5*time.Second))
}

// wsRecorder adapts the browser recorder to call.Recorder. Capture control
// travels to the client as JSON frames; audio arrives on the chunks channel
// fed by the read loop.
type wsRecorder struct {
	out    *callConn
	chunks chan []byte

	mu      sync.Mutex
	stopped bool
}

func (r *wsRecorder) Start(ctx context.Context, hints call.CaptureHints) (<-chan []byte, error) {
	err := r.out.writeJSON(callServerFrame{Type: "recorder", Action: "start"})
	if err != nil {
		return nil, err
	}
	return r.chunks, nil
}

func (r *wsRecorder) Pause() { _ = r.out.writeJSON(callServerFrame{Type: "recorder", Action: "pause"}) }
func (r *wsRecorder) Resume() {
	_ = r.out.writeJSON(callServerFrame{Type: "recorder", Action: "resume"})
}
func (r *wsRecorder) Flush() { _ = r.out.writeJSON(callServerFrame{Type: "recorder", Action: "flush"}) }

func (r *wsRecorder) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.chunks)
	r.mu.Unlock()
	_ = r.out.writeJSON(callServerFrame{Type: "recorder", Action: "stop"})
}

func (r *wsRecorder) deliver(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	select {
	case r.chunks <- data:
	default:
		// Inbound audio outran transcription; dropping one slice is
		// preferable to stalling the read loop.
	}
}

// callBridge is the machine's sink: it forwards fragments, runs the full
// turn on each utterance, and speaks the reply back over the socket.
type callBridge struct {
	out     *callConn
	engine  *Engine
	synth   tts.Synthesizer
	voice   string
	userID  string
	log     *slog.Logger
	machine *call.Machine

	mu        sync.Mutex
	sessionID string
}

func (b *callBridge) Fragment(text string) {
	_ = b.out.writeJSON(callServerFrame{Type: "fragment", Text: text})
}

func (b *callBridge) StopAudio() {
	_ = b.out.writeJSON(callServerFrame{Type: "stop_audio"})
}

func (b *callBridge) Utterance(text string) {
	_ = b.out.writeJSON(callServerFrame{Type: "utterance", Text: text})
	// The turn hits the model and possibly storage; keep the machine's
	// event loop free while it runs.
	go b.respond(text)
}

func (b *callBridge) respond(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	b.mu.Lock()
	sessionID := b.sessionID
	b.mu.Unlock()

	res, err := b.engine.Turn(ctx, TurnInput{
		UserID:    b.userID,
		SessionID: sessionID,
		Message:   text,
	})
	if err != nil {
		b.log.Warn("call turn failed", "error", err)
		_ = b.out.writeJSON(callServerFrame{Type: "error", Code: "turn_failed", Text: "could not process that"})
		return
	}

	b.mu.Lock()
	b.sessionID = res.SessionID
	b.mu.Unlock()

	_ = b.out.writeJSON(callServerFrame{Type: "reply", Session: res.SessionID, Content: apiContent(res.Reply)})

	spoken := spokenText(res.Reply)
	if spoken == "" || b.synth == nil {
		return
	}
	audio, err := b.synth.Speak(ctx, spoken, b.voice)
	if err != nil {
		b.log.Warn("call speech synthesis failed", "error", err)
		return
	}
	if err := b.out.writeBinary(audio); err == nil {
		b.machine.PlaybackStarted()
	}
}

// spokenText picks what the voice channel should say for a reply: the
// confirmation line of a structured reply, otherwise the plain text.
func spokenText(c content.Content) string {
	if c.Kind == content.KindUISpec && c.UISpec != nil {
		return c.UISpec.ConfirmationLine()
	}
	return c.Text
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}
