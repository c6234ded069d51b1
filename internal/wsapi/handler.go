// Package wsapi implements the Connection Handler (§4.8): it upgrades an
// HTTP request to a WebSocket connection, enforces the config-first
// protocol, and drives one session's inbound messages to completion. The
// read/write-pump split and per-connection goroutine follow the pattern
// used for the gateway's other long-lived streaming connections.
package wsapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-gateway/internal/apperr"
	"speech-gateway/internal/events"
	"speech-gateway/internal/observability/logging"
	"speech-gateway/internal/observability/metrics"
	"speech-gateway/internal/protocol"
	"speech-gateway/internal/schema"
	"speech-gateway/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 8 << 20 // 8 MiB: generous for a single binary audio chunk

	// maxInboundQueue bounds the backlog of messages awaiting the pipeline
	// goroutine (§5 Backpressure). Audio chunks queued here have not yet
	// been pushed through the ring buffer/VAD — they are, by definition,
	// "unframed" — so they are what gets dropped when the gateway falls
	// behind, never already-framed audio (which has already left the
	// queue) and never control messages.
	maxInboundQueue = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Handler upgrades connections and binds each to a freshly created Session.
// publisher/validator are optional: a nil publisher disables transcript
// export entirely (events.Publisher already no-ops when Kafka is disabled,
// but a nil *Publisher lets tests skip constructing one at all).
type Handler struct {
	manager   *session.Manager
	metrics   *metrics.Metrics
	publisher *events.Publisher
	validator *schema.Validator
}

func New(manager *session.Manager, m *metrics.Metrics, publisher *events.Publisher, validator *schema.Validator) *Handler {
	return &Handler{manager: manager, metrics: m, publisher: publisher, validator: validator}
}

// ServeHTTP upgrades the request and runs the connection to completion.
// Blocks until the client disconnects or the session is closed.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess, err := h.manager.Create(ctx)
	if err != nil {
		h.rejectBusy(conn, err)
		return
	}

	// The session can close on paths this goroutine isn't driving (the
	// idle sweeper, a fatal pipeline error reached from a concurrent
	// Ingest call). Without this hook the manager slot frees but the
	// socket and the read/pipeline/write goroutines below leak until the
	// client happens to disconnect on its own.
	sess.OnClose(func() {
		cancel()
		conn.Close()
	})

	c := &connection{
		conn:      conn,
		session:   sess,
		metrics:   h.metrics,
		publisher: h.publisher,
		validator: h.validator,
		logger:    logging.WithSession(sess.ID()),
		out:       make(chan protocol.ServerEvent, 64),
		wake:      make(chan struct{}, 1),
	}
	c.logger.Info().Msg("connection established")

	go c.writePump()

	pipelineDone := make(chan struct{})
	go func() {
		c.pipelineLoop(ctx)
		close(pipelineDone)
	}()

	c.out <- protocol.NewSessionCreatedEvent(sess.ID())

	c.readPump()
	c.stopInbound()
	<-pipelineDone

	sess.Close()
	close(c.out)
	c.logger.Info().Msg("connection closed")
}

// rejectBusy replies with one Error event and closes, per §4.7: excess
// connections are rejected with ServerBusy at accept time, before a
// session (and its outbound event loop) ever exists.
func (h *Handler) rejectBusy(conn *websocket.Conn, err error) {
	payload, _ := json.Marshal(protocol.NewErrorEvent(err.Error()))
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, payload)
	_ = conn.Close()
}

// inboundKind distinguishes queued messages so the bounded inbound queue
// can selectively drop audio without ever dropping control messages.
type inboundKind int

const (
	inboundAudio inboundKind = iota
	inboundText
)

type inboundItem struct {
	kind inboundKind
	data []byte
}

// connection binds one upgraded WebSocket to one Session. readPump is the
// only reader, and does nothing but enqueue; a single pipelineLoop goroutine
// drains the queue and drives the session, so the Session is still advanced
// by exactly one goroutine at a time. writePump is the only writer,
// serializing outbound events per connection (§4.6's "no interleaving
// within a connection").
type connection struct {
	conn      *websocket.Conn
	session   *session.Session
	metrics   *metrics.Metrics
	publisher *events.Publisher
	validator *schema.Validator
	logger    zerolog.Logger
	out       chan protocol.ServerEvent

	inboundMu      sync.Mutex
	inboundQ       []inboundItem
	inboundStopped bool
	wake           chan struct{}
}

func (c *connection) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			c.enqueue(inboundItem{kind: inboundAudio, data: data})
		case websocket.TextMessage:
			c.enqueue(inboundItem{kind: inboundText, data: data})
		}
	}
}

// enqueue appends to the bounded inbound queue (§5 Backpressure). When full,
// it drops the oldest queued audio chunk to make room rather than blocking
// the socket reader or the new message; control messages are never dropped.
func (c *connection) enqueue(item inboundItem) {
	c.inboundMu.Lock()
	if item.kind == inboundAudio && len(c.inboundQ) >= maxInboundQueue {
		for i, q := range c.inboundQ {
			if q.kind == inboundAudio {
				c.inboundQ = append(c.inboundQ[:i], c.inboundQ[i+1:]...)
				c.logger.Warn().Msg("inbound queue full, dropped oldest unframed audio chunk")
				break
			}
		}
	}
	c.inboundQ = append(c.inboundQ, item)
	c.inboundMu.Unlock()
	c.signalWake()
}

func (c *connection) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// stopInbound tells pipelineLoop no further messages will be enqueued; it
// drains whatever is already queued and then exits.
func (c *connection) stopInbound() {
	c.inboundMu.Lock()
	c.inboundStopped = true
	c.inboundMu.Unlock()
	c.signalWake()
}

// pipelineLoop is the single goroutine that drives the session: it is the
// only caller of Session.Ingest/ApplyConfig/Finalize for this connection,
// preserving the one-goroutine-at-a-time invariant session.Session depends
// on even though its own inbound reader (readPump) runs concurrently.
func (c *connection) pipelineLoop(ctx context.Context) {
	for {
		c.inboundMu.Lock()
		var item inboundItem
		has := len(c.inboundQ) > 0
		if has {
			item = c.inboundQ[0]
			c.inboundQ = c.inboundQ[1:]
		}
		stopped := c.inboundStopped
		c.inboundMu.Unlock()

		if !has {
			if stopped {
				return
			}
			<-c.wake
			continue
		}

		var events []protocol.ServerEvent
		var fatal bool
		switch item.kind {
		case inboundAudio:
			events, fatal = c.handleAudio(ctx, item.data)
		case inboundText:
			events, fatal = c.handleText(ctx, item.data)
		}

		for _, ev := range events {
			c.export(ctx, ev)
			c.out <- ev
		}
		if fatal {
			c.conn.Close()
			c.stopInbound()
			return
		}
	}
}

// export validates and publishes a partial/final transcript to Kafka,
// independent of the client-facing write. Best-effort: a publish failure
// is logged, never surfaced to the client.
func (c *connection) export(ctx context.Context, ev protocol.ServerEvent) {
	if c.publisher == nil {
		return
	}

	switch e := ev.(type) {
	case protocol.PartialEvent:
		if c.validator != nil {
			if err := c.validator.Validate(e); err != nil {
				c.logger.Warn().Err(err).Msg("partial event failed validation, skipping export")
				return
			}
		}
		if err := c.publisher.PublishPartial(ctx, c.session.ID(), e); err != nil {
			c.logger.Warn().Err(err).Msg("failed to publish partial transcript")
		}
	case protocol.FinalEvent:
		if c.validator != nil {
			if err := c.validator.Validate(e); err != nil {
				c.logger.Warn().Err(err).Msg("final event failed validation, skipping export")
				return
			}
		}
		if err := c.publisher.PublishFinal(ctx, c.session.ID(), e); err != nil {
			c.logger.Warn().Err(err).Msg("failed to publish final transcript")
		}
	}
}

func (c *connection) handleAudio(ctx context.Context, data []byte) ([]protocol.ServerEvent, bool) {
	samples := bytesToFloat32LE(data)
	if c.metrics != nil {
		c.metrics.RecordAudioReceived(len(samples))
	}

	events, err := c.session.Ingest(ctx, samples)
	if err == nil {
		return events, false
	}
	return c.disposeError(events, err)
}

func (c *connection) handleText(ctx context.Context, data []byte) ([]protocol.ServerEvent, bool) {
	var envelope protocol.ClientMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.recordProtocolError(apperr.BadMessage)
		return []protocol.ServerEvent{protocol.NewErrorEvent("malformed message")}, false
	}

	switch envelope.Type {
	case "config":
		var msg protocol.ConfigMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.recordProtocolError(apperr.BadMessage)
			return []protocol.ServerEvent{protocol.NewErrorEvent("malformed config message")}, false
		}
		if err := c.session.ApplyConfig(ctx, &msg); err != nil {
			return c.disposeError(nil, err)
		}
		return nil, false

	case "finalize":
		events, err := c.session.Finalize(ctx)
		if err != nil {
			return c.disposeError(events, err)
		}
		return events, false

	default:
		c.recordProtocolError(apperr.BadMessage)
		return []protocol.ServerEvent{protocol.NewErrorEvent("unknown message type")}, false
	}
}

// disposeError applies the error taxonomy's disposition (§7): silent kinds
// emit nothing, fatal kinds additionally terminate the read loop.
func (c *connection) disposeError(events []protocol.ServerEvent, err error) ([]protocol.ServerEvent, bool) {
	var ae *apperr.Error
	kind := apperr.BadMessage
	if errors.As(err, &ae) {
		kind = ae.Kind
	}
	c.recordProtocolError(kind)

	if kind.Silent() {
		return events, false
	}

	c.logger.Warn().Str("kind", kind.String()).Err(err).Msg("session error")
	events = append(events, protocol.NewErrorEvent(err.Error()))
	return events, kind.Fatal()
}

func (c *connection) recordProtocolError(kind apperr.Kind) {
	if c.metrics != nil {
		c.metrics.RecordProtocolError(kind.String())
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case ev, ok := <-c.out:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				c.logger.Error().Err(err).Msg("failed to marshal event")
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// bytesToFloat32LE decodes little-endian float32 PCM samples (§6.1). Any
// trailing bytes that don't form a complete sample are dropped.
func bytesToFloat32LE(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(data[4*i]) | uint32(data[4*i+1])<<8 | uint32(data[4*i+2])<<16 | uint32(data[4*i+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
