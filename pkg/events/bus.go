package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Sink delivers one marshaled frame to the client connection.
// Implemented by the websocket handler.
type Sink interface {
	Send(ctx context.Context, frame []byte) error
}

// busBuffer bounds the number of frames queued for delivery. Producers
// block when the buffer is full, which back-pressures the executioner
// rather than dropping frames.
const busBuffer = 64

// Bus is the per-session ordered publisher to one client connection.
//
// Publish methods marshal under a mutex and enqueue onto a single channel,
// so frames produced by the same logical operation are delivered in
// emission order. One goroutine drains the channel and writes to the sink;
// interleaving across sessions is unrestricted because each session owns
// its own Bus.
type Bus struct {
	sink   Sink
	logger *slog.Logger

	mu    sync.Mutex
	queue chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}

	// lastPlanSig deduplicates consecutive plan_update frames whose
	// (plan status, action statuses) are identical, keyed by plan id.
	lastPlanSig map[string]string
}

// NewBus creates a bus for one session and starts its delivery goroutine.
// ctx governs delivery: when it is cancelled (client disconnect) the bus
// stops writing and drops queued frames.
func NewBus(ctx context.Context, sink Sink) *Bus {
	b := &Bus{
		sink:        sink,
		logger:      slog.Default(),
		queue:       make(chan []byte, busBuffer),
		closed:      make(chan struct{}),
		done:        make(chan struct{}),
		lastPlanSig: make(map[string]string),
	}
	go b.run(ctx)
	return b
}

func (b *Bus) run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.Close()
			return
		case <-b.closed:
			return
		case frame := <-b.queue:
			if err := b.sink.Send(ctx, frame); err != nil {
				b.logger.Warn("Failed to deliver frame, closing bus", "error", err)
				b.Close()
				return
			}
		}
	}
}

// Close stops accepting frames and unblocks any queued publisher. Safe to
// call more than once and concurrently with publishers.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}

// Done is closed once the delivery goroutine has exited.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// enqueue marshals and queues one frame, preserving per-caller ordering.
// Returns immediately once the bus is closed.
func (b *Bus) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn("Failed to marshal outbound frame", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.closed:
	case b.queue <- data:
	}
}

// PublishProgress emits a chain_of_thought progress line.
func (b *Bus) PublishProgress(text string) {
	b.enqueue(ProgressFrame{Message: text, Type: FrameTypeChainOfThought})
}

// PublishPlanCreate emits the initial plan snapshot.
func (b *Bus) PublishPlanCreate(snap PlanSnapshot) {
	b.mu.Lock()
	b.lastPlanSig[snap.PlanID] = planSignature(snap)
	b.mu.Unlock()
	b.enqueue(PlanFrame{Type: FrameTypePlanCreate, Data: snap})
}

// PublishPlanUpdate emits a fresh plan snapshot, suppressing a frame whose
// plan status and per-action statuses are identical to the previous snapshot
// sent for the same plan (the plan_create snapshot included).
// The dedup is a fidelity optimization; correctness does not depend on it.
func (b *Bus) PublishPlanUpdate(snap PlanSnapshot) {
	sig := planSignature(snap)

	b.mu.Lock()
	if b.lastPlanSig[snap.PlanID] == sig {
		b.mu.Unlock()
		return
	}
	b.lastPlanSig[snap.PlanID] = sig
	b.mu.Unlock()

	b.enqueue(PlanFrame{Type: FrameTypePlanUpdate, Data: snap})
}

// PublishDocumentNotice advises the client of a processed document.
func (b *Bus) PublishDocumentNotice(doc DocumentNotice) {
	b.enqueue(DocFrame{Type: FrameTypeDoc, Data: DocData{Document: doc}})
}

// PublishFinalMessage emits the end-of-turn assistant reply.
func (b *Bus) PublishFinalMessage(text string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	b.enqueue(FinalFrame{Message: text, Data: data, Type: FrameTypeMessage, Action: "close"})
}

// PublishPing emits a keep-alive frame.
func (b *Bus) PublishPing() {
	b.enqueue(PingFrame{Type: FrameTypePing})
}

// PublishError reports a recoverable error to the client.
func (b *Bus) PublishError(message string) {
	b.enqueue(ErrorFrame{Type: FrameTypeError, Message: message})
}

// planSignature captures (plan status, action id → status) for dedup.
func planSignature(snap PlanSnapshot) string {
	sig := snap.Status
	for _, a := range snap.Actions {
		sig += "|" + a.ID + "=" + a.Status
	}
	return fmt.Sprintf("%d:%s", len(snap.Actions), sig)
}
