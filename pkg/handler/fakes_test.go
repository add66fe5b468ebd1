package handler_test

import (
	"sync"

	"github.com/sonic-net/lom-engine/pkg/handler"
	"github.com/sonic-net/lom-engine/pkg/message"
)

// sentFrame records one write a handler made against a client's transport.
type sentFrame struct {
	client string
	msg    *message.Message
}

// fakeTransport replaces pkg/transport.Server for handler-level tests: it
// decodes every write back into a *message.Message so specs can assert on
// the request a handler raised without round-tripping through real FIFOs.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []sentFrame
	failNow bool
}

func (f *fakeTransport) Write(client string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNow {
		return errWriteFailed
	}
	msg, err := message.Decode(payload)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, sentFrame{client: client, msg: msg})
	return nil
}

func (f *fakeTransport) last() sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var errWriteFailed = fakeErr("write failed")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

// publishedEvent is one call a handler made against the publish sink.
type publishedEvent struct {
	tag  string
	body map[string]interface{}
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedEvent
}

func (p *fakePublisher) Publish(tag string, body map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, publishedEvent{tag: tag, body: body})
	return nil
}

func (p *fakePublisher) all() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publishedEvent, len(p.published))
	copy(out, p.published)
	return out
}

func (p *fakePublisher) last() publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published[len(p.published)-1]
}

// registry is a minimal handler.Lookup backed by a map, populated after
// construction since handlers never resolve siblings at construction time.
type registry struct {
	handlers map[string]handler.Handler
}

func newRegistry() *registry {
	return &registry{handlers: map[string]handler.Handler{}}
}

func (r *registry) Handler(name string) (handler.Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

func (r *registry) put(name string, h handler.Handler) {
	r.handlers[name] = h
}
