// Package publish implements the engine's external event-publication
// boundary: the black-box `publish(json)` call original_source delegates
// to `lom_do_publish` (spec.md §1 "out of scope... publish sink"), plus
// the per-action ordering worker spec.md §5 requires if publication is
// made asynchronous.
package publish

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	lomerrors "github.com/sonic-net/lom-engine/pkg/shared/errors"
)

// queueCapacity bounds how many pending publications one action's queue
// may hold before Publish starts reporting back-pressure to the caller.
const queueCapacity = 64

// Sink is the actual publication mechanism a Worker drains into. It is
// the Go stand-in for `lom_do_publish`: this engine has no dependency on
// SONiC's `swss-common` event bus, so the concrete Sink used at runtime is
// an injected implementation rather than anything this package fabricates
// (spec.md §1 explicitly places the publish sink out of scope).
type Sink interface {
	Publish(tag string, body map[string]interface{}) error
}

// LogSink is the default Sink: it renders every publication as a
// structured log line. It satisfies the contract (and is enough for local
// runs and tests) without inventing a fake message bus client.
type LogSink struct {
	Log logr.Logger
}

func (s LogSink) Publish(tag string, body map[string]interface{}) error {
	s.Log.Info("publish", "tag", tag, "body", body)
	return nil
}

type job struct {
	tag  string
	body map[string]interface{}
}

// Worker implements handler.Publisher (structurally — pkg/handler does
// not import this package, avoiding an import cycle with pkg/manager)
// by fanning calls out to one goroutine per action name, so publications
// for the same action serialize in call order while different actions
// proceed concurrently (spec.md §5 "must not let out-of-order publication
// arise for the same (action, instance_id)").
type Worker struct {
	sink Sink
	log  logr.Logger

	mu     sync.Mutex
	queues map[string]chan job
	wg     sync.WaitGroup
	closed bool
}

// NewWorker constructs a Worker publishing through sink.
func NewWorker(sink Sink, log logr.Logger) *Worker {
	return &Worker{
		sink:   sink,
		log:    log,
		queues: make(map[string]chan job),
	}
}

// Publish enqueues (tag, body) onto tag's per-action queue, creating the
// drain goroutine on first use. It returns an error instead of blocking
// when that queue is full, since the caller is the single-threaded
// dispatch loop (spec.md §5 "Scheduling model") and must never stall on a
// slow sink.
func (w *Worker) Publish(tag string, body map[string]interface{}) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return lomerrors.FailedToWithDetails("publish", "publish", tag, fmt.Errorf("worker closed"))
	}
	ch, ok := w.queues[tag]
	if !ok {
		ch = make(chan job, queueCapacity)
		w.queues[tag] = ch
		w.wg.Add(1)
		go w.drain(tag, ch)
	}
	w.mu.Unlock()

	select {
	case ch <- job{tag: tag, body: body}:
		return nil
	default:
		return lomerrors.FailedToWithDetails("publish", "publish", tag, fmt.Errorf("queue full, %d pending", queueCapacity))
	}
}

func (w *Worker) drain(tag string, ch chan job) {
	defer w.wg.Done()
	for j := range ch {
		if err := w.sink.Publish(j.tag, j.body); err != nil {
			w.log.Error(err, "publish failed", "tag", tag)
		}
	}
}

// Close stops accepting new publications, closes every per-action queue,
// and waits for the drain goroutines to finish flushing what was already
// enqueued (spec.md §4.7 step 7 "server_deinit(); lom_deinit_publish()" —
// this is the Go equivalent teardown step, called from the engine's
// teardown after its dispatch loop has returned).
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for _, ch := range w.queues {
		close(ch)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
