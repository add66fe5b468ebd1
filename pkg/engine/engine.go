// Package engine implements the single-threaded dispatch loop described in
// spec.md §4.7/§4.8, grounded on original_source's engine.cpp main loop
// (src/server/engine.cpp). The loop is the only goroutine of its
// errgroup.Group; the optional metrics listener runs outside that group,
// and the publish worker owns its own drain goroutines. Both are stopped
// in teardown once the loop has returned.
package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/sonic-net/lom-engine/internal/config"
	"github.com/sonic-net/lom-engine/pkg/handler"
	"github.com/sonic-net/lom-engine/pkg/lock"
	"github.com/sonic-net/lom-engine/pkg/manager"
	"github.com/sonic-net/lom-engine/pkg/metrics"
	"github.com/sonic-net/lom-engine/pkg/publish"
	lomerrors "github.com/sonic-net/lom-engine/pkg/shared/errors"
	"github.com/sonic-net/lom-engine/pkg/timerwheel"
	"github.com/sonic-net/lom-engine/pkg/transport"
)

// Transport is the subset of pkg/transport.Server the loop drives; named
// here so tests can substitute a fake without pulling in real FIFOs.
type Transport interface {
	Read(timeoutSeconds int) (*transport.Frame, error)
	Write(client string, payload []byte) error
	Close() error
}

// Engine owns every collaborator named in spec.md §4.7 steps 3-4 and
// drives the single-threaded loop described in step 5.
type Engine struct {
	cfgDir string
	cfg    *config.Config
	log    logr.Logger

	transport Transport
	manager   *manager.Manager
	lock      *lock.Manager
	timers    *timerwheel.Wheel
	publisher *publish.Worker
	metrics   *metrics.Server

	reload        chan struct{}
	lastHeartbeat time.Time
}

// New performs spec.md §4.7 steps 1-4: loads configuration (fatal on any
// missing or empty file), constructs the manager and lock manager, and
// opens the transport server (fatal on failure).
func New(cfgDir string, log logr.Logger) (*Engine, error) {
	cfg, err := config.Load(cfgDir)
	if err != nil {
		return nil, err
	}

	srv, err := transport.NewServer(cfg.Clients)
	if err != nil {
		return nil, lomerrors.FailedTo("initialize transport server", err)
	}

	return newEngine(cfgDir, cfg, srv, log)
}

// newEngine wires the manager, lock manager, timer wheel, publish worker
// and optional metrics listener around an already-open transport,
// separated from New so tests can inject a fake Transport.
func newEngine(cfgDir string, cfg *config.Config, tr Transport, log logr.Logger) (*Engine, error) {
	e := &Engine{
		cfgDir:        cfgDir,
		cfg:           cfg,
		log:           log,
		transport:     tr,
		lock:          lock.New(),
		timers:        timerwheel.New(),
		publisher:     publish.NewWorker(publish.LogSink{Log: log}, log),
		reload:        make(chan struct{}, 1),
		lastHeartbeat: time.Now(),
	}

	deps := handler.Deps{
		Transport:        tr,
		Timers:           e.timers,
		Lock:             e.lock,
		Publisher:        e.publisher,
		Log:              log,
		MinLockTimeoutMs: cfg.Globals.MinLockTimeoutMs,
	}
	e.manager = manager.New(cfg, deps, log)

	if cfg.Globals.MetricsPort != 0 {
		e.metrics = metrics.NewServer(strconv.Itoa(cfg.Globals.MetricsPort), log)
	}

	return e, nil
}

// Reload schedules a configuration re-load on the next loop iteration
// (spec.md §4.7 step 6 "On SIGHUP, re-enter configuration load"); the same
// channel is fed by internal/config.Watcher's filesystem-change trigger
// (SPEC_FULL.md §2 ambient stack "supplementary trigger").
func (e *Engine) Reload() {
	select {
	case e.reload <- struct{}{}:
	default:
	}
}

// Run drives the dispatch loop until ctx is cancelled or the loop returns
// an error. The loop is the only member of the errgroup.Group; the
// optional metrics listener is started with StartAsync outside the group,
// so a listener failure is only logged and does not stop the loop. Once
// the loop returns, teardown stops the metrics listener, the publish
// worker and the transport, in that order.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if e.metrics != nil {
		e.metrics.StartAsync()
	}

	g.Go(func() error {
		return e.loop(gctx)
	})

	err := g.Wait()
	e.teardown()
	if err == context.Canceled {
		return nil
	}
	return err
}

// teardown implements spec.md §4.7 step 7 ("server_deinit();
// lom_deinit_publish()"), plus stopping the metrics listener this
// SPEC_FULL adds.
func (e *Engine) teardown() {
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.metrics.Stop(ctx); err != nil {
			e.log.Error(err, "metrics server shutdown error")
		}
	}
	e.publisher.Close()
	if err := e.transport.Close(); err != nil {
		e.log.Error(err, "transport close error")
	}
}

// loop implements spec.md §4.7 step 5: wait-bound read, dispatch,
// drain-pending, fire-due, heartbeat-publish, checked once per iteration
// against ctx cancellation and a pending reload signal (step 6).
func (e *Engine) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.reload:
			e.reloadConfig()
			continue
		default:
		}

		now := time.Now()
		wait := e.timers.NextWaitSeconds(now, e.cfg.Globals.HeartbeatInterval)
		frame, err := e.transport.Read(int(wait.Seconds()))
		if err != nil {
			e.log.Error(err, "transport read error")
			continue
		}
		if frame != nil {
			if err := e.dispatch(frame); err != nil {
				e.log.Error(err, "dispatch error", "client", frame.Client)
			}
		}

		e.lock.DrainPending(e.resumeOnLock)

		for _, action := range e.timers.FireDue(time.Now()) {
			e.checkTimeout(action)
		}

		e.maybePublishHeartbeat()
		e.syncStateGauges()
	}
}

// reloadConfig implements spec.md §4.7 step 6's "re-enter configuration
// load". A failed reload logs and keeps the prior configuration rather
// than tearing the engine down, since configuration errors are only fatal
// at initial startup (§7 "Configuration errors").
func (e *Engine) reloadConfig() {
	cfg, err := config.Load(e.cfgDir)
	if err != nil {
		e.log.Error(err, "configuration reload failed, keeping prior configuration")
		return
	}
	e.cfg = cfg
	e.manager.SetConfig(cfg)
	e.log.Info("configuration reloaded")
}

func (e *Engine) resumeOnLock(action string) {
	h, ok := e.manager.Handler(action)
	if !ok {
		return
	}
	r, ok := h.(handler.Resumable)
	if !ok {
		return
	}
	if err := r.ResumeOnLock(); err != nil {
		e.log.Error(err, "resume_on_lock failed", "action", action)
	}
}

func (e *Engine) checkTimeout(action string) {
	h, ok := e.manager.Handler(action)
	if !ok {
		return
	}
	if err := h.CheckTimeout(time.Now()); err != nil {
		e.log.Error(err, "check_timeout failed", "action", action)
	}
	metrics.RecordTimerFire(action)
}

func (e *Engine) syncStateGauges() {
	for _, h := range e.manager.Handlers() {
		metrics.SetActionState(h.ActionName(), int(h.State()))
	}
}
