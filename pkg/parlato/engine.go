// Package parlato ties the pieces together: config, provider registry, chat
// store, dispatcher, evaluation, and the run loop.
package parlato

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/harunnryd/parlato/pkg/capture"
	"github.com/harunnryd/parlato/pkg/configutil"
	"github.com/harunnryd/parlato/pkg/dispatch"
	"github.com/harunnryd/parlato/pkg/evalstore"
	"github.com/harunnryd/parlato/pkg/evaluate"
	"github.com/harunnryd/parlato/pkg/logging"
	"github.com/harunnryd/parlato/pkg/metrics"
	"github.com/harunnryd/parlato/pkg/recognizer"
	"github.com/harunnryd/parlato/pkg/runner"
	"github.com/harunnryd/parlato/pkg/session"
)

// Engine owns the chat store, the dispatcher, and the auto-transcription
// sweep. One Engine serves one configured session backend.
type Engine struct {
	cfg        Config
	store      session.Store
	loader     session.AudioLoader
	dispatcher *dispatch.Dispatcher
	rec        recognizer.Recognizer
	evaluator  *evaluate.Engine
	evalStore  *evalstore.Store
	asyncObs   *metrics.AsyncObserver
	runner     *runner.LifecycleRunner
	logger     *slog.Logger

	sweepQuit chan struct{}
	sweepWG   sync.WaitGroup
}

// EngineOptions configures engine construction. Providers must hold a
// factory for cfg.Recognizer.Provider.
type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Observer receives pipeline events in addition to the configured
	// metrics chain.
	Observer metrics.Observer
}

// NewEngine wires the configured backend, recognizer, and observers.
func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logger := logging.NewLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("parlato_init",
		slog.String("environment", cfg.Environment),
		slog.String("session_mode", cfg.Session.Mode),
		slog.String("recognizer_provider", cfg.Recognizer.Provider))

	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
	}
	rec, err := providers.BuildRecognizer(cfg.Recognizer.Provider, cfg)
	if err != nil {
		return nil, err
	}

	store, loader := buildStore(cfg)
	observer := buildObserver(cfg, opts.Observer)
	asyncObs := metrics.NewAsyncObserver(observer, configutil.IntValue(cfg.Metrics.Buffer, 256))

	engine := &Engine{
		cfg:       cfg,
		store:     store,
		loader:    loader,
		rec:       rec,
		asyncObs:  asyncObs,
		logger:    logger,
		sweepQuit: make(chan struct{}),
	}
	engine.dispatcher = dispatch.New(store, loader, rec, dispatch.Options{
		Observer: asyncObs,
		Logger:   logging.NewComponentLogger(logger, "dispatch"),
	})

	if len(cfg.Models.Evaluation) == 2 {
		if err := engine.initEvaluation(); err != nil {
			return nil, err
		}
	}

	engine.runner = runner.NewLifecycleRunner(engine, runner.Hooks{
		OnStart: func() {
			engine.startSweep()
			slog.Info("engine_ready", slog.String("session_mode", cfg.Session.Mode))
		},
		OnStop: func() {
			asyncObs.Close()
			if engine.evalStore != nil {
				_ = engine.evalStore.Close()
			}
			slog.Info("shutdown", slog.Int("goroutines", runtime.NumGoroutine()))
		},
	}, 30*time.Second)

	return engine, nil
}

func buildStore(cfg Config) (session.Store, session.AudioLoader) {
	if cfg.Session.Mode == "remote" {
		remote := session.NewRemoteStore(cfg.Session.Remote.BaseURL, session.RemoteOptions{
			Token: cfg.Session.Remote.Token,
		})
		cached := session.NewCachedStore(remote, session.CacheOptions{
			TTL: configutil.DurationMS(cfg.Session.CacheTTLMS, session.DefaultReadTTL),
		})
		return cached, remote
	}
	guest := session.NewGuestStore(session.GuestOptions{
		TTL: configutil.DurationMS(cfg.Session.GuestTTLMS, session.DefaultGuestTTL),
	})
	return guest, guest
}

func buildObserver(cfg Config, extra metrics.Observer) metrics.Observer {
	var chain metrics.Observer = metrics.NoopObserver{}
	if cfg.Metrics.Path != "" {
		if f, err := os.OpenFile(cfg.Metrics.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			chain = metrics.NewJSONLObserver(f)
		} else {
			slog.Warn("metrics_file_open_failed", slog.String("error", err.Error()))
		}
	}
	if extra != nil {
		chain = multiObserver{chain, extra}
	}
	if cfg.Metrics.SampleRate > 0 && cfg.Metrics.SampleRate < 1 {
		chain = metrics.NewSamplingObserver(chain, cfg.Metrics.SampleRate)
	}
	return chain
}

type multiObserver []metrics.Observer

func (m multiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m {
		obs.RecordEvent(ev)
	}
}

func (e *Engine) initEvaluation() error {
	scorer, ok := e.rec.(recognizer.MetricsRecognizer)
	if !ok {
		return fmt.Errorf("recognizer %s cannot score against reference text", e.rec.Name())
	}
	store, err := evalstore.Open(context.Background(), e.cfg.Evaluation.StorePath,
		logging.NewComponentLogger(e.logger, "evalstore"))
	if err != nil {
		return fmt.Errorf("open evaluation store: %w", err)
	}
	e.evalStore = store
	e.evaluator = evaluate.NewEngine(scorer,
		e.cfg.Models.Evaluation[0], e.cfg.Models.Evaluation[1],
		evaluate.Options{
			Sink:     store,
			Observer: e.asyncObs,
			Logger:   logging.NewComponentLogger(e.logger, "evaluate"),
		})
	return nil
}

// NewCaptureController wraps a recording device with the configured
// encoding preference list.
func (e *Engine) NewCaptureController(device capture.Device) *capture.Controller {
	return capture.NewController(device, capture.Options{
		Preferences: e.cfg.Capture.Preferences,
		Logger:      logging.NewComponentLogger(e.logger, "capture"),
	})
}

// Store exposes the configured chat backend.
func (e *Engine) Store() session.Store { return e.store }

// Dispatcher exposes the transcription dispatcher.
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }

// Evaluator returns the evaluation engine, or nil when no evaluation models
// are configured.
func (e *Engine) Evaluator() *evaluate.Engine { return e.evaluator }

// Evaluations lists persisted evaluation history, newest first.
func (e *Engine) Evaluations(ctx context.Context, limit int) ([]*evaluate.Evaluation, error) {
	if e.evalStore == nil {
		return nil, nil
	}
	return e.evalStore.ListEvaluations(ctx, limit)
}

// Run blocks until ctx is canceled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	return e.runner.Run(ctx)
}

// Stop drains in-flight work and shuts the engine down.
func (e *Engine) Stop() error {
	return e.runner.Stop()
}

// startSweep launches the auto-transcription loop: every interval, chats
// holding exactly one pending USER audio message get transcribed.
func (e *Engine) startSweep() {
	if !e.cfg.AutoTranscribe.Enabled {
		return
	}
	interval := configutil.DurationMS(e.cfg.AutoTranscribe.IntervalMS, time.Second)
	e.sweepWG.Add(1)
	go func() {
		defer e.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.sweepOnce(context.Background())
			case <-e.sweepQuit:
				return
			}
		}
	}()
}

func (e *Engine) sweepOnce(ctx context.Context) {
	chats, err := e.store.List(ctx)
	if err != nil {
		e.logger.Warn("auto_transcribe_sweep_failed", slog.String("error", err.Error()))
		return
	}
	for _, c := range chats {
		if len(c.Messages) != 1 {
			continue
		}
		if _, err := e.dispatcher.AutoTranscribe(ctx, c.ID); err != nil {
			e.logger.Warn("auto_transcribe_failed",
				slog.String("chat_id", c.ID),
				slog.String("error", err.Error()))
		}
	}
}

// Drain stops the sweep loop and waits for it to finish. Called by the
// lifecycle runner during shutdown.
func (e *Engine) Drain() error {
	close(e.sweepQuit)
	e.sweepWG.Wait()
	return nil
}

var _ runner.Drainer = (*Engine)(nil)
