package relay

import (
	"context"
	"log/slog"
	"sync"

	"relaybot/internal/domain"
)

const defaultConcurrency = 4

// Router handles one message.
type Router interface {
	Route(ctx context.Context, msg domain.InboundMessage)
}

// Worker consumes the bus and routes messages with bounded concurrency.
type Worker struct {
	bus         domain.MessageBus
	router      Router
	concurrency int
	logger      *slog.Logger
}

type WorkerConfig struct {
	Bus         domain.MessageBus
	Router      Router
	Concurrency int // max parallel dispatches (default 4)
	Logger      *slog.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		bus:         cfg.Bus,
		router:      cfg.Router,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Run blocks until ctx is done or the bus is closed, then waits for
// in-flight dispatches to finish.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("relay worker started", "concurrency", w.concurrency)

	sem := make(chan struct{}, w.concurrency)
	inbound := w.bus.Subscribe()
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("relay worker stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				w.logger.Info("inbound channel closed, relay worker stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				w.logger.Info("relay worker stopping")
				return
			}
			wg.Add(1)
			go func(m domain.InboundMessage) {
				defer wg.Done()
				defer func() { <-sem }()
				w.router.Route(ctx, m)
			}(msg)
		}
	}
}
