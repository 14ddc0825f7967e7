package relaystore

import (
	"context"
	"log/slog"
	"time"

	"github.com/zeroksync/0k-sync/internal/logging"
	"github.com/zeroksync/0k-sync/internal/recovery"
)

// Sweeper periodically runs Store.CleanupExpired, the way the teacher's
// peer.Manager keepaliveLoop runs its own upkeep on a ticker rather than
// an external cron.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper returns a Sweeper that will call store.CleanupExpired every
// interval once Start is called. A nil logger runs silently.
func NewSweeper(store *Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in a background goroutine.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.cancel()
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)
	defer recovery.RecoverWithLog(s.logger, "relaystore.Sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			n := s.store.CleanupExpired(time.Now())
			if n > 0 {
				s.logger.Debug("expired blobs swept", logging.KeyCount, n)
			}
		}
	}
}
