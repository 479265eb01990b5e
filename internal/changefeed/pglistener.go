package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"tuzemoon/internal/observability"
)

// NotifyChannel is the pg_notify channel written by the change triggers.
const NotifyChannel = "tuzemoon_changes"

// PGListener implements Feed with LISTEN/NOTIFY on a dedicated connection.
// Filtering happens locally since every change arrives on one channel.
type PGListener struct {
	dsn    string
	logger *slog.Logger

	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration

	d *dispatcher

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPGListener connects, issues LISTEN and starts delivering notifications.
func NewPGListener(ctx context.Context, dsn string, logger *slog.Logger) (*PGListener, error) {
	logger = logger.With(slog.String("component", "changefeed.pglistener"))

	conn, err := listen(ctx, dsn)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l := &PGListener{
		dsn:               dsn,
		logger:            logger,
		reconnectDelay:    time.Second,
		maxReconnectDelay: 30 * time.Second,
		d:                 newDispatcher(logger),
		cancel:            cancel,
	}

	l.wg.Add(1)
	go l.run(runCtx, conn)

	return l, nil
}

func listen(ctx context.Context, dsn string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	return conn, nil
}

// Subscribe registers handler for changes on sub.
func (l *PGListener) Subscribe(ctx context.Context, sub Subscription, handler Handler) (Unsubscribe, error) {
	return l.d.subscribe(ctx, sub, handler, noopJoin, nil)
}

// Close stops the listener and drops all subscribers.
func (l *PGListener) Close() error {
	l.once.Do(func() {
		l.cancel()
		l.d.close()
	})
	l.wg.Wait()
	return nil
}

// run waits for notifications, reconnecting with exponential backoff on failure.
func (l *PGListener) run(ctx context.Context, conn *pgx.Conn) {
	defer l.wg.Done()

	delay := l.reconnectDelay
	for {
		err := l.receive(ctx, conn)
		conn.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("listener connection lost, reconnecting", slog.Any("error", err))

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			conn, err = listen(ctx, l.dsn)
			if err == nil {
				break
			}
			delay = min(delay*2, l.maxReconnectDelay)
			l.logger.Warn("listener reconnect failed", slog.Any("error", err))
		}
		delay = l.reconnectDelay
		observability.RecordReconnect()

		n := l.d.resync()
		l.logger.Info("listener reconnected", slog.Int("resynced", n))
	}
}

func (l *PGListener) receive(ctx context.Context, conn *pgx.Conn) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		e, ok := parseChange([]byte(n.Payload))
		if !ok {
			l.logger.Debug("unparseable notification dropped", slog.String("channel", n.Channel))
			continue
		}
		l.d.dispatchMatching(e)
	}
}

var _ Feed = (*PGListener)(nil)
