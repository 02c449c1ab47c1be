package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"budgettracker/internal/logger"
)

// DefaultChannel is the Postgres NOTIFY channel carrying owner ids.
const DefaultChannel = "transaction_changes"

// PGBus carries change events between api processes with LISTEN/NOTIFY.
// The payload is the owner id whose transactions changed.
type PGBus struct {
	pool    *pgxpool.Pool
	channel string
}

// NewPGBus creates a bus on the given pool. An empty channel uses DefaultChannel.
func NewPGBus(pool *pgxpool.Pool, channel string) *PGBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &PGBus{pool: pool, channel: channel}
}

// Publish sends a change notification for ownerID.
func (b *PGBus) Publish(ctx context.Context, ownerID string) error {
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", b.channel, ownerID); err != nil {
		return fmt.Errorf("publishing change for %s: %w", ownerID, err)
	}
	return nil
}

// Listen blocks, calling fn with the owner id of every notification, until
// ctx is cancelled or the connection fails.
func (b *PGBus) Listen(ctx context.Context, fn func(ownerID string)) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listening on %s: %w", b.channel, err)
	}
	logger.Get().Infow("Listening for transaction changes", "channel", b.channel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("waiting for notification: %w", err)
		}
		fn(n.Payload)
	}
}
