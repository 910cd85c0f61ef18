package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Listen issues `LISTEN channel` on conn and calls fn for every notification
// until ctx is done. conn must be dedicated to listening; pool connections
// should be hijacked first. Listen returns nil when ctx is cancelled.
func Listen(ctx context.Context, conn *pgx.Conn, channel string, fn func(*pgconn.Notification)) error {
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		fn(n)
	}
}
