package pgx

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mariukha/CoopManager/internal/testutil/pgtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listenConn := pgtest.Connect(ctx, t)
	notifyConn := pgtest.Connect(ctx, t)

	got := make(chan string, 1)
	done := make(chan error, 1)
	listenCtx, stop := context.WithCancel(ctx)
	go func() {
		done <- Listen(listenCtx, listenConn, "coop_test", func(n *pgconn.Notification) {
			select {
			case got <- n.Payload:
			default:
			}
		})
	}()

	// LISTEN runs asynchronously; keep notifying until the listener sees one.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for payload := ""; payload == ""; {
		select {
		case payload = <-got:
			assert.Equal(t, "reload schema", payload)
		case <-ticker.C:
			_, err := notifyConn.Exec(ctx, "SELECT pg_notify('coop_test', 'reload schema')")
			require.NoError(t, err)
		case <-ctx.Done():
			t.Fatal("timeout waiting for notification")
		}
	}

	stop()
	assert.NoError(t, <-done)
}
