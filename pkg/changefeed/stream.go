package changefeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"go.uber.org/zap"
)

// Replicate streams changes into out until ctx is done. A broken
// replication connection is re-established with exponential backoff; the
// slot makes the server resend what was not confirmed.
func Replicate(ctx context.Context, cfg ReplicationConfig, out chan<- Event, logger *zap.Logger) error {
	cfg = cfg.withDefaults()
	connConfig, err := pgconn.ParseConfig(cfg.ConnString)
	if err != nil {
		return fmt.Errorf("parse replication conn string: %w", err)
	}
	connConfig.RuntimeParams["replication"] = "database"

	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(eb, ctx)

	op := func() error {
		conn, err := pgconn.ConnectConfig(ctx, connConfig)
		if err != nil {
			return fmt.Errorf("replication connect: %w", err)
		}
		defer conn.Close(context.Background())

		if err := setup(ctx, conn, cfg, logger); err != nil {
			return err
		}
		eb.Reset()
		logger.Info("replication started",
			zap.String("slot", cfg.Slot), zap.String("publication", cfg.Publication))

		err = stream(ctx, conn, connConfig.Database, cfg, out, logger)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("replication interrupted", zap.Error(err), zap.Duration("retry_in", next))
	}

	err = backoff.RetryNotify(op, b, notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func setup(ctx context.Context, conn *pgconn.PgConn, cfg ReplicationConfig, logger *zap.Logger) error {
	if err := ensurePublication(ctx, conn, cfg, logger); err != nil {
		return fmt.Errorf("publication: %w", err)
	}

	sysID, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		return fmt.Errorf("identify system: %w", err)
	}

	logger.Debug("identified system",
		zap.String("system_id", sysID.SystemID), zap.Int32("timeline", sysID.Timeline), zap.Stringer("xlogpos", sysID.XLogPos))

	found, err := exists(ctx, conn, "pg_replication_slots", "slot_name", cfg.Slot)
	if err != nil {
		return err
	}
	if !found {
		if _, err := pglogrepl.CreateReplicationSlot(ctx, conn, cfg.Slot, outputPlugin,
			pglogrepl.CreateReplicationSlotOptions{}); err != nil {
			return fmt.Errorf("create slot: %w", err)
		}
		logger.Info("replication slot created", zap.String("slot", cfg.Slot))
	}

	// 0 resumes from the slot's confirmed position
	if err := pglogrepl.StartReplication(ctx, conn, cfg.Slot, 0,
		pglogrepl.StartReplicationOptions{PluginArgs: pluginArgs(cfg)}); err != nil {
		return fmt.Errorf("start replication: %w", err)
	}
	return nil
}

func pluginArgs(cfg ReplicationConfig) []string {
	args := []string{
		"proto_version '2'",
		fmt.Sprintf("publication_names '%s'", cfg.Publication),
	}
	if cfg.Streaming {
		args = append(args, "streaming 'true'")
	}
	return args
}

func stream(ctx context.Context, conn *pgconn.PgConn, db string, cfg ReplicationConfig, out chan<- Event, logger *zap.Logger) error {
	dec := newDecoder(conn.Conn().RemoteAddr().String(), db, logger)
	nextStandby := time.Now().Add(cfg.StandbyUpdateInterval)
	var walPos pglogrepl.LSN

	for {
		if time.Now().After(nextStandby) {
			if err := pglogrepl.SendStandbyStatusUpdate(ctx, conn,
				pglogrepl.StandbyStatusUpdate{WALWritePosition: walPos}); err != nil {
				return fmt.Errorf("standby status update: %w", err)
			}
			nextStandby = time.Now().Add(cfg.StandbyUpdateInterval)
		}

		msgCtx, cancel := context.WithDeadline(ctx, nextStandby)
		msg, err := conn.ReceiveMessage(msgCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) && ctx.Err() == nil {
				continue
			}
			return fmt.Errorf("receive: %w", err)
		}

		switch msg := msg.(type) {
		case *pgproto3.ErrorResponse:
			return fmt.Errorf("replication error: %s", msg.Message)
		case *pgproto3.CopyData:
			if len(msg.Data) == 0 {
				continue
			}
			switch msg.Data[0] {
			case pglogrepl.PrimaryKeepaliveMessageByteID:
				pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
				if err != nil {
					return fmt.Errorf("parse keepalive: %w", err)
				}
				if pkm.ServerWALEnd > walPos {
					walPos = pkm.ServerWALEnd
				}
				if pkm.ReplyRequested {
					nextStandby = time.Time{}
				}

			case pglogrepl.XLogDataByteID:
				xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
				if err != nil {
					return fmt.Errorf("parse xlog data: %w", err)
				}
				events, err := dec.decode(xld.WALData, xld.WALStart)
				if err != nil {
					return err
				}
				for _, e := range events {
					select {
					case out <- e:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				if end := xld.WALStart + pglogrepl.LSN(len(xld.WALData)); end > walPos {
					walPos = end
				}
			}
		}
	}
}

// ensurePublication creates the publication or resets its table list.
func ensurePublication(ctx context.Context, conn *pgconn.PgConn, cfg ReplicationConfig, logger *zap.Logger) error {
	found, err := exists(ctx, conn, "pg_publication", "pubname", cfg.Publication)
	if err != nil {
		return err
	}
	sql := publicationSQL(found, cfg.Publication, cfg.Schema, cfg.publishedTables())
	if _, err := conn.Exec(ctx, sql).ReadAll(); err != nil {
		return err
	}
	logger.Debug("publication ready", zap.String("sql", sql))
	return nil
}

func publicationSQL(update bool, name, schema string, tables []string) string {
	idents := make([]string, len(tables))
	for i, t := range tables {
		idents[i] = pgx.Identifier{schema, t}.Sanitize()
	}
	verb := "CREATE PUBLICATION %s FOR TABLE %s"
	if update {
		verb = "ALTER PUBLICATION %s SET TABLE %s"
	}
	return fmt.Sprintf(verb, pgx.Identifier{name}.Sanitize(), strings.Join(idents, ", "))
}

var errBadCatalog = errors.New("unexpected catalog lookup")

// exists runs on the replication connection, which only speaks the simple
// query protocol; value is a validated identifier.
func exists(ctx context.Context, conn *pgconn.PgConn, table, column, value string) (bool, error) {
	switch table + "." + column {
	case "pg_publication.pubname", "pg_replication_slots.slot_name":
	default:
		return false, errBadCatalog
	}
	if !identRe.MatchString(value) {
		return false, fmt.Errorf("invalid name %q", value)
	}

	results, err := conn.Exec(ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = '%s')", table, column, value)).ReadAll()
	if err != nil {
		return false, fmt.Errorf("check %s: %w", table, err)
	}
	return len(results) > 0 && len(results[0].Rows) > 0 && string(results[0].Rows[0][0]) == "t", nil
}
