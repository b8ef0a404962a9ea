package sink

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zaphod7777/Phishfindr/internal/config"
	"github.com/zaphod7777/Phishfindr/internal/event"
	"github.com/zaphod7777/Phishfindr/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// eventColumns is the fixed table schema, in insert order. azure_event_type
// is a feed-specific extra kept from the legacy table layout.
var eventColumns = []string{
	"id",
	"creation_time",
	"operation",
	"organization_id",
	"record_type",
	"result_status",
	"user_key",
	"user_type",
	"version",
	"workload",
	"client_ip",
	"user_id",
	"azure_event_type",
	"result_status_detail",
	"user_agent",
	"request_type",
	"os",
	"browser",
	"session_id",
	"application_id",
	"error_number",
}

// Postgres upserts events into the phishfindr_events table keyed by id.
// Conflicting ids are skipped, so redelivery of the same event is a no-op.
type Postgres struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// NewPostgres runs schema migrations and opens the connection pool.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig, log *logging.Logger) (*Postgres, error) {
	return newPostgres(ctx, cfg.ConnString(), log)
}

func newPostgres(ctx context.Context, connString string, log *logging.Logger) (*Postgres, error) {
	if err := runMigrations(connString); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool, log: log}, nil
}

func runMigrations(connString string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, connString)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Postgres) Name() string { return "relational" }

func (s *Postgres) Write(ctx context.Context, ev event.Event) error {
	query := insertQuery(1)
	if _, err := s.pool.Exec(ctx, query, eventRow(ev)...); err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID(), err)
	}
	return nil
}

// WriteBatch inserts all events in one multi-row statement inside a
// transaction. On failure the whole batch rolls back and the error is
// reported; on success duplicates skipped by the conflict clause still
// count as delivered.
func (s *Postgres) WriteBatch(ctx context.Context, events []event.Event) (BatchResult, error) {
	var result BatchResult
	if len(events) == 0 {
		return result, nil
	}

	args := make([]any, 0, len(events)*len(eventColumns))
	for _, ev := range events {
		args = append(args, eventRow(ev)...)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		result.Failed = len(events)
		return result, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, insertQuery(len(events)), args...)
	if err != nil {
		result.Failed = len(events)
		return result, fmt.Errorf("insert batch of %d: %w", len(events), err)
	}

	if err := tx.Commit(ctx); err != nil {
		result.Failed = len(events)
		return result, fmt.Errorf("commit batch: %w", err)
	}

	result.Written = len(events)
	if skipped := int64(len(events)) - tag.RowsAffected(); skipped > 0 {
		s.log.Debug("skipped duplicate events", "count", skipped)
	}
	return result, nil
}

func (s *Postgres) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

// insertQuery builds the multi-row insert for n events.
func insertQuery(n int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO phishfindr_events (")
	b.WriteString(strings.Join(eventColumns, ", "))
	b.WriteString(") VALUES ")

	arg := 1
	for row := 0; row < n; row++ {
		if row > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for col := range eventColumns {
			if col > 0 {
				b.WriteString(", ")
			}
			b.WriteString("$")
			b.WriteString(strconv.Itoa(arg))
			arg++
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (id) DO NOTHING")
	return b.String()
}

// eventRow maps a canonical event onto the table columns. Values the event
// does not carry become NULL.
func eventRow(ev event.Event) []any {
	return []any{
		ev.ID(),
		timestampValue(ev, event.FieldTimestamp),
		textValue(ev, event.FieldOperation),
		textValue(ev, event.FieldOrganizationID),
		intValue(ev, event.FieldRecordType),
		textValue(ev, event.FieldStatus),
		textValue(ev, event.FieldUserKey),
		intValue(ev, event.FieldUserType),
		intValue(ev, event.FieldVersion),
		textValue(ev, event.FieldWorkload),
		textValue(ev, event.FieldIPAddress),
		textValue(ev, event.FieldUserID),
		intValue(ev, event.FieldAzureEventType),
		textValue(ev, event.FieldStatusDetail),
		textValue(ev, event.FieldUserAgent),
		textValue(ev, event.FieldRequestType),
		textValue(ev, event.FieldOS),
		textValue(ev, event.FieldBrowser),
		textValue(ev, event.FieldSessionID),
		textValue(ev, event.FieldApplicationID),
		textValue(ev, event.FieldErrorNumber),
	}
}

func textValue(ev event.Event, field string) any {
	v, present := ev[field]
	if !present || v == nil {
		return nil
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func intValue(ev event.Event, field string) any {
	v, present := ev[field]
	if !present || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	case string:
		if parsed, err := strconv.ParseInt(n, 10, 64); err == nil {
			return parsed
		}
		return nil
	default:
		return nil
	}
}

// feed timestamps usually lack a zone; they are UTC by protocol.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func timestampValue(ev event.Event, field string) any {
	v, present := ev[field]
	if !present || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return nil
}
