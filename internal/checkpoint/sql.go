package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/petrijr/bgwork/pkg/broker"
)

// Dialect selects the SQL flavour used by SQLStore.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// DefaultTable is the table used when NewSQLStore gets an empty name.
const DefaultTable = "bgwork_checkpoints"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore keeps checkpoints in a relational table:
//
//	id        primary key (the checkpoint key)
//	position  last completed position
//	updated_at unix milliseconds of the last Save
//
// It expects an *sql.DB opened with a driver matching the dialect, e.g.
// "sqlite" (modernc.org/sqlite), "pgx" (github.com/jackc/pgx/v5/stdlib) or
// "mysql" (github.com/go-sql-driver/mysql). The caller imports the driver.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
	builder sq.StatementBuilderType
	now     func() time.Time
}

var _ broker.CheckpointStore = (*SQLStore)(nil)

// NewSQLStore creates the table if needed and returns the store.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, table string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("checkpoint: nil *sql.DB")
	}
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("checkpoint: invalid table name %q", table)
	}

	builder, err := statementBuilder(dialect)
	if err != nil {
		return nil, err
	}

	s := &SQLStore{
		db:      db,
		dialect: dialect,
		table:   table,
		builder: builder.RunWith(db),
		now:     time.Now,
	}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("checkpoint: create %s: %w", table, err)
	}
	return s, nil
}

func statementBuilder(dialect Dialect) (sq.StatementBuilderType, error) {
	var placeholder sq.PlaceholderFormat = sq.Question
	switch dialect {
	case SQLite, MySQL:
	case Postgres:
		placeholder = sq.Dollar
	default:
		return sq.StatementBuilderType{}, fmt.Errorf("checkpoint: unknown SQL dialect %q", dialect)
	}
	return sq.StatementBuilder.PlaceholderFormat(placeholder), nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	var ddl string
	switch s.dialect {
	case MySQL:
		ddl = `CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) NOT NULL PRIMARY KEY,
			position VARCHAR(255) NOT NULL,
			updated_at BIGINT NOT NULL
		)`
	default:
		ddl = `CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			position TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(ddl, s.table))
	return err
}

func (s *SQLStore) Load(ctx context.Context, key string) (string, bool, error) {
	var pos string
	err := s.builder.
		Select("position").
		From(s.table).
		Where(sq.Eq{"id": key}).
		QueryRowContext(ctx).
		Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("checkpoint: load %s: %w", key, err)
	}
	return pos, true, nil
}

func (s *SQLStore) Save(ctx context.Context, key, position string) error {
	if _, err := s.upsert(key, position).ExecContext(ctx); err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) upsert(key, position string) sq.InsertBuilder {
	insert := s.builder.
		Insert(s.table).
		Columns("id", "position", "updated_at").
		Values(key, position, s.now().UnixMilli())

	if s.dialect == MySQL {
		insert = insert.Suffix("ON DUPLICATE KEY UPDATE position = VALUES(position), updated_at = VALUES(updated_at)")
	} else {
		insert = insert.Suffix("ON CONFLICT (id) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at")
	}
	return insert
}
