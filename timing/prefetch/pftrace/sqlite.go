package pftrace

import (
	"database/sql"
	"fmt"
	"os"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"github.com/tebeka/atexit"
)

// SQLiteWriter buffers records and writes them to a SQLite database in
// batches.
type SQLiteWriter struct {
	*sql.DB
	statement *sql.Stmt

	dbName    string
	records   []Record
	batchSize int
	logger    logrus.FieldLogger
}

// NewSQLiteWriter creates a SQLiteWriter. The database is path + ".sqlite3";
// an empty path picks a unique name.
func NewSQLiteWriter(path string) *SQLiteWriter {
	return &SQLiteWriter{
		dbName:    path,
		batchSize: 100000,
		logger:    logrus.StandardLogger(),
	}
}

// WithLogger sets the logger that failed background flushes are reported to.
func (t *SQLiteWriter) WithLogger(logger logrus.FieldLogger) *SQLiteWriter {
	t.logger = logger
	return t
}

// WithBatchSize sets how many records are buffered before a flush.
func (t *SQLiteWriter) WithBatchSize(n int) *SQLiteWriter {
	t.batchSize = n
	return t
}

// Pending returns the number of records not written yet.
func (t *SQLiteWriter) Pending() int {
	return len(t.records)
}

// Path returns the database file.
func (t *SQLiteWriter) Path() string {
	return t.dbName + ".sqlite3"
}

// Init creates the database and its table.
func (t *SQLiteWriter) Init() error {
	if t.dbName == "" {
		t.dbName = "pfsim_trace_" + xid.New().String()
	}

	filename := t.Path()
	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return fmt.Errorf("failed to open trace database: %w", err)
	}
	t.DB = db

	if err := t.createTable(); err != nil {
		return err
	}

	stmt, err := t.Prepare(`INSERT INTO prefetch_trace VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare trace statement: %w", err)
	}
	t.statement = stmt

	atexit.Register(func() {
		_ = t.Close()
	})

	return nil
}

func (t *SQLiteWriter) createTable() error {
	stmts := []string{
		`create table prefetch_trace
		(
			id       varchar(200) not null,
			kind     varchar(100) not null,
			location varchar(100),
			addr     integer      not null,
			delay    integer      default 0,
			accepted boolean      default 1,
			detail   varchar(200),
			cycle    integer      not null
		);`,
		`create index prefetch_trace_kind_index on prefetch_trace (kind);`,
		`create index prefetch_trace_cycle_index on prefetch_trace (cycle);`,
	}

	for _, s := range stmts {
		if _, err := t.Exec(s); err != nil {
			return fmt.Errorf("failed to create trace table: %w", err)
		}
	}

	return nil
}

// Write buffers a record.
func (t *SQLiteWriter) Write(r Record) {
	t.records = append(t.records, r)
	if len(t.records) < t.batchSize {
		return
	}

	if err := t.Flush(); err != nil {
		t.logger.WithError(err).WithField("path", t.Path()).
			Error("failed to flush trace")
	}
}

// Flush writes the buffered records in one transaction.
func (t *SQLiteWriter) Flush() error {
	if len(t.records) == 0 || t.DB == nil {
		return nil
	}

	tx, err := t.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin trace transaction: %w", err)
	}

	stmt := tx.Stmt(t.statement)
	for _, r := range t.records {
		// SQLite integers are signed 64-bit.
		_, err := stmt.Exec(r.ID, r.Kind, r.Where, int64(r.Addr), r.Delay,
			r.Accepted, r.Detail, int64(r.Cycle))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert trace record %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trace records: %w", err)
	}

	t.records = nil

	return nil
}

// Close flushes and closes the database. Closing twice is a no-op.
func (t *SQLiteWriter) Close() error {
	if t.DB == nil {
		return nil
	}

	if err := t.Flush(); err != nil {
		return err
	}

	err := t.DB.Close()
	t.DB = nil

	return err
}
