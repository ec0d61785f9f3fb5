// Package journal records the commands the daemon handles into an SQLite
// database.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/tebeka/atexit"
	"go.uber.org/multierr"

	"github.com/sarchlab/mboxd/errkind"
)

// Writer buffers rows of flat structs and writes them to SQLite in
// batches.
type Writer struct {
	*sql.DB

	path       string
	tables     map[string]*table
	batchSize  int
	entryCount int
}

type table struct {
	structType reflect.Type
	entries    []any
}

// Open creates the database at path. An existing file is an error so that
// a journal is never appended to by accident.
func Open(path string, batchSize int) (*Writer, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, errkind.New(errkind.Configuration, "journal open",
			"file %s already exists", path)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errkind.Wrap(errkind.Configuration, "journal open", err)
	}

	// One connection keeps every statement inside the same transaction.
	db.SetMaxOpenConns(1)

	if batchSize <= 0 {
		batchSize = 1
	}

	w := &Writer{
		DB:        db,
		path:      path,
		tables:    make(map[string]*table),
		batchSize: batchSize,
	}

	atexit.Register(func() { _ = w.Flush() })

	return w, nil
}

// Path returns the database file.
func (w *Writer) Path() string {
	return w.path
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func checkStructFields(entry any) error {
	t := reflect.TypeOf(entry)
	if t == nil || t.Kind() != reflect.Struct {
		return errkind.New(errkind.InvalidArgument, "journal table",
			"entry %T is not a struct", entry)
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if !field.IsExported() || !isAllowedKind(field.Type.Kind()) {
			return errkind.New(errkind.InvalidArgument, "journal table",
				"field %s of %s cannot be stored", field.Name, t.Name())
		}
	}

	return nil
}

// CreateTable creates a table whose columns are the fields of sampleEntry.
func (w *Writer) CreateTable(name string, sampleEntry any) error {
	if err := checkStructFields(sampleEntry); err != nil {
		return err
	}

	fields := strings.Join(structs.Names(sampleEntry), ", \n\t")
	query := `CREATE TABLE ` + name + ` (` + "\n\t" + fields + "\n" + `);`

	if _, err := w.Exec(query); err != nil {
		return errkind.Wrap(errkind.BackendIO, "journal table", err)
	}

	w.tables[name] = &table{
		structType: reflect.TypeOf(sampleEntry),
	}

	return nil
}

// Insert buffers an entry, writing the buffered entries out once a batch
// is full.
func (w *Writer) Insert(name string, entry any) error {
	t, exists := w.tables[name]
	if !exists {
		return errkind.New(errkind.InvalidArgument, "journal insert",
			"table %s does not exist", name)
	}

	if reflect.TypeOf(entry) != t.structType {
		return errkind.New(errkind.InvalidArgument, "journal insert",
			"table %s stores %s, not %T", name, t.structType.Name(), entry)
	}

	t.entries = append(t.entries, entry)

	w.entryCount++
	if w.entryCount >= w.batchSize {
		return w.Flush()
	}

	return nil
}

// Tables returns the names of the tables created.
func (w *Writer) Tables() []string {
	names := make([]string, 0, len(w.tables))
	for name := range w.tables {
		names = append(names, name)
	}

	return names
}

// Flush writes every buffered entry in one transaction.
func (w *Writer) Flush() error {
	if w.entryCount == 0 {
		return nil
	}

	tx, err := w.Begin()
	if err != nil {
		return errkind.Wrap(errkind.BackendIO, "journal flush", err)
	}

	for name, t := range w.tables {
		if len(t.entries) == 0 {
			continue
		}

		if err := insertAll(tx, name, t.entries); err != nil {
			_ = tx.Rollback()
			return err
		}

		t.entries = nil
	}

	if err := tx.Commit(); err != nil {
		return errkind.Wrap(errkind.BackendIO, "journal flush", err)
	}

	w.entryCount = 0

	return nil
}

func insertAll(tx *sql.Tx, name string, entries []any) error {
	n := structs.Names(entries[0])
	for i := range n {
		n[i] = "?"
	}

	query := "INSERT INTO " + name + " VALUES (" + strings.Join(n, ", ") + ")"

	stmt, err := tx.Prepare(query)
	if err != nil {
		return errkind.Wrap(errkind.BackendIO, "journal flush", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		v := reflect.ValueOf(entry)

		values := make([]any, 0, v.NumField())
		for i := 0; i < v.NumField(); i++ {
			values = append(values, v.Field(i).Interface())
		}

		if _, err := stmt.Exec(values...); err != nil {
			return errkind.Wrap(errkind.BackendIO, "journal flush",
				fmt.Errorf("%s: %w", name, err))
		}
	}

	return nil
}

// Close flushes and closes the database.
func (w *Writer) Close() error {
	return multierr.Combine(w.Flush(), w.DB.Close())
}
