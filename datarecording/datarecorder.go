// Package datarecording stores simulation records in SQLite databases.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DataRecorder is a backend that can record and store data.
type DataRecorder interface {
	// CreateTable creates a new table that can hold entries shaped like
	// sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData writes one entry into a table that already exists.
	InsertData(tableName string, entry any)

	// ListTables returns the names of all created tables.
	ListTables() []string

	// Flush writes all buffered entries into the database.
	Flush()

	// Close flushes and releases the database connection.
	Close()
}

// New creates a DataRecorder backed by a SQLite database at path. If path is
// empty, a unique name is generated.
func New(path string) DataRecorder {
	w := &sqliteWriter{
		dbName:    path,
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	w.init()

	atexit.Register(func() { w.Flush() })

	return w
}

// NewWithDB creates a DataRecorder that writes into an existing database
// connection.
func NewWithDB(db *sql.DB) DataRecorder {
	w := &sqliteWriter{
		db:        db,
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { w.Flush() })

	return w
}

type table struct {
	structType reflect.Type
	entries    []any
}

// sqliteWriter writes data into a SQLite database.
type sqliteWriter struct {
	db *sql.DB

	dbName    string
	tables    map[string]*table
	batchSize int
}

func (w *sqliteWriter) init() {
	if w.dbName == "" {
		w.dbName = "ptsim_trace_" + xid.New().String()
	}

	filename := w.dbName + ".sqlite3"

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	w.db = db
}

func (w *sqliteWriter) mustBeFlatStruct(t reflect.Type) {
	if t.Kind() != reflect.Struct {
		panic(fmt.Errorf("entry type %s is not a struct", t))
	}

	for i := 0; i < t.NumField(); i++ {
		switch t.Field(i).Type.Kind() {
		case reflect.Bool,
			reflect.Int, reflect.Int8, reflect.Int16,
			reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16,
			reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64,
			reflect.String:
			// Storable in a column.
		default:
			panic(fmt.Errorf("field %s has unsupported type %s",
				t.Field(i).Name, t.Field(i).Type))
		}
	}
}

func sqlType(kind reflect.Kind) string {
	switch kind {
	case reflect.Float32, reflect.Float64:
		return "REAL"
	case reflect.String:
		return "TEXT"
	default:
		return "INTEGER"
	}
}

// CreateTable creates a table whose columns match the fields of sampleEntry.
func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) {
	structType := reflect.TypeOf(sampleEntry)
	w.mustBeFlatStruct(structType)

	if _, ok := w.tables[tableName]; ok {
		panic(fmt.Errorf("table %s already exists", tableName))
	}

	columns := make([]string, 0, structType.NumField())
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		columns = append(columns,
			field.Name+" "+sqlType(field.Type.Kind()))
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (%s);",
		tableName, strings.Join(columns, ", "))

	_, err := w.db.Exec(stmt)
	if err != nil {
		panic(err)
	}

	w.tables[tableName] = &table{structType: structType}
}

// InsertData buffers one entry for the named table, flushing when the batch
// is full.
func (w *sqliteWriter) InsertData(tableName string, entry any) {
	t, ok := w.tables[tableName]
	if !ok {
		panic(fmt.Errorf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != t.structType {
		panic(fmt.Errorf("entry type %s does not match table %s",
			reflect.TypeOf(entry), tableName))
	}

	t.entries = append(t.entries, entry)

	if len(t.entries) >= w.batchSize {
		w.flushTable(tableName, t)
	}
}

// ListTables returns the names of all created tables.
func (w *sqliteWriter) ListTables() []string {
	names := make([]string, 0, len(w.tables))
	for name := range w.tables {
		names = append(names, name)
	}

	return names
}

// Flush writes all buffered entries into the database.
func (w *sqliteWriter) Flush() {
	for name, t := range w.tables {
		w.flushTable(name, t)
	}
}

func (w *sqliteWriter) flushTable(tableName string, t *table) {
	if len(t.entries) == 0 {
		return
	}

	tx, err := w.db.Begin()
	if err != nil {
		panic(err)
	}

	placeholders := strings.TrimSuffix(
		strings.Repeat("?, ", t.structType.NumField()), ", ")
	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
		tableName,
		strings.Join(structs.Names(t.entries[0]), ", "),
		placeholders))
	if err != nil {
		panic(err)
	}

	for _, entry := range t.entries {
		_, err := stmt.Exec(structs.Values(entry)...)
		if err != nil {
			panic(err)
		}
	}

	err = tx.Commit()
	if err != nil {
		panic(err)
	}

	t.entries = nil
}

// Close flushes buffered entries and closes the database connection.
func (w *sqliteWriter) Close() {
	w.Flush()

	err := w.db.Close()
	if err != nil {
		panic(err)
	}
}
