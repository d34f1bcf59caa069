package shared

import (
	"database/sql"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// DriverName is the sqlite driver registered with the vector SQL functions.
const DriverName = "sqlite3_soundalike"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("cosine_distance", cosineDistanceSQL, true)
		},
	})
}

// cosineDistanceSQL backs the cosine_distance(a, b) SQL function over
// little-endian float32 blobs.
func cosineDistanceSQL(a, b []byte) (float64, error) {
	va, err := DecodeVector(a)
	if err != nil {
		return 0, err
	}
	vb, err := DecodeVector(b)
	if err != nil {
		return 0, err
	}
	return CosineDistance(va, vb)
}

// NewDatabase opens a connection to a SQLite database at the specified path.
// The path can be ":memory:" for an in-memory database.
//
// Foreign keys are enforced and a busy timeout is set so concurrent writers
// wait instead of failing immediately.
func NewDatabase(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	} else {
		dsn = "file::memory:?_foreign_keys=on"
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// ConfigureDatabase sets connection pool settings for the database.
func ConfigureDatabase(db *sql.DB, maxOpenConns, maxIdleConns int) {
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
}
