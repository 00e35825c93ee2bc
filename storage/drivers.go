package storage

// Drivers for the reference dialects, registered with database/sql under
// the dialect names.
import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)
