package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/tradevault/backend/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	// The sqlite driver serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent per-user rebuilds.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	DB = db

	if logger.L != nil {
		logger.L.Info("Checking database migrations", "databasePath", databasePath)
	} else {
		stdlog.Println("Checking database migrations for:", databasePath)
	}
	migrateOrdersTable()

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price TEXT NOT NULL,
		commission TEXT NOT NULL DEFAULT '0',
		fees TEXT NOT NULL DEFAULT '0',
		executed_at TIMESTAMP NOT NULL,
		source_id TEXT NOT NULL,
		external_activity_id TEXT,
		activity_key TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, activity_key)
	);

	CREATE INDEX IF NOT EXISTS idx_orders_user_time ON orders(user_id, executed_at, id);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_price TEXT NOT NULL,
		exit_price TEXT,
		realized_pnl TEXT NOT NULL DEFAULT '0',
		commission TEXT NOT NULL DEFAULT '0',
		fees TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP,
		order_ids TEXT NOT NULL,
		trade_key TEXT NOT NULL,
		UNIQUE(user_id, trade_key)
	);

	CREATE TABLE IF NOT EXISTS trade_annotations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		trade_key TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, trade_key)
	);
	`

	_, err = DB.Exec(createTableStatement)
	if err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}

// migrateOrdersTable backfills columns added after the first release.
func migrateOrdersTable() {
	var tableName string
	err := DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='orders'").Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			if logger.L != nil {
				logger.L.Info("'orders' table does not exist, no migration needed as table will be created.")
			} else {
				stdlog.Println("'orders' table does not exist, no migration needed as table will be created.")
			}
			return
		}
		if logger.L != nil {
			logger.L.Error("Error checking for 'orders' table", "error", err)
		} else {
			stdlog.Printf("Error checking for 'orders' table: %v", err)
		}
		return
	}

	rows, err := DB.Query("PRAGMA table_info(orders)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for 'orders'", "error", err)
		} else {
			stdlog.Printf("Error querying table schema for 'orders': %v", err)
		}
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info for 'orders'", "error", err)
			} else {
				stdlog.Printf("Error scanning column info for 'orders': %v", err)
			}
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info for 'orders'", "error", err)
		} else {
			stdlog.Printf("Error iterating over column info for 'orders': %v", err)
		}
		return
	}

	if _, ok := columnExists["fees"]; !ok {
		_, err := DB.Exec("ALTER TABLE orders ADD COLUMN fees TEXT NOT NULL DEFAULT '0'")
		if err != nil {
			logger.L.Error("Error adding 'fees' column to 'orders' table", "error", err)
		} else {
			logger.L.Info("Added 'fees' column to 'orders' table")
		}
	}

	if _, ok := columnExists["external_activity_id"]; !ok {
		_, err := DB.Exec("ALTER TABLE orders ADD COLUMN external_activity_id TEXT")
		if err != nil {
			logger.L.Error("Error adding 'external_activity_id' column to 'orders' table", "error", err)
		} else {
			logger.L.Info("Added 'external_activity_id' column to 'orders' table")
		}
	}

	if _, ok := columnExists["source_id"]; !ok {
		_, err := DB.Exec("ALTER TABLE orders ADD COLUMN source_id TEXT NOT NULL DEFAULT 'csv:generic'")
		if err != nil {
			logger.L.Error("Error adding 'source_id' column to 'orders' table", "error", err)
		} else {
			logger.L.Info("Added 'source_id' column to 'orders' table")
		}
	}
}
