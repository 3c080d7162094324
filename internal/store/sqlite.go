package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Queryer is satisfied by both *sql.DB and *sql.Tx. Mutating store methods
// take a Queryer so the protection layer can run them inside its own
// transaction; reads go against the committed connection directly.
type Queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// DB wraps the SQLite connection with initialization logic.
type DB struct {
	*sql.DB
}

// Open creates or opens the SQLite database at the given path, runs schema
// initialization, and configures WAL mode for concurrent reads.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS conversations (
  id TEXT PRIMARY KEY,
  topic TEXT NOT NULL,
  intent TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  queue_position INTEGER,
  message_count INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_queue_position
  ON conversations(queue_position) WHERE queue_position IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at);

CREATE TABLE IF NOT EXISTS messages (
  id TEXT PRIMARY KEY,
  conversation_id TEXT NOT NULL,
  sequence INTEGER NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  reply_to TEXT,
  created_at INTEGER NOT NULL,
  FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
  UNIQUE(conversation_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sequence);

CREATE TABLE IF NOT EXISTS patterns (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  category TEXT NOT NULL,
  confidence REAL NOT NULL,
  usage_count INTEGER NOT NULL DEFAULT 1,
  success_count INTEGER NOT NULL DEFAULT 0,
  failure_count INTEGER NOT NULL DEFAULT 0,
  tags TEXT,
  created_at INTEGER NOT NULL,
  last_used_at INTEGER NOT NULL,
  UNIQUE(name, category)
);

CREATE INDEX IF NOT EXISTS idx_patterns_category ON patterns(category);
CREATE INDEX IF NOT EXISTS idx_patterns_confidence ON patterns(confidence);
CREATE INDEX IF NOT EXISTS idx_patterns_last_used ON patterns(last_used_at);

CREATE TABLE IF NOT EXISTS pattern_relations (
  source_id TEXT NOT NULL,
  target_id TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  PRIMARY KEY (source_id, target_id),
  FOREIGN KEY (source_id) REFERENCES patterns(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS file_relationships (
  id TEXT PRIMARY KEY,
  file_a TEXT NOT NULL,
  file_b TEXT NOT NULL,
  co_count INTEGER NOT NULL DEFAULT 1,
  confidence REAL NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  UNIQUE(file_a, file_b)
);

CREATE TABLE IF NOT EXISTS intent_patterns (
  id TEXT PRIMARY KEY,
  phrase TEXT NOT NULL UNIQUE,
  intent TEXT NOT NULL,
  usage_count INTEGER NOT NULL DEFAULT 1,
  confidence REAL NOT NULL,
  created_at INTEGER NOT NULL,
  last_used_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS corrections (
  id TEXT PRIMARY KEY,
  original TEXT NOT NULL,
  corrected TEXT NOT NULL,
  context TEXT,
  occurrences INTEGER NOT NULL DEFAULT 1,
  confidence REAL NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  UNIQUE(original, corrected)
);

CREATE TABLE IF NOT EXISTS pattern_searches (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  query TEXT NOT NULL,
  pattern_id TEXT,
  outcome TEXT NOT NULL,
  confidence REAL NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pattern_searches_created ON pattern_searches(created_at);

CREATE TABLE IF NOT EXISTS anomalies (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  severity TEXT NOT NULL,
  description TEXT NOT NULL,
  context TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  review_notes TEXT,
  created_at INTEGER NOT NULL,
  reviewed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_anomalies_status ON anomalies(status);
CREATE INDEX IF NOT EXISTS idx_anomalies_type ON anomalies(type);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	// FTS5 virtual tables and triggers are created separately since
	// IF NOT EXISTS isn't always supported for virtual tables in older SQLite.
	// Triggers fire inside the mutating transaction, so the full-text indexes
	// become visible exactly at commit time.
	fts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS conversations_fts USING fts5(
  topic, intent,
  content='conversations', content_rowid='rowid'
);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
  content,
  content='messages', content_rowid='rowid'
);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS patterns_fts USING fts5(
  name, tags,
  content='patterns', content_rowid='rowid'
);`,
	}
	for _, stmt := range fts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create fts table: %w", err)
		}
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS conversations_ai AFTER INSERT ON conversations BEGIN
  INSERT INTO conversations_fts(rowid, topic, intent) VALUES (NEW.rowid, NEW.topic, NEW.intent);
END;`,
		`CREATE TRIGGER IF NOT EXISTS conversations_ad AFTER DELETE ON conversations BEGIN
  INSERT INTO conversations_fts(conversations_fts, rowid, topic, intent)
  VALUES ('delete', OLD.rowid, OLD.topic, OLD.intent);
END;`,
		`CREATE TRIGGER IF NOT EXISTS conversations_au AFTER UPDATE ON conversations BEGIN
  INSERT INTO conversations_fts(conversations_fts, rowid, topic, intent)
  VALUES ('delete', OLD.rowid, OLD.topic, OLD.intent);
  INSERT INTO conversations_fts(rowid, topic, intent) VALUES (NEW.rowid, NEW.topic, NEW.intent);
END;`,
		`CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
  INSERT INTO messages_fts(rowid, content) VALUES (NEW.rowid, NEW.content);
END;`,
		`CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
  INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', OLD.rowid, OLD.content);
END;`,
		`CREATE TRIGGER IF NOT EXISTS patterns_ai AFTER INSERT ON patterns BEGIN
  INSERT INTO patterns_fts(rowid, name, tags) VALUES (NEW.rowid, NEW.name, NEW.tags);
END;`,
		`CREATE TRIGGER IF NOT EXISTS patterns_ad AFTER DELETE ON patterns BEGIN
  INSERT INTO patterns_fts(patterns_fts, rowid, name, tags) VALUES ('delete', OLD.rowid, OLD.name, OLD.tags);
END;`,
		`CREATE TRIGGER IF NOT EXISTS patterns_au AFTER UPDATE ON patterns BEGIN
  INSERT INTO patterns_fts(patterns_fts, rowid, name, tags) VALUES ('delete', OLD.rowid, OLD.name, OLD.tags);
  INSERT INTO patterns_fts(rowid, name, tags) VALUES (NEW.rowid, NEW.name, NEW.tags);
END;`,
	}

	for _, t := range triggers {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("create trigger: %w", err)
		}
	}

	return nil
}

// Counts returns total conversations, patterns, and pending anomalies.
func (db *DB) Counts() (conversations, patterns, pendingAnomalies int, err error) {
	if err = db.QueryRow("SELECT COUNT(*) FROM conversations").Scan(&conversations); err != nil {
		return
	}
	if err = db.QueryRow("SELECT COUNT(*) FROM patterns").Scan(&patterns); err != nil {
		return
	}
	err = db.QueryRow("SELECT COUNT(*) FROM anomalies WHERE status = 'pending'").Scan(&pendingAnomalies)
	return
}
