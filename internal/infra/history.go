package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/dictd/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	historyDBName        = "history.db"
	historySchemaVersion = "1"
)

// EncryptedHistory implements domain.HistoryStore
// using a SQLCipher encrypted SQLite database.
type EncryptedHistory struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedHistory opens (or creates) the encrypted history database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedHistory(dataDir string, key []byte) (*EncryptedHistory, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, historyDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	// Saves come from the daemon's job worker and reads from the CLI; one connection is enough.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	h := &EncryptedHistory{db: db, dbPath: dbPath}
	if err := h.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return h, nil
}

// OpenHistory loads (or generates) the key in dataDir and opens the history database.
func OpenHistory(dataDir string) (*EncryptedHistory, error) {
	key, err := EnsureKey(NewFileKeyProvider(dataDir))
	if err != nil {
		return nil, err
	}
	return NewEncryptedHistory(dataDir, key)
}

func (h *EncryptedHistory) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at INTEGER NOT NULL,
		text TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		window_class TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_transcriptions_created_at ON transcriptions (created_at);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := h.db.Exec(schema); err != nil {
		return err
	}
	_, err := h.db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`, historySchemaVersion)
	return err
}

// Save stores a transcription. A zero CreatedAt is stamped with the current time.
func (h *EncryptedHistory) Save(t domain.Transcription) (int64, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	result, err := h.db.Exec(`
		INSERT INTO transcriptions (created_at, text, duration_ms, window_class)
		VALUES (?, ?, ?, ?)`,
		t.CreatedAt.UnixNano(), t.Text, t.Duration.Milliseconds(), t.WindowClass,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save transcription: %w", err)
	}
	return result.LastInsertId()
}

// Recent returns up to limit transcriptions, newest first.
// A non-positive limit returns nothing.
func (h *EncryptedHistory) Recent(limit int) ([]domain.Transcription, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := h.db.Query(`
		SELECT id, created_at, text, duration_ms, window_class
		FROM transcriptions
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transcription
	for rows.Next() {
		var (
			t          domain.Transcription
			createdAt  int64
			durationMS int64
		)
		if err := rows.Scan(&t.ID, &createdAt, &t.Text, &durationMS, &t.WindowClass); err != nil {
			return nil, err
		}
		t.CreatedAt = time.Unix(0, createdAt)
		t.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep transcriptions and returns how many were removed.
func (h *EncryptedHistory) Prune(keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := h.db.Exec(`
		DELETE FROM transcriptions WHERE id NOT IN (
			SELECT id FROM transcriptions ORDER BY created_at DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Path returns the database file path.
func (h *EncryptedHistory) Path() string {
	return h.dbPath
}

// Close releases the database connection.
func (h *EncryptedHistory) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

var _ domain.HistoryStore = (*EncryptedHistory)(nil)
