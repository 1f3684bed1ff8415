package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mailbrief/internal/core"
)

// Store is the SQLite-backed content repository.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the repository database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "mailbrief.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

// initialize creates the necessary tables and indexes.
//
// Uniqueness of the dedup keys is enforced here, at write time, so that a
// concurrent run racing past the batched existence pre-check still cannot
// produce duplicate rows.
func (s *Store) initialize() error {
	itemsTable := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		source_type TEXT NOT NULL,
		source_email TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		raw_html TEXT NOT NULL DEFAULT '',
		ingest_date TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		external_message_id TEXT NOT NULL DEFAULT ''
	);`

	messageIDIndex := `
	CREATE UNIQUE INDEX IF NOT EXISTS idx_items_message_id
	ON items (external_message_id)
	WHERE external_message_id != '';`

	articleURLIndex := `
	CREATE UNIQUE INDEX IF NOT EXISTS idx_items_article_url
	ON items (source_url)
	WHERE source_type = 'article';`

	ingestDateIndex := `
	CREATE INDEX IF NOT EXISTS idx_items_ingest_date ON items (ingest_date);`

	sourcesTable := `
	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		added_at DATETIME NOT NULL
	);`

	personalityTable := `
	CREATE TABLE IF NOT EXISTS personality (
		locale TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	stmts := []string{itemsTable, messageIDIndex, articleURLIndex, ingestDateIndex, sourcesTable, personalityTable}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// InsertItem writes a new repository item. Items are immutable: a
// uniqueness violation on the message id or article URL surfaces as an
// error rather than silently overwriting.
func (s *Store) InsertItem(item core.Item) error {
	query := `
	INSERT INTO items
	(id, source_type, source_email, source_url, title, content, raw_html, ingest_date, received_at, external_message_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		item.ID,
		string(item.SourceType),
		item.SourceEmail,
		item.SourceURL,
		item.Title,
		item.Content,
		item.RawHTML,
		item.IngestDate,
		item.ReceivedAt.UTC(),
		item.ExternalMessageID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

// DeleteItemByMessageID removes the item carrying the given provider
// message id. Used only by force re-ingestion.
func (s *Store) DeleteItemByMessageID(messageID string) error {
	_, err := s.db.Exec(`DELETE FROM items WHERE external_message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete item by message id: %w", err)
	}
	return nil
}

// DeleteArticleByURL removes the article row for the given resolved URL.
// Used only by force re-ingestion.
func (s *Store) DeleteArticleByURL(url string) error {
	_, err := s.db.Exec(`DELETE FROM items WHERE source_type = ? AND source_url = ?`,
		string(core.SourceArticle), url)
	if err != nil {
		return fmt.Errorf("failed to delete article by url: %w", err)
	}
	return nil
}

// ExistingMessageIDs returns, for one batched query, the subset of ids
// already present in the repository. The per-run existence check runs
// once over the whole batch instead of once per item.
func (s *Store) ExistingMessageIDs(ids []string) (map[string]bool, error) {
	return s.existingValues("external_message_id", ids, "")
}

// ExistingArticleURLs returns the subset of urls already stored as
// articles, in one batched query.
func (s *Store) ExistingArticleURLs(urls []string) (map[string]bool, error) {
	return s.existingValues("source_url", urls, string(core.SourceArticle))
}

// ArticleURLExists checks a single resolved URL. Used after redirect
// resolution, when the final URL is only just known.
func (s *Store) ArticleURLExists(url string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM items WHERE source_type = ? AND source_url = ?`,
		string(core.SourceArticle), url).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check article url: %w", err)
	}
	return count > 0, nil
}

func (s *Store) existingValues(column string, values []string, sourceType string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(values) == 0 {
		return existing, nil
	}

	placeholders := strings.Repeat("?,", len(values))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(`SELECT %s FROM items WHERE %s IN (%s)`, column, column, placeholders)
	args := make([]interface{}, 0, len(values)+1)
	for _, v := range values {
		args = append(args, v)
	}
	if sourceType != "" {
		query += ` AND source_type = ?`
		args = append(args, sourceType)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan existing value: %w", err)
		}
		existing[v] = true
	}

	return existing, rows.Err()
}

// ListItemsByIngestDate returns all items in a day bucket, newest first.
func (s *Store) ListItemsByIngestDate(date string) ([]core.Item, error) {
	rows, err := s.db.Query(`
	SELECT id, source_type, source_email, source_url, title, content, raw_html, ingest_date, received_at, external_message_id
	FROM items WHERE ingest_date = ? ORDER BY received_at DESC`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// LatestIngestDate returns the most recent day bucket present in the
// repository, or "" when the repository is empty.
func (s *Store) LatestIngestDate() (string, error) {
	var date sql.NullString
	err := s.db.QueryRow(`SELECT MAX(ingest_date) FROM items`).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to query latest ingest date: %w", err)
	}
	if !date.Valid {
		return "", nil
	}
	return date.String, nil
}

// ItemCounts returns the number of stored items per source type.
func (s *Store) ItemCounts() (map[core.SourceType]int, error) {
	rows, err := s.db.Query(`SELECT source_type, COUNT(*) FROM items GROUP BY source_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	defer rows.Close()

	counts := make(map[core.SourceType]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[core.SourceType(st)] = n
	}
	return counts, rows.Err()
}

func scanItems(rows *sql.Rows) ([]core.Item, error) {
	var items []core.Item
	for rows.Next() {
		var item core.Item
		var sourceType string
		var receivedAt time.Time
		err := rows.Scan(
			&item.ID,
			&sourceType,
			&item.SourceEmail,
			&item.SourceURL,
			&item.Title,
			&item.Content,
			&item.RawHTML,
			&item.IngestDate,
			&receivedAt,
			&item.ExternalMessageID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item.SourceType = core.SourceType(sourceType)
		item.ReceivedAt = receivedAt
		items = append(items, item)
	}
	return items, rows.Err()
}

// AddSource registers a newsletter sender.
func (s *Store) AddSource(src core.Source) error {
	_, err := s.db.Exec(`
	INSERT INTO sources (id, email, name, enabled, added_at) VALUES (?, ?, ?, ?, ?)`,
		src.ID, strings.ToLower(src.Email), src.Name, src.Enabled, src.AddedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to add source: %w", err)
	}
	return nil
}

// ListSources returns registered senders; enabledOnly restricts to those
// currently fetched.
func (s *Store) ListSources(enabledOnly bool) ([]core.Source, error) {
	query := `SELECT id, email, name, enabled, added_at FROM sources`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY email`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []core.Source
	for rows.Next() {
		var src core.Source
		var addedAt time.Time
		if err := rows.Scan(&src.ID, &src.Email, &src.Name, &src.Enabled, &addedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		src.AddedAt = addedAt
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// SetSourceEnabled toggles fetching for a registered sender.
func (s *Store) SetSourceEnabled(email string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE sources SET enabled = ? WHERE email = ?`,
		enabled, strings.ToLower(email))
	if err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %s not found", email)
	}
	return nil
}

// LoadPersonality returns the stored personality state JSON for a locale,
// or nil when none exists yet.
func (s *Store) LoadPersonality(locale string) ([]byte, error) {
	var state string
	err := s.db.QueryRow(`SELECT state FROM personality WHERE locale = ?`, locale).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load personality: %w", err)
	}
	return []byte(state), nil
}

// SavePersonality upserts the personality state JSON for a locale.
func (s *Store) SavePersonality(locale string, state []byte) error {
	_, err := s.db.Exec(`
	INSERT INTO personality (locale, state, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(locale) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		locale, string(state), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save personality: %w", err)
	}
	return nil
}
