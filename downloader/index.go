package downloader

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Index is the persistent deduplication and intent index:  one row per
// stored content hash, one row per source URL.  A source row is
// written when the download is queued and gains its hash only when the
// bytes are on disk, so the set of queued-but-unfinished downloads
// survives an interrupted run and is replayed by the next one.
type Index struct {
	db *sqlx.DB
}

var indexSchema = `
CREATE TABLE IF NOT EXISTS file (
	hash TEXT NOT NULL PRIMARY KEY,
	path TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS source (
	url  TEXT NOT NULL PRIMARY KEY,
	dir  TEXT NOT NULL DEFAULT '',
	hash TEXT REFERENCES file(hash)
);
`

// OpenIndex opens (creating if necessary) the index database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite allows one writer
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// Stored returns the stored path for the URL, if the URL's content has
// already been downloaded.
func (ix *Index) Stored(url string) (string, bool, error) {
	var path string
	err := ix.db.Get(&path, `SELECT f.path FROM source s JOIN file f ON f.hash = s.hash WHERE s.url = ?`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

// PathForHash returns the stored path for a content hash.
func (ix *Index) PathForHash(hash string) (string, bool, error) {
	var path string
	err := ix.db.Get(&path, `SELECT path FROM file WHERE hash = ?`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

// Add records a downloaded file.  The same hash arriving from a second
// URL keeps the first stored path;  the new URL is mapped onto it.
func (ix *Index) Add(url, hash, path string, size int64) error {
	tx, err := ix.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`INSERT INTO file (hash, path, size) VALUES (?, ?, ?) ON CONFLICT (hash) DO NOTHING`, hash, path, size); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO source (url, hash) VALUES (?, ?) ON CONFLICT (url) DO UPDATE SET hash = excluded.hash`, url, hash); err != nil {
		return err
	}
	return tx.Commit()
}

// AddWant records the intent to download url into dir.  A URL that is
// already known, finished or not, is left alone.
func (ix *Index) AddWant(url, dir string) error {
	_, err := ix.db.Exec(`INSERT INTO source (url, dir) VALUES (?, ?) ON CONFLICT (url) DO NOTHING`, url, dir)
	return err
}

// Pending returns the downloads that were queued but never finished.
func (ix *Index) Pending() ([]Request, error) {
	var rr []Request
	if err := ix.db.Select(&rr, `SELECT url, dir FROM source WHERE hash IS NULL`); err != nil {
		return nil, err
	}
	return rr, nil
}

// MarkGone resolves a want whose URL is permanently unavailable (404 or
// 403 from the CDN), so it is not replayed forever.  The empty hash
// matches no file row, so Stored keeps returning false for it.
func (ix *Index) MarkGone(url string) error {
	_, err := ix.db.Exec(`UPDATE source SET hash = '' WHERE url = ?`, url)
	return err
}

// Count returns the number of stored files.
func (ix *Index) Count() (int, error) {
	var n int
	if err := ix.db.Get(&n, `SELECT COUNT(*) FROM file`); err != nil {
		return 0, err
	}
	return n, nil
}
