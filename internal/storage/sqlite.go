package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// timeLayout is ISO-8601 UTC with fixed millisecond precision, so stored
// timestamps compare lexicographically and scheduled_at <= ? works on TEXT.
const timeLayout = "2006-01-02T15:04:05.000Z"

type sqliteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the SQLite database at cfg.Path and applies
// the embedded schema.
func Open(cfg Config, log zerolog.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const postColumns = `id, message, group_id, group_name, scheduled_at, status, created_at, sent_at, image_path`

func (s *sqliteStore) CreatePost(ctx context.Context, p Post) (Post, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = StatusScheduled
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts(message, group_id, group_name, scheduled_at, status, created_at, image_path)
		 VALUES(?,?,?,?,?,?,?)`,
		p.Message, p.GroupID, p.GroupName, formatTime(p.ScheduledAt), p.Status,
		formatTime(p.CreatedAt), nullStr(p.ImagePath),
	)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Post{}, err
	}
	return s.GetPost(ctx, id)
}

func (s *sqliteStore) GetPost(ctx context.Context, id int64) (Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	return p, err
}

func (s *sqliteStore) ListPosts(ctx context.Context, status string) ([]Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts ORDER BY scheduled_at ASC, id ASC`
	args := []any{}
	if status != "" {
		query = `SELECT ` + postColumns + ` FROM posts WHERE status = ? ORDER BY scheduled_at ASC, id ASC`
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPosts(rows)
}

func (s *sqliteStore) UpdatePost(ctx context.Context, id int64, upd PostUpdate) (Post, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET message=?, group_id=?, group_name=?, scheduled_at=?, image_path=? WHERE id=?`,
		upd.Message, upd.GroupID, upd.GroupName, formatTime(upd.ScheduledAt), nullStr(upd.ImagePath), id,
	)
	if err != nil {
		return Post{}, fmt.Errorf("update post %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Post{}, ErrNotFound
	}
	return s.GetPost(ctx, id)
}

func (s *sqliteStore) DeletePost(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete post %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListDue(ctx context.Context, now time.Time) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE status = ? AND scheduled_at <= ?
		 ORDER BY scheduled_at ASC, id ASC`,
		StatusScheduled, formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("list due posts: %w", err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

func (s *sqliteStore) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET status=?, sent_at=? WHERE id=? AND status=?`,
		StatusSent, formatTime(sentAt), id, StatusScheduled,
	)
	if err != nil {
		return fmt.Errorf("mark post %d sent: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Post deleted or edited out from under the dispatcher; benign.
		s.log.Warn().Int64("post_id", id).Msg("mark sent skipped: post vanished or no longer scheduled")
	}
	return nil
}

func (s *sqliteStore) MarkFailed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET status=? WHERE id=? AND status=?`,
		StatusFailed, id, StatusScheduled,
	)
	if err != nil {
		return fmt.Errorf("mark post %d failed: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.log.Warn().Int64("post_id", id).Msg("mark failed skipped: post vanished or no longer scheduled")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (Post, error) {
	var (
		p           Post
		scheduledAt string
		createdAt   string
		sentAt      sql.NullString
		imagePath   sql.NullString
	)
	err := r.Scan(&p.ID, &p.Message, &p.GroupID, &p.GroupName, &scheduledAt, &p.Status, &createdAt, &sentAt, &imagePath)
	if err != nil {
		return Post{}, err
	}
	if p.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return Post{}, fmt.Errorf("post %d: bad scheduled_at: %w", p.ID, err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return Post{}, fmt.Errorf("post %d: bad created_at: %w", p.ID, err)
	}
	if sentAt.Valid {
		t, err := parseTime(sentAt.String)
		if err != nil {
			return Post{}, fmt.Errorf("post %d: bad sent_at: %w", p.ID, err)
		}
		p.SentAt = &t
	}
	p.ImagePath = imagePath.String
	return p, nil
}

func collectPosts(rows *sql.Rows) ([]Post, error) {
	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
