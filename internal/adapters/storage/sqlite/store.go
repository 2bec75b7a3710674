package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/PabloGalante/instaflow/internal/domain"
)

// Store keeps users, posts and follow edges in a single SQLite file.
// Timestamps are stored as unix nanoseconds.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			bio TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			author_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			caption TEXT NOT NULL DEFAULT '',
			media_url TEXT NOT NULL,
			media_type TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_author_created ON posts(author_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS follows (
			follower_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (follower_id, target_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// ─────────────────────────────────────────
// UserStore implementation
// ─────────────────────────────────────────

func (s *Store) UpsertUser(ctx context.Context, user *domain.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, bio, avatar_url, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			bio = excluded.bio,
			avatar_url = excluded.avatar_url`,
		string(user.ID), user.Username, user.Bio, user.AvatarURL, toUnix(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite UpsertUser: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var (
		u         domain.User
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, bio, avatar_url, created_at FROM users WHERE id = ?`, string(id)).
		Scan(&u.ID, &u.Username, &u.Bio, &u.AvatarURL, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite GetUser: %w", err)
	}
	u.CreatedAt = fromUnix(createdAt)
	return &u, nil
}

// ─────────────────────────────────────────
// PostStore implementation
// ─────────────────────────────────────────

const postColumns = `id, author_id, kind, caption, media_url, media_type, created_at`

func scanPost(row interface{ Scan(...any) error }) (*domain.Post, error) {
	var (
		p         domain.Post
		kind      string
		createdAt int64
	)
	if err := row.Scan(&p.ID, &p.AuthorID, &kind, &p.Caption, &p.MediaURL, &p.MediaType, &createdAt); err != nil {
		return nil, err
	}
	p.Kind = domain.ParsePostKind(kind)
	p.CreatedAt = fromUnix(createdAt)
	return &p, nil
}

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (`+postColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(post.ID), string(post.AuthorID), string(post.Kind), post.Caption,
		post.MediaURL, post.MediaType, toUnix(post.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite CreatePost: %w", err)
	}
	return nil
}

func (s *Store) GetPost(ctx context.Context, id domain.PostID) (*domain.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, string(id))
	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite GetPost: %w", err)
	}
	return p, nil
}

func (s *Store) ListPostsByAuthors(ctx context.Context, authors []domain.UserID, limit int) ([]*domain.Post, error) {
	if len(authors) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(authors)+1)
	for _, a := range authors {
		args = append(args, string(a))
	}
	query := `SELECT ` + postColumns + ` FROM posts WHERE author_id IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(authors)), ",") +
		`) ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite ListPostsByAuthors: %w", err)
	}
	defer rows.Close()

	var out []*domain.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite ListPostsByAuthors scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────
// FollowStore implementation
// ─────────────────────────────────────────

func (s *Store) SetFollow(ctx context.Context, follower, target domain.UserID, follow bool) error {
	var err error
	if follow {
		_, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO follows (follower_id, target_id, created_at) VALUES (?, ?, ?)`,
			string(follower), string(target), time.Now().UnixNano())
	} else {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM follows WHERE follower_id = ? AND target_id = ?`,
			string(follower), string(target))
	}
	if err != nil {
		return fmt.Errorf("sqlite SetFollow: %w", err)
	}
	return nil
}

func (s *Store) ListFollowing(ctx context.Context, follower domain.UserID) ([]domain.UserID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_id FROM follows WHERE follower_id = ? ORDER BY target_id`, string(follower))
	if err != nil {
		return nil, fmt.Errorf("sqlite ListFollowing: %w", err)
	}
	defer rows.Close()

	var out []domain.UserID
	for rows.Next() {
		var id domain.UserID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite ListFollowing scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
