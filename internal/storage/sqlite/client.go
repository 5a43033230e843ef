package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/casebot/backend/internal/storage"
	"github.com/casebot/backend/internal/storage/models"
	"github.com/casebot/backend/pkg/logger"
)

type Client struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, now: time.Now}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT UNIQUE NOT NULL,
			session_name TEXT NOT NULL DEFAULT 'Chat',
			created_at INTEGER NOT NULL,
			is_archived INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS questions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(session_id),
			question_id TEXT UNIQUE NOT NULL,
			question_text TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(session_id),
			sender TEXT NOT NULL,
			message TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_session_time ON chat_history(session_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS file_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_name TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_id INTEGER NOT NULL REFERENCES file_groups(id) ON DELETE CASCADE,
			file_name TEXT NOT NULL,
			added_at INTEGER NOT NULL,
			UNIQUE(group_id, file_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_group_files_group ON group_files(group_id)`,
		`CREATE TABLE IF NOT EXISTS file_meta (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_name TEXT NOT NULL,
			file_size INTEGER NOT NULL,
			upload_timestamp INTEGER NOT NULL,
			user TEXT
		)`,
	}

	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	logger.Info("SQLite schema initialized")
	return nil
}

type sessionRow struct {
	SessionID string `db:"session_id"`
	Name      string `db:"session_name"`
	CreatedAt int64  `db:"created_at"`
	Archived  bool   `db:"is_archived"`
}

func (r sessionRow) model() models.Session {
	return models.Session{
		SessionID: r.SessionID,
		Name:      r.Name,
		CreatedAt: time.Unix(0, r.CreatedAt),
		Archived:  r.Archived,
	}
}

// CreateSession inserts the session unless its id already exists.
func (c *Client) CreateSession(ctx context.Context, sessionID, name string) error {
	if name == "" {
		name = models.DefaultSessionName
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, session_name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, name, c.now().UnixNano(),
	)
	if err != nil {
		return storage.Wrap("create session", err)
	}

	logger.Debug("Session created", zap.String("session_id", sessionID))
	return nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var row sessionRow
	err := c.db.GetContext(ctx, &row,
		`SELECT session_id, session_name, created_at, is_archived FROM sessions WHERE session_id = ?`,
		sessionID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, storage.Wrap("get session", err)
	}

	s := row.model()
	return &s, nil
}

// ListSessions returns sessions newest first.
func (c *Client) ListSessions(ctx context.Context, includeArchived bool) ([]models.Session, error) {
	query := `SELECT session_id, session_name, created_at, is_archived FROM sessions`
	if !includeArchived {
		query += ` WHERE is_archived = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	var rows []sessionRow
	if err := c.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, storage.Wrap("list sessions", err)
	}

	out := make([]models.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (c *Client) ArchiveSession(ctx context.Context, sessionID string) error {
	return c.updateSession(ctx, "archive session", `UPDATE sessions SET is_archived = 1 WHERE session_id = ?`, sessionID)
}

func (c *Client) RenameSession(ctx context.Context, sessionID, name string) error {
	return c.updateSession(ctx, "rename session", `UPDATE sessions SET session_name = ? WHERE session_id = ?`, name, sessionID)
}

func (c *Client) updateSession(ctx context.Context, op, query string, args ...any) error {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storage.Wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Wrap(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}

type chatTurnRow struct {
	ID        int64  `db:"id"`
	SessionID string `db:"session_id"`
	Sender    string `db:"sender"`
	Message   string `db:"message"`
	Timestamp int64  `db:"timestamp"`
}

// InsertChatTurn appends a turn. A zero Timestamp is set to now.
func (c *Client) InsertChatTurn(ctx context.Context, turn models.ChatTurn) error {
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO chat_history (session_id, sender, message, timestamp) VALUES (?, ?, ?, ?)`,
		turn.SessionID, turn.Sender, turn.Message, ts.UnixNano(),
	)
	if err != nil {
		return storage.Wrap("insert chat turn", err)
	}
	return nil
}

// RecentChatTurns returns the last n turns of a session in chronological order.
func (c *Client) RecentChatTurns(ctx context.Context, sessionID string, n int) ([]models.ChatTurn, error) {
	if n <= 0 {
		return []models.ChatTurn{}, nil
	}

	var rows []chatTurnRow
	err := c.db.SelectContext(ctx, &rows,
		`SELECT id, session_id, sender, message, timestamp FROM chat_history
		 WHERE session_id = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		sessionID, n,
	)
	if err != nil {
		return nil, storage.Wrap("read chat history", err)
	}

	out := make([]models.ChatTurn, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = models.ChatTurn{
			ID:        r.ID,
			SessionID: r.SessionID,
			Sender:    r.Sender,
			Message:   r.Message,
			Timestamp: time.Unix(0, r.Timestamp),
		}
	}
	return out, nil
}

func (c *Client) InsertQuestion(ctx context.Context, q models.Question) error {
	created := q.CreatedAt
	if created.IsZero() {
		created = c.now()
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO questions (session_id, question_id, question_text, created_at) VALUES (?, ?, ?, ?)`,
		q.SessionID, q.QuestionID, q.Text, created.UnixNano(),
	)
	if err != nil {
		return storage.Wrap("insert question", err)
	}
	return nil
}

// CreateGroup stores a named group with its initial members.
func (c *Client) CreateGroup(ctx context.Context, name string, files []string) (models.Group, error) {
	now := c.now()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Group{}, storage.Wrap("create group", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO file_groups (group_name, created_at) VALUES (?, ?)`,
		name, now.UnixNano(),
	)
	if err != nil {
		return models.Group{}, storage.Wrap("create group", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Group{}, storage.Wrap("create group", err)
	}

	if err := insertGroupFiles(ctx, tx, id, files, now); err != nil {
		return models.Group{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Group{}, storage.Wrap("create group", err)
	}

	logger.Info("Group created", zap.Int64("group_id", id), zap.String("name", name), zap.Int("files", len(files)))

	return models.Group{ID: id, Name: name, CreatedAt: now, Files: dedupe(files)}, nil
}

func (c *Client) AddGroupFiles(ctx context.Context, groupID int64, files []string) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return storage.Wrap("add group files", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.GetContext(ctx, &exists, `SELECT COUNT(1) FROM file_groups WHERE id = ?`, groupID)
	if err != nil {
		return storage.Wrap("add group files", err)
	}
	if exists == 0 {
		return fmt.Errorf("group %d: %w", groupID, storage.ErrNotFound)
	}

	if err := insertGroupFiles(ctx, tx, groupID, files, c.now()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storage.Wrap("add group files", err)
	}
	return nil
}

func insertGroupFiles(ctx context.Context, tx *sqlx.Tx, groupID int64, files []string, at time.Time) error {
	for _, f := range dedupe(files) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO group_files (group_id, file_name, added_at) VALUES (?, ?, ?)
			 ON CONFLICT(group_id, file_name) DO NOTHING`,
			groupID, f, at.UnixNano(),
		)
		if err != nil {
			return storage.Wrap("add group file", err)
		}
	}
	return nil
}

type groupRow struct {
	ID        int64  `db:"id"`
	Name      string `db:"group_name"`
	CreatedAt int64  `db:"created_at"`
}

type groupFileRow struct {
	GroupID  int64  `db:"group_id"`
	FileName string `db:"file_name"`
}

func (c *Client) ListGroups(ctx context.Context) ([]models.Group, error) {
	var groups []groupRow
	if err := c.db.SelectContext(ctx, &groups,
		`SELECT id, group_name, created_at FROM file_groups ORDER BY id`); err != nil {
		return nil, storage.Wrap("list groups", err)
	}

	var files []groupFileRow
	if err := c.db.SelectContext(ctx, &files,
		`SELECT group_id, file_name FROM group_files ORDER BY group_id, id`); err != nil {
		return nil, storage.Wrap("list group files", err)
	}

	members := make(map[int64][]string, len(groups))
	for _, f := range files {
		members[f.GroupID] = append(members[f.GroupID], f.FileName)
	}

	out := make([]models.Group, 0, len(groups))
	for _, g := range groups {
		names := members[g.ID]
		if names == nil {
			names = []string{}
		}
		out = append(out, models.Group{
			ID:        g.ID,
			Name:      g.Name,
			CreatedAt: time.Unix(0, g.CreatedAt),
			Files:     names,
		})
	}
	return out, nil
}

// GroupFileNames resolves group ids to the distinct member file names, in
// group then insertion order. Unknown ids contribute nothing.
func (c *Client) GroupFileNames(ctx context.Context, groupIDs []int64) ([]string, error) {
	if len(groupIDs) == 0 {
		return []string{}, nil
	}

	query, args, err := sqlx.In(
		`SELECT group_id, file_name FROM group_files WHERE group_id IN (?) ORDER BY group_id, id`,
		groupIDs,
	)
	if err != nil {
		return nil, storage.Wrap("resolve group files", err)
	}

	var rows []groupFileRow
	if err := c.db.SelectContext(ctx, &rows, c.db.Rebind(query), args...); err != nil {
		return nil, storage.Wrap("resolve group files", err)
	}

	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.FileName)
	}
	return dedupe(names), nil
}

func (c *Client) RecordUpload(ctx context.Context, meta models.FileMeta) (int64, error) {
	at := meta.UploadedAt
	if at.IsZero() {
		at = c.now()
	}

	res, err := c.db.ExecContext(ctx,
		`INSERT INTO file_meta (file_name, file_size, upload_timestamp, user) VALUES (?, ?, ?, ?)`,
		meta.FileName, meta.FileSize, at.UnixNano(), nullString(meta.User),
	)
	if err != nil {
		return 0, storage.Wrap("record upload", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, storage.Wrap("record upload", err)
	}
	return id, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
