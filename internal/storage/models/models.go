package models

import "time"

const (
	SenderUser = "user"
	SenderBot  = "bot"

	DefaultSessionName = "Chat"
)

type Session struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"session_name"`
	CreatedAt time.Time `json:"created_at"`
	Archived  bool      `json:"is_archived"`
}

// ChatTurn is one message in a session's append-only log.
type ChatTurn struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Question struct {
	QuestionID string    `json:"question_id"`
	SessionID  string    `json:"session_id"`
	Text       string    `json:"question_text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Group is a named set of uploaded file names used to scope retrieval.
type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"group_name"`
	CreatedAt time.Time `json:"created_at"`
	Files     []string  `json:"files"`
}

type FileMeta struct {
	ID         int64     `json:"id"`
	FileName   string    `json:"file_name"`
	FileSize   int64     `json:"file_size"`
	UploadedAt time.Time `json:"upload_timestamp"`
	User       string    `json:"user,omitempty"`
}
