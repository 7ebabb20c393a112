package models

import "time"

type Language string

const (
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangJava       Language = "java"
	LangCPP        Language = "cpp"
	LangGo         Language = "go"
	LangRust       Language = "rust"
	LangRuby       Language = "ruby"
	LangPHP        Language = "php"
	LangSQL        Language = "sql"
)

func (l Language) Valid() bool {
	switch l {
	case LangPython, LangJavaScript, LangTypeScript, LangJava, LangCPP,
		LangGo, LangRust, LangRuby, LangPHP, LangSQL:
		return true
	}
	return false
}

type SessionStatus string

const (
	StatusActive SessionStatus = "active"
	StatusIdle   SessionStatus = "idle"
	StatusClosed SessionStatus = "closed"
)

const (
	MaxInitialCodeLen = 100000
	MaxTitleLen       = 200
)

type CreateSessionRequest struct {
	Language    Language `json:"language,omitempty"`
	InitialCode string   `json:"initial_code,omitempty"`
	Title       string   `json:"title,omitempty"`
}

type UpdateSessionRequest struct {
	Language *Language `json:"language,omitempty"`
	Title    *string   `json:"title,omitempty"`
}

type SessionResponse struct {
	ID                string        `json:"id"`
	URL               string        `json:"url"`
	WebsocketURL      string        `json:"websocket_url"`
	Language          Language      `json:"language"`
	Title             string        `json:"title,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	Status            SessionStatus `json:"status"`
	ParticipantsCount int           `json:"participants_count"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type HealthResponse struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	Version        string    `json:"version"`
	ActiveSessions int       `json:"active_sessions"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}
