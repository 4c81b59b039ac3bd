package models

import "time"

// SessionStatus represents the status of a floor-plan parse session.
type SessionStatus string

const (
	SessionStatusPending  SessionStatus = "pending"
	SessionStatusParsing  SessionStatus = "parsing"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusError    SessionStatus = "error"
)

// ParseSession tracks the parsing of one uploaded drawing for a site.
type ParseSession struct {
	ID               string        `json:"id"`
	SiteID           int64         `json:"siteId"`
	FileID           string        `json:"fileId"`
	FileName         string        `json:"fileName,omitempty"`
	Status           SessionStatus `json:"status"`
	Progress         float64       `json:"progress"` // 0-100
	PrimitiveCount   int           `json:"primitiveCount,omitempty"`
	SkippedCount     int           `json:"skippedCount,omitempty"`
	ProcessingTimeMs int64         `json:"processingTimeMs,omitempty"`
	Bounds           *BoundingBox  `json:"bounds,omitempty"`
	Message          string        `json:"message,omitempty"`
	Errors           []ParseError  `json:"errors,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// ParseError records an entity the drawing parser could not use.
type ParseError struct {
	Line    int    `json:"line"`
	Content string `json:"content"`
	Reason  string `json:"reason"`
}

// NewParseSession creates a new ParseSession in pending status.
func NewParseSession(id string, siteID int64, fileID string) *ParseSession {
	return &ParseSession{
		ID:        id,
		SiteID:    siteID,
		FileID:    fileID,
		Status:    SessionStatusPending,
		Progress:  0,
		Errors:    make([]ParseError, 0),
		CreatedAt: time.Now(),
	}
}
