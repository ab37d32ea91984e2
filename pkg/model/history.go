package model

import "time"

// Transcript is the record of one chat session, exported when the session unmounts
type Transcript struct {
	SessionID SessionID          `json:"session_id"`
	UserID    string             `json:"user_id,omitempty"`
	Page      string             `json:"page"`
	CreatedAt time.Time          `json:"created_at"`
	ClosedAt  time.Time          `json:"closed_at"`
	Entries   []*TranscriptEntry `json:"entries"`
}

// TranscriptEntry is either a message or a snapshot of a tool call
type TranscriptEntry struct {
	Role     MemoryRole `json:"role,omitempty"`
	Content  string     `json:"content,omitempty"`
	ToolCall *ToolCall  `json:"tool_call,omitempty"`
	At       time.Time  `json:"at"`
}
