package model

import "time"

// Exchange is one answered question, kept in the transcript log.
type Exchange struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	IndexID   string    `gorm:"size:64;not null;index" json:"index_id"`
	FileName  string    `gorm:"size:512;not null" json:"file_name"`
	SessionID string    `gorm:"size:64;index" json:"session_id"`
	Question  string    `gorm:"type:text;not null" json:"question"`
	Answer    string    `gorm:"type:text;not null" json:"answer"`
	Mode      string    `gorm:"size:16" json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one chat message kept in session history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
