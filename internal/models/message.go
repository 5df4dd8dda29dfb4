package models

import "time"

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Message is one entry of a chat history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
