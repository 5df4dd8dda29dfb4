package models

import "time"

// Chat is a named transcript owned by a user.
type Chat struct {
	ChatID    string     `json:"chatId"`
	ChatName  string     `json:"chatName"`
	History   []*Message `json:"history"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ChatSummary is the list view of a chat, without its history.
type ChatSummary struct {
	ChatID    string    `json:"chatId"`
	ChatName  string    `json:"chatName"`
	CreatedAt time.Time `json:"createdAt"`
}
