package model

import "time"

// Ban represents a banned nickname.
type Ban struct {
	ID        int64     `json:"id"`
	Nickname  string    `json:"nickname"`
	Reason    string    `json:"reason"`
	BannedBy  string    `json:"banned_by"` // nickname of the issuing admin
	CreatedAt time.Time `json:"created_at"`
}
