package models

import "time"

const (
	RoleUser       = "user"       // paying side: charged per message and per call minute
	RoleInfluencer = "influencer" // earning side: receives the revenue share
)

type User struct {
	ID                  int    `json:"id" example:"1"`
	Email               string `json:"email" example:"user@example.com"`
	DisplayName         string `json:"display_name" example:"Asha K"`
	Role                string `json:"role" example:"user"`
	Active              bool   `json:"active"`
	FailedLoginAttempts int    `json:"-"`
	LastLogin           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
