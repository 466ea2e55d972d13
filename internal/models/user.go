package models

import "time"

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleResponder Role = "responder"
	RoleEndUser   Role = "enduser"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleResponder, RoleEndUser:
		return true
	}
	return false
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Phone        string    `json:"phone"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Public returns the projection safe to share with other users, e.g. the
// responder identity pushed to a victim when help is assigned.
func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Name: u.Name, Phone: u.Phone}
}

type PublicUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}
