package models

import "time"

type User struct {
	UserID       string    `json:"userid" bson:"userid"`
	Username     string    `json:"username" bson:"username"`
	Email        string    `json:"email" bson:"email"`
	PasswordHash string    `json:"-" bson:"password_hash"`
	Role         []string  `json:"role" bson:"role"`
	Avatar       string    `json:"avatar" bson:"avatar"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	LastLogin    time.Time `json:"last_login" bson:"last_login"`
}

// HasRole reports whether the user carries role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Role {
		if r == role {
			return true
		}
	}
	return false
}

// Profile is the denormalized user data kept next to the token on the client.
type Profile struct {
	UserID string `json:"userid"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role,omitempty"`
}

// ProfileOf builds the client-side profile for u.
func ProfileOf(u User) Profile {
	role := ""
	if len(u.Role) > 0 {
		role = u.Role[0]
	}
	return Profile{UserID: u.UserID, Name: u.Username, Email: u.Email, Avatar: u.Avatar, Role: role}
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /api/auth/login.
type LoginResponse struct {
	Token string  `json:"token"`
	User  Profile `json:"user"`
}
