package authapi

import (
	"time"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/session"
)

type signupRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Platform string `json:"platform,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Platform string `json:"platform,omitempty"`
}

type userResponse struct {
	ID         string    `json:"_id"`
	FullName   string    `json:"fullName"`
	Email      string    `json:"email"`
	ProfilePic string    `json:"profilePic"`
	CreatedAt  time.Time `json:"createdAt"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// authResponse is returned by signup and login.
type authResponse struct {
	userResponse
	Session sessionResponse `json:"session"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:         u.ID,
		FullName:   u.FullName,
		Email:      u.Email,
		ProfilePic: u.ProfilePic,
		CreatedAt:  u.CreatedAt,
	}
}

func toAuthResponse(u identity.User, issued session.Issued) authResponse {
	return authResponse{
		userResponse: toUserResponse(u),
		Session: sessionResponse{
			Token:     issued.Token,
			ExpiresAt: issued.ExpiresAt,
		},
	}
}
