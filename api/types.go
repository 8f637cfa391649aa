package api

// AuthResponse is the body returned by the login, register and refresh
// endpoints on success.
type AuthResponse struct {
	// AccessToken is the short-lived bearer token used to access protected
	// resources.
	// Usage: Include in Authorization header: "Bearer <access_token>"
	// Lifespan: Short-lived (15 minutes unless the token itself says otherwise)
	AccessToken string `json:"accessToken"`
}

// LoginRequest is the body sent to the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the body sent to the register endpoint.
type RegisterRequest struct {
	FullName string `json:"fullName" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// Profile is the dashboard payload describing the authenticated user.
type Profile struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}
