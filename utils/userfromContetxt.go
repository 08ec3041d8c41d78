package utils

import (
	"net/http"
	"slices"

	"stopshop/globals"
)

func GetUserIDFromRequest(r *http.Request) string {
	requestingUserID, ok := r.Context().Value(globals.UserIDKey).(string)
	if !ok || requestingUserID == "" {
		return ""
	}
	return requestingUserID
}

func GetRolesFromRequest(r *http.Request) []string {
	roles, _ := r.Context().Value(globals.RoleKey).([]string)
	return roles
}

// HasRole reports whether the authenticated caller carries role.
func HasRole(r *http.Request, role string) bool {
	return slices.Contains(GetRolesFromRequest(r), role)
}

// GetTokenFromRequest returns the raw bearer token accepted by Authenticate.
func GetTokenFromRequest(r *http.Request) string {
	token, _ := r.Context().Value(globals.TokenKey).(string)
	return token
}
