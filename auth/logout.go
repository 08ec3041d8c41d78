package auth

import (
	"net/http"
	"time"

	"stopshop/middleware"
	"stopshop/utils"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// Logout handles POST /api/auth/logout. The token stays revoked until it
// would have expired.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	token := utils.GetTokenFromRequest(r)
	claims, err := middleware.ParseToken(h.secret, token)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	until := h.now().Add(TokenTTL)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	if err := h.revoker.Revoke(r.Context(), token, until); err != nil {
		h.log.Error("revoke token", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to invalidate session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session_token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   true,
	})

	h.emit(r.Context(), "user-loggedout", claims.UserID)
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"success": true,
		"message": "Logged out successfully",
	})
}
