package auth

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"stopshop/db"
	"stopshop/middleware"
	"stopshop/models"
	"stopshop/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 8

// Register handles POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in models.RegisterRequest
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" || in.Email == "" || in.Password == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid email")
		return
	}
	if len(in.Password) < minPasswordLen {
		utils.RespondWithError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		h.log.Error("hash password", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	user := models.User{
		UserID:       "u" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14],
		Username:     in.Username,
		Email:        strings.ToLower(in.Email),
		PasswordHash: string(hashed),
		Role:         []string{"user"},
		CreatedAt:    h.now(),
	}
	if err := h.users.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, db.ErrConflict) {
			utils.RespondWithError(w, http.StatusConflict, "User already exists")
			return
		}
		h.log.Error("create user", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	h.log.Info("user registered", zap.String("userId", user.UserID))
	utils.RespondWithJSON(w, http.StatusCreated, utils.M{
		"status":  http.StatusCreated,
		"message": "Registration successful",
		"user":    models.ProfileOf(user),
	})
}

// Login handles POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in models.LoginRequest
	if err := utils.DecodeJSON(w, r, &in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	if in.Email == "" || in.Password == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.users.FindUserByEmail(r.Context(), in.Email)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		h.log.Error("find user", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Login failed")
		return
	}
	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)) != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	token, err := h.issue(user)
	if err != nil {
		h.log.Error("sign token", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	if err := h.users.TouchLogin(r.Context(), user.UserID); err != nil {
		h.log.Warn("record last login", zap.Error(err))
	}

	h.emit(r.Context(), "user-loggedin", user.UserID)
	utils.RespondWithJSON(w, http.StatusOK, models.LoginResponse{
		Token: token,
		User:  models.ProfileOf(user),
	})
}

func (h *Handler) issue(user models.User) (string, error) {
	now := h.now()
	claims := &middleware.Claims{
		Username: user.Username,
		UserID:   user.UserID,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
}
