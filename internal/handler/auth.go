package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"github.com/quickserve-pos/api/internal/auth"
	"github.com/quickserve-pos/api/internal/database"
	"github.com/quickserve-pos/api/internal/enum"
)

const (
	staffTokenTTL = 15 * time.Minute
	// Terminals are unattended kiosks; re-login on a 15 minute cadence
	// would strand customers mid-order.
	terminalTokenTTL = 24 * time.Hour
)

// AuthStore defines the database methods needed by auth handlers.
type AuthStore interface {
	GetUserByEmail(ctx context.Context, email string) (database.User, error)
}

type AuthHandler struct {
	store     AuthStore
	jwtSecret string
}

func NewAuthHandler(store AuthStore, jwtSecret string) *AuthHandler {
	return &AuthHandler{store: store, jwtSecret: jwtSecret}
}

func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.Login)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string       `json:"access_token"`
	User        userResponse `json:"user"`
}

type userResponse struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	LocationID uuid.UUID `json:"location_id"`
	FullName   string    `json:"full_name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
}

// Login authenticates staff and terminal credentials alike; terminals
// are users with the TERMINAL role and a longer-lived token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		logrus.WithError(err).Error("get user by email")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ttl := staffTokenTTL
	if user.Role == enum.UserRoleTerminal {
		ttl = terminalTokenTTL
	}

	token, err := auth.GenerateToken(h.jwtSecret, user.ID, user.TenantID, user.LocationID, user.Role, ttl)
	if err != nil {
		logrus.WithError(err).Error("generate token")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		User: userResponse{
			ID:         user.ID,
			TenantID:   user.TenantID,
			LocationID: user.LocationID,
			FullName:   user.FullName,
			Email:      user.Email,
			Role:       user.Role,
		},
	})
}
