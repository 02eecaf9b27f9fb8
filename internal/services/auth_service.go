package services

import (
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/innkeep/backend/internal/models"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

// AuthService authenticates property staff. Passwords are stored as
// "salt:hash" with both halves base64-encoded; tokens carry the staff
// role so the checkout endpoint can gate on it.
type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *validator.Validate
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"frontdesk@hotel.example"` // Staff email
	Password string `json:"password" validate:"required,min=6" example:"password123"`          // Staff password
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token string           `json:"token"` // JWT token
	User  models.StaffUser `json:"user"`  // Staff information
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: validator.New(),
	}
}

// Login authenticates a staff member
// @Summary Staff login
// @Description Authenticate a staff member and issue a role-scoped token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LoginRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", CodeValidation, http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", CodeValidation, http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", CodeValidation, http.StatusBadRequest, err)
		return
	}

	user := models.StaffUser{}
	err := s.db.QueryRow(`
		SELECT id, tenant_id, email, full_name, role, password_hash, active, created_at
		FROM staff_users
		WHERE email = $1`, strings.ToLower(req.Email)).Scan(
		&user.ID, &user.TenantID, &user.Email, &user.FullName, &user.Role,
		&user.PasswordHash, &user.Active, &user.CreatedAt)
	if err != nil {
		log.Printf("[AUTH] Login failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Invalid credentials", "", http.StatusUnauthorized, nil)
		return
	}

	if !user.Active || !verifyPassword(req.Password, user.PasswordHash) {
		log.Printf("[AUTH] Invalid credentials for %s", req.Email)
		SendErrorResponse(w, "Invalid credentials", "", http.StatusUnauthorized, nil)
		return
	}

	token, err := s.issueToken(&user)
	if err != nil {
		log.Printf("[AUTH] Failed to issue token for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to issue token", "", http.StatusInternalServerError, nil)
		return
	}

	user.PasswordHash = ""
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, User: user})
}

// Logout revokes the caller's token
// @Summary Staff logout
// @Description Revoke the presented token until it expires
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]bool
// @Failure 400 {object} ErrorResponse
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		SendErrorResponse(w, "Authorization header required", CodeValidation, http.StatusBadRequest, nil)
		return
	}

	if s.redis != nil {
		expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
		if expiry == 0 {
			expiry = 24 * time.Hour
		}
		if err := s.redis.Set(r.Context(), "revoked:"+parts[1], "1", expiry).Err(); err != nil {
			log.Printf("[AUTH] Failed to revoke token: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func (s *AuthService) issueToken(user *models.StaffUser) (string, error) {
	expiryHours := viper.GetInt("jwt.expiry_hours")
	if expiryHours == 0 {
		expiryHours = 24
	}

	claims := jwt.MapClaims{
		"user_id":   user.ID,
		"tenant_id": user.TenantID,
		"role":      user.Role,
		"exp":       time.Now().Add(time.Duration(expiryHours) * time.Hour).Unix(),
		"iat":       time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

// verifyPassword checks a password against a stored "salt:hash" pair
// of base64-encoded argon2id values.
func verifyPassword(password, stored string) bool {
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, uint32(len(expected)))
	return subtle.ConstantTimeCompare(hash, expected) == 1
}

// HashPassword derives the stored "salt:hash" form for a password.
func HashPassword(password string, salt []byte) string {
	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return base64.StdEncoding.EncodeToString(salt) + ":" + base64.StdEncoding.EncodeToString(hash)
}
