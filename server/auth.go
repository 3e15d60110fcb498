package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"secure-room/configs"
)

// Claims carries the session user and the anti-forgery token bound to it.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string
	CSRFToken string
}

func GenerateToken(userID, csrfToken string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID:    userID,
		CSRFToken: csrfToken,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

type sessionResponse struct {
	CSRFToken string `json:"csrf_token"`
}

// HandleCreateSession checks the account password, issues the session cookie and returns
// the anti-forgery token.
func (s *Server) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(r)
	if !ok {
		http.Error(w, "user and password required", http.StatusBadRequest)
		return
	}
	if err := s.checkPassword(r.Context(), req); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			s.logger.Warnf("Rejected login for user %s", req.User)
			http.Error(w, "invalid user or password", http.StatusForbidden)
			return
		}
		s.logger.Errorf("Error checking password for user %s: %v", req.User, err)
		http.Error(w, "Error creating session", http.StatusInternalServerError)
		return
	}

	csrf := uuid.NewString()
	token, err := GenerateToken(req.User, csrf, []byte(s.cfg.JWTSecret), s.cfg.SessionTTL)
	if err != nil {
		s.logger.Errorf("Error generating token for user %s: %v", req.User, err)
		http.Error(w, "Error creating session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     configs.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(s.cfg.SessionTTL),
	})
	writeJSON(w, sessionResponse{CSRFToken: csrf})
	s.logger.Infof("Session created for user %s", req.User)
}

// authenticate returns the session user. requireCSRF also checks the anti-forgery header.
func (s *Server) authenticate(r *http.Request, requireCSRF bool) (string, error) {
	cookie, err := r.Cookie(configs.SessionCookieName)
	if err != nil {
		return "", ErrUnauthorized
	}
	claims, err := ParseToken(cookie.Value, []byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if requireCSRF {
		header := r.Header.Get(configs.CSRFHeaderName)
		if subtle.ConstantTimeCompare([]byte(header), []byte(claims.CSRFToken)) != 1 {
			return "", fmt.Errorf("%w: bad anti-forgery token", ErrUnauthorized)
		}
	}
	return claims.UserID, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Error encoding response", http.StatusInternalServerError)
	}
}
