package api

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// callbackTokens mints and verifies the short-lived JWTs handed to external
// deployment services so their status callbacks can be tied to a specific
// opportunity and action.
type callbackTokens struct {
	secret []byte
	ttl    time.Duration
}

func newCallbackTokens(secret string, ttl time.Duration) *callbackTokens {
	if ttl <= 0 {
		ttl = time.Hour
	}
	key := []byte(secret)
	if len(key) == 0 {
		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err == nil {
			key = []byte(base64.RawURLEncoding.EncodeToString(buf))
			log.Print("WEBHOOK_SECRET is not set; callback tokens use an ephemeral in-memory key")
		}
	}
	return &callbackTokens{secret: key, ttl: ttl}
}

func (t *callbackTokens) mint(oppID uuid.UUID, action string) (string, error) {
	if len(t.secret) == 0 {
		return "", errors.New("callback token key unavailable")
	}

	claims := jwt.MapClaims{
		"sub":    oppID.String(),
		"action": action,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(t.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// verify checks the signature, expiry, and action, returning the opportunity
// the token was minted for.
func (t *callbackTokens) verify(tokenString, wantAction string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid callback token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return uuid.Nil, errors.New("invalid callback token claims")
	}

	if action, _ := claims["action"].(string); action != wantAction {
		return uuid.Nil, fmt.Errorf("token minted for %q, not %q", claims["action"], wantAction)
	}

	sub, _ := claims["sub"].(string)
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, errors.New("callback token has no opportunity id")
	}
	return id, nil
}
