package jwt

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
)

// ServerClaims authorise one server name to register with the broker.
type ServerClaims struct {
	ServerName string
	jwt.StandardClaims
}

// GetServerToken signs a registration token with the shared secret.
func GetServerToken(secret, serverName string, duration time.Duration) (string, error) {
	now := time.Now()
	sClaims := &ServerClaims{
		ServerName: serverName,
		StandardClaims: jwt.StandardClaims{
			Subject:   serverName,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(duration).Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sClaims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "sign server token")
	}
	return s, nil
}

// ParseServerToken verifies tokenStr and checks it was issued for serverName
// (case-insensitive).
func ParseServerToken(secret, serverName, tokenStr string) (*ServerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ServerClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, "parse server token")
	}

	claims, ok := token.Claims.(*ServerClaims)
	if !ok {
		return nil, ErrNotTheServerClaims
	}

	if !token.Valid {
		return nil, ErrTokenExpired
	}

	if !strings.EqualFold(claims.ServerName, serverName) {
		return nil, ErrWrongServer
	}

	return claims, nil
}
