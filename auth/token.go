// Package auth vends bearer token logic: minting a signed token at login/register time and
// resolving a presented token back to the user it was minted for.
package auth

import (
	"fmt"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	se "pinboard.io/pinboard/errors"
)

// TokenTTL is how long a minted token stays valid.
const TokenTTL = 7 * 24 * time.Hour

// Mint issues a signed token whose subject is the given user id.
func Mint(userID string, secret []byte) (string, *se.Err) {
	now := time.Now()
	claims := &jwt.StandardClaims{
		Subject:   userID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(TokenTTL).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", se.NewServiceFailure("error signing token").WithCause(err)
	}
	return tok, nil
}

// Verify checks the token's signature and expiry and returns the user id it was minted for.
func Verify(token string, secret []byte) (string, *se.Err) {
	claims := &jwt.StandardClaims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !tok.Valid {
		e := se.NewUnauthorized("invalid token")
		if err != nil {
			e = e.WithCause(err)
		}
		return "", e
	}
	if claims.Subject == "" {
		return "", se.NewUnauthorized("token has no subject")
	}
	return claims.Subject, nil
}
