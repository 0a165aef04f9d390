package jwt

import "errors"

var ErrNotTheServerClaims = errors.New("not the serverClaims")

var ErrTokenExpired = errors.New("token has expired")

var ErrWrongServer = errors.New("token issued for another server")
