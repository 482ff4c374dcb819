package auth

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/cristalhq/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims is the verified subset of a connection token.
type Claims struct {
	Subject string
}

// Issuer builds HMAC-signed connection tokens.
type Issuer struct {
	builder *jwt.Builder
	ttl     time.Duration
}

func NewIssuer(secret []byte, ttl time.Duration) (*Issuer, error) {
	signer, err := jwt.NewSignerHS(jwt.HS256, secret)
	if err != nil {
		return nil, err
	}
	return &Issuer{
		builder: jwt.NewBuilder(signer),
		ttl:     ttl,
	}, nil
}

func (i *Issuer) Issue(subject string) (string, error) {
	now := time.Now()
	token, err := i.builder.Build(jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	})
	if err != nil {
		return "", err
	}
	return token.String(), nil
}

// Verifier checks connection tokens arriving on the event-stream endpoint.
type Verifier struct {
	verifier jwt.Verifier
}

func NewVerifier(secret []byte) (*Verifier, error) {
	v, err := jwt.NewVerifierHS(jwt.HS256, secret)
	if err != nil {
		return nil, err
	}
	return &Verifier{verifier: v}, nil
}

func (v *Verifier) Verify(t string) (Claims, error) {
	token, err := jwt.Parse([]byte(t), v.verifier)
	if err != nil {
		return Claims{}, errors.Join(ErrTokenInvalid, err)
	}

	var claims jwt.RegisteredClaims
	if err = json.Unmarshal(token.Claims(), &claims); err != nil {
		return Claims{}, errors.Join(ErrTokenInvalid, err)
	}
	if !claims.IsValidAt(time.Now()) {
		return Claims{}, ErrTokenExpired
	}
	return Claims{Subject: claims.Subject}, nil
}
