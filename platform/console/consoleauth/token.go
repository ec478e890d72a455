// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package consoleauth implements token minting and verification for every
// credential variant: JWT access tokens, opaque refresh secrets, and signed
// scope tokens for workers, magic-link clients and break-glass operators.
package consoleauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/zeebo/errs"
)

// Error is the default consoleauth errs class.
var Error = errs.Class("consoleauth")

// Config holds token secrets and lifetimes.
type Config struct {
	Secret        string        `help:"hmac secret for access and scope tokens" default:""`
	AccessTTL     time.Duration `help:"access token lifetime" default:"15m"`
	RefreshTTL    time.Duration `help:"refresh token lifetime" default:"720h"`
	WorkerTTL     time.Duration `help:"worker scope token lifetime" default:"12h"`
	MagicLinkTTL  time.Duration `help:"client magic link lifetime" default:"168h"`
	BreakGlassTTL time.Duration `help:"break-glass token lifetime" default:"15m"`
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	UserID    uuid.UUID
	OrgID     uuid.UUID
	Role      string
	SessionID uuid.UUID
	JTI       uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type accessClaims struct {
	OrgID string `json:"org_id"`
	Role  string `json:"role"`
	SID   string `json:"sid"`
	jwt.RegisteredClaims
}

// Signer mints and verifies tokens with a shared HMAC secret.
type Signer struct {
	secret []byte
	config Config
}

// NewSigner creates a signer from config.
func NewSigner(config Config) (*Signer, error) {
	if config.Secret == "" {
		return nil, Error.New("auth secret is not configured")
	}
	return &Signer{secret: []byte(config.Secret), config: config}, nil
}

// SignAccess mints a signed access JWT for the claims.
func (signer *Signer) SignAccess(claims AccessClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &accessClaims{
		OrgID: claims.OrgID.String(),
		Role:  claims.Role,
		SID:   claims.SessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID.String(),
			ID:        claims.JTI.String(),
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	signed, err := token.SignedString(signer.secret)
	return signed, Error.Wrap(err)
}

// VerifyAccess parses and validates an access JWT.
func (signer *Signer) VerifyAccess(raw string) (AccessClaims, error) {
	var parsed accessClaims
	token, err := jwt.ParseWithClaims(raw, &parsed, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, Error.New("unexpected signing method %v", t.Header["alg"])
		}
		return signer.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return AccessClaims{}, Error.New("invalid access token")
	}

	claims := AccessClaims{Role: parsed.Role}
	if claims.UserID, err = uuid.Parse(parsed.Subject); err != nil {
		return AccessClaims{}, Error.Wrap(err)
	}
	if claims.OrgID, err = uuid.Parse(parsed.OrgID); err != nil {
		return AccessClaims{}, Error.Wrap(err)
	}
	if claims.SessionID, err = uuid.Parse(parsed.SID); err != nil {
		return AccessClaims{}, Error.Wrap(err)
	}
	if claims.JTI, err = uuid.Parse(parsed.ID); err != nil {
		return AccessClaims{}, Error.Wrap(err)
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}
	return claims, nil
}

// NewRefreshSecret generates an opaque refresh secret and the hash that may
// be persisted. The secret itself is never stored.
func NewRefreshSecret() (secret, hash string, err error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", "", Error.Wrap(err)
	}
	secret = base64.RawURLEncoding.EncodeToString(buf[:])
	return secret, HashSecret(secret), nil
}

// HashSecret returns the storable hash of an opaque secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
