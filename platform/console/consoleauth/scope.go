// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package consoleauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scope names carried by signed scope tokens.
const (
	ScopeWorker     = "worker"
	ScopeClient     = "client"
	ScopeBreakGlass = "break-glass"
	ScopePhoto      = "photo"
	ScopeInvoice    = "invoice"
)

// ScopeClaims is the payload of a signed scope token. Which fields are set
// depends on the scope: workers carry a team, clients a lead, photo tokens
// a photo id and optionally a user agent hash.
type ScopeClaims struct {
	Scope     string    `json:"scope"`
	OrgID     uuid.UUID `json:"org_id"`
	SubjectID uuid.UUID `json:"sub"`
	TeamID    uuid.UUID `json:"team_id,omitempty"`
	LeadID    uuid.UUID `json:"lead_id,omitempty"`
	UAHash    string    `json:"ua,omitempty"`
	ExpiresAt int64     `json:"exp"`
}

// SignScope mints a compact payload.signature token for the claims.
func (signer *Signer) SignScope(claims ScopeClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", Error.Wrap(err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + signer.scopeSignature(encoded), nil
}

// VerifyScope validates the token signature, expiry and expected scope.
func (signer *Signer) VerifyScope(raw, scope string, now time.Time) (ScopeClaims, error) {
	encoded, signature, ok := strings.Cut(raw, ".")
	if !ok {
		return ScopeClaims{}, Error.New("malformed scope token")
	}
	if subtle.ConstantTimeCompare([]byte(signature), []byte(signer.scopeSignature(encoded))) != 1 {
		return ScopeClaims{}, Error.New("invalid scope token signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return ScopeClaims{}, Error.Wrap(err)
	}
	var claims ScopeClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ScopeClaims{}, Error.Wrap(err)
	}
	if claims.Scope != scope {
		return ScopeClaims{}, Error.New("scope mismatch")
	}
	if !now.Before(time.Unix(claims.ExpiresAt, 0)) {
		return ScopeClaims{}, Error.New("scope token expired")
	}
	return claims, nil
}

func (signer *Signer) scopeSignature(encoded string) string {
	mac := hmac.New(sha256.New, signer.secret)
	_, _ = mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
