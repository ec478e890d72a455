// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package console

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// legacyPrefix marks hashes imported from the previous system, encoded as
// pbkdf2$<iterations>$<salt-b64>$<hash-b64>.
const legacyPrefix = "pbkdf2$"

// HashPassword hashes with the current scheme.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", Error.Wrap(err)
	}
	return string(hash), nil
}

// verifyPassword checks password against hash, supporting both the current
// bcrypt scheme and the legacy pbkdf2 scheme. legacy reports that the
// stored hash should be upgraded.
func verifyPassword(hash, password string) (ok, legacy bool) {
	if strings.HasPrefix(hash, legacyPrefix) {
		return verifyLegacy(hash, password), true
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, false
}

func verifyLegacy(hash, password string) bool {
	parts := strings.Split(strings.TrimPrefix(hash, legacyPrefix), "$")
	if len(parts) != 3 {
		return false
	}
	iterations, err := strconv.Atoi(parts[0])
	if err != nil || iterations < 1 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
