/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package platform

import (
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// ErrOpaqueToken is returned when the access token is not a JWT.
var ErrOpaqueToken = errors.New("access token is not a JWT")

var tokenAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.HS256,
}

// TokenClaims is the identity carried by a JWT access token.
type TokenClaims struct {
	UserID string
	OrgID  string
	Expiry time.Time
}

// Expired reports whether the token expiry has passed. Tokens without an
// expiry never expire.
func (tc TokenClaims) Expired(now time.Time) bool {
	return !tc.Expiry.IsZero() && now.After(tc.Expiry)
}

// ParseTokenClaims decodes the claims of a JWT access token without verifying
// its signature. The platform verifies tokens; the SDK only needs the subject
// to scope per-user channels.
func ParseTokenClaims(accessToken string) (TokenClaims, error) {
	tok, err := jwt.ParseSigned(accessToken, tokenAlgorithms)
	if err != nil {
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrOpaqueToken, err)
	}

	var std jwt.Claims
	var extra struct {
		UserID string `json:"user_id"`
		OrgID  string `json:"org_id"`
	}
	if err := tok.UnsafeClaimsWithoutVerification(&std, &extra); err != nil {
		return TokenClaims{}, fmt.Errorf("error decoding token claims: %w", err)
	}

	claims := TokenClaims{
		UserID: extra.UserID,
		OrgID:  extra.OrgID,
	}
	if claims.UserID == "" {
		claims.UserID = std.Subject
	}
	if std.Expiry != nil {
		claims.Expiry = std.Expiry.Time()
	}
	return claims, nil
}

// TokenClaims decodes the claims of the client's own access token.
func (c *Client) TokenClaims() (TokenClaims, error) {
	return ParseTokenClaims(c.accessToken)
}
