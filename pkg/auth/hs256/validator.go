// Package hs256 accepts JWTs signed with a shared HMAC secret, the form CI
// systems can mint without an identity provider.
package hs256

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/osvaldoandrade/qrbot/pkg/auth"
)

type validatorConfig struct {
	Secret           string `json:"secret"`
	Issuer           string `json:"issuer,omitempty"`
	Audience         string `json:"audience,omitempty"`
	ClockSkewSeconds int    `json:"clockSkewSeconds,omitempty"`
	// RequiredScope, when set, must appear in the space separated "scope" claim.
	RequiredScope string `json:"requiredScope,omitempty"`
}

type Validator struct {
	secret        []byte
	issuer        string
	audience      string
	clockSkew     time.Duration
	requiredScope string
}

func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	var cfg validatorConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("hs256 auth: invalid config: %w", err)
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("hs256 auth: secret is required")
	}
	if len(cfg.Secret) < 16 {
		return nil, errors.New("hs256 auth: secret must be at least 16 bytes")
	}
	skew := time.Duration(cfg.ClockSkewSeconds) * time.Second
	if skew <= 0 {
		skew = 60 * time.Second
	}
	return &Validator{
		secret:        []byte(cfg.Secret),
		issuer:        strings.TrimSpace(cfg.Issuer),
		audience:      strings.TrimSpace(cfg.Audience),
		clockSkew:     skew,
		requiredScope: strings.TrimSpace(cfg.RequiredScope),
	}, nil
}

func (v *Validator) Validate(tokenString string) (*auth.Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	result := &auth.Claims{
		Kind:    "hs256",
		Subject: getStringClaim(claims, "sub"),
		Issuer:  getStringClaim(claims, "iss"),
		Raw:     claims,
	}
	if aud, err := claims.GetAudience(); err == nil {
		result.Audience = aud
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		result.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		result.IssuedAt = iat.Time
	}
	if scope, ok := claims["scope"].(string); ok {
		result.Scopes = strings.Fields(scope)
	}

	if v.requiredScope != "" && !result.HasScope(v.requiredScope) {
		return nil, fmt.Errorf("missing scope %s", v.requiredScope)
	}
	return result, nil
}

func getStringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func init() {
	auth.RegisterProvider("hs256", NewValidatorFromJSON)
}
