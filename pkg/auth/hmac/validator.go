// Package hmac validates HS256/384/512 signed JWTs against a shared secret.
package hmac

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/osvaldoandrade/mpsflow/pkg/auth"
)

type validatorConfig struct {
	Secret   string `json:"secret"`
	Issuer   string `json:"issuer,omitempty"`
	Audience string `json:"audience,omitempty"`
	// ClockSkewSeconds is the leeway applied to exp/nbf/iat.
	ClockSkewSeconds int `json:"clockSkewSeconds,omitempty"`
}

type Validator struct {
	secret []byte
	parser *jwt.Parser
}

func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	var cfg validatorConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("hmac auth: invalid config: %w", err)
	}
	return NewValidator(cfg.Secret, cfg.Issuer, cfg.Audience, time.Duration(cfg.ClockSkewSeconds)*time.Second)
}

func NewValidator(secret, issuer, audience string, clockSkew time.Duration) (*Validator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("hmac auth: secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &Validator{secret: []byte(secret), parser: jwt.NewParser(opts...)}, nil
}

func (v *Validator) Validate(tokenString string) (*auth.Claims, error) {
	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	out := &auth.Claims{Raw: claims}
	out.Subject, _ = claims.GetSubject()
	out.Issuer, _ = claims.GetIssuer()
	if aud, err := claims.GetAudience(); err == nil {
		out.Audience = aud
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if scope, ok := claims["scope"].(string); ok {
		out.Scopes = strings.Fields(scope)
	}
	return out, nil
}

func init() {
	auth.RegisterProvider("hmac", NewValidatorFromJSON)
}
