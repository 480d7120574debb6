package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken indicates the request carried no bearer credential.
var ErrNoToken = errors.New("no bearer token")

// Context carries the identity attached to a verified request.
type Context struct {
	// Token is the raw bearer token as presented.
	Token string
	// UserID is the user_id claim of the verified token, or its
	// subject when user_id is absent.
	UserID string
	// Scopes are the OAuth scopes granted to the token, if any.
	Scopes []string
}

type tokenClaims struct {
	UserID string `json:"user_id,omitempty"`
	Scope  string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens from two trust roots: first-party
// session tokens and OAuth access tokens. Which branch applies is
// decided by the token's issuer claim.
type Verifier struct {
	sessionIssuer string
	oauthIssuer   string
	audience      string

	sessionKeys *jwksCache
	oauthKeys   *jwksCache
}

// Config describes the two accepted token issuers.
type Config struct {
	// SessionIssuer and SessionJWKSURL describe first-party session tokens.
	SessionIssuer  string
	SessionJWKSURL string

	// OAuthIssuer and OAuthJWKSURL describe OAuth access tokens.
	OAuthIssuer  string
	OAuthJWKSURL string

	// Audience is required in session tokens (the project ID).
	Audience string

	// HTTPClient is used for JWKS fetches; nil gets a default client.
	HTTPClient *http.Client
}

// NewVerifier builds a Verifier from the issuer configuration.
func NewVerifier(cfg Config) *Verifier {
	return &Verifier{
		sessionIssuer: cfg.SessionIssuer,
		oauthIssuer:   cfg.OAuthIssuer,
		audience:      cfg.Audience,
		sessionKeys:   newJWKSCache(cfg.SessionJWKSURL, cfg.HTTPClient),
		oauthKeys:     newJWKSCache(cfg.OAuthJWKSURL, cfg.HTTPClient),
	}
}

// NormalizeBearer extracts the raw token from an Authorization header
// value. It returns ErrNoToken when the header is empty or not Bearer.
func NormalizeBearer(authorization string) (string, error) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return "", ErrNoToken
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrNoToken
	}
	token := strings.TrimSpace(parts[1])
	token = strings.Trim(token, `"`)
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Verify validates the Authorization header value and returns the
// verified identity. Verification fails closed on any mismatch.
func (v *Verifier) Verify(ctx context.Context, authorization string) (*Context, error) {
	raw, err := NormalizeBearer(authorization)
	if err != nil {
		return nil, err
	}

	raw = canonicalToken(raw)

	issuer, err := peekIssuer(raw)
	if err != nil {
		return nil, fmt.Errorf("inspect token: %w", err)
	}

	// A first-party issuer selects the session trust root; every other
	// issuer is verified against the OAuth root. Key sets are never
	// crossed, and each branch asserts its configured issuer.
	var (
		keys    *jwksCache
		options []jwt.ParserOption
	)
	if strings.HasPrefix(issuer, v.sessionIssuer) {
		keys = v.sessionKeys
		options = []jwt.ParserOption{
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithIssuer(v.sessionIssuer),
			jwt.WithAudience(v.audience),
		}
	} else {
		keys = v.oauthKeys
		options = []jwt.ParserOption{
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithIssuer(v.oauthIssuer),
			jwt.WithAudience(v.audience),
		}
	}

	claims := &tokenClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token missing kid header")
		}
		return keys.Key(ctx, kid)
	}, options...)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, fmt.Errorf("token missing user id")
	}

	return &Context{
		Token:  raw,
		UserID: userID,
		Scopes: strings.Fields(claims.Scope),
	}, nil
}

// canonicalToken rewrites each segment of a three-part token to
// unpadded base64url. Intermediaries sometimes re-encode segments with
// the standard alphabet or padding; the signature covers the canonical
// form, so the rewrite is lossless.
func canonicalToken(raw string) string {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return raw
	}
	r := strings.NewReplacer("+", "-", "/", "_")
	for i, p := range parts {
		parts[i] = strings.TrimRight(r.Replace(p), "=")
	}
	return strings.Join(parts, ".")
}

// peekIssuer reads the issuer claim without verifying the signature.
// The issuer only selects which trust root to verify against; the
// signature check that follows is what grants trust.
func peekIssuer(raw string) (string, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	var body struct {
		Issuer string `json:"iss"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", fmt.Errorf("parse payload: %w", err)
	}
	if body.Issuer == "" {
		return "", fmt.Errorf("token missing issuer")
	}
	return body.Issuer, nil
}
