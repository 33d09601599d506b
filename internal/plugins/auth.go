package plugins

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go-apigateway/internal/gwcontext"
	"go-apigateway/internal/plugin"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthSettings configures the built-in authentication plugin
type AuthSettings struct {
	JWTSecret    string   `json:"jwtSecret"`
	APIKeyHashes []string `json:"apiKeyHashes"` // bcrypt hashes
	Exclude      []string `json:"exclude"`      // path globs that skip auth
}

type authErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewAuth returns the authentication plugin. A bearer token is validated
// as an HS256 JWT; an X-API-Key header is matched against the configured
// bcrypt hashes. Excluded paths pass through.
func NewAuth(settings AuthSettings) *plugin.Plugin {
	var exclude []*regexp.Regexp
	if len(settings.Exclude) > 0 {
		exclude = compileGlobs(settings.Exclude)
	}

	deny := func(ctx *gwcontext.RequestContext, message, code string) {
		var body authErrorBody
		body.Error.Message = message
		body.Error.Type = "authentication_error"
		body.Error.Code = code
		payload, _ := json.Marshal(body)
		ctx.Respond(401, "application/json", payload)
	}

	return &plugin.Plugin{
		Name: "auth",
		PreHandler: func(ctx *gwcontext.RequestContext) error {
			if exclude != nil && matchesAny(exclude, ctx.Path) {
				return nil
			}

			if apiKey := ctx.Header("X-API-Key"); apiKey != "" {
				for _, hash := range settings.APIKeyHashes {
					if bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)) == nil {
						ctx.SharedState()["auth_type"] = "api_key"
						return nil
					}
				}
				deny(ctx, "Invalid API key", "invalid_api_key")
				return nil
			}

			authHeader := ctx.Header("Authorization")
			if authHeader == "" {
				deny(ctx, "Missing authentication token", "missing_token")
				return nil
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				deny(ctx, "Invalid authorization format", "invalid_format")
				return nil
			}

			claims := jwt.MapClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(settings.JWTSecret), nil
			})
			if err != nil || !parsed.Valid {
				deny(ctx, "Invalid or expired token", "invalid_token")
				return nil
			}

			state := ctx.SharedState()
			state["auth_type"] = "jwt"
			if sub, ok := claims["sub"].(string); ok {
				state["user_id"] = sub
			}
			return nil
		},
	}
}
