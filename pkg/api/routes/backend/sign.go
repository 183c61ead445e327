package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode"

	"github.com/valyala/fasthttp"

	"clipshare/pkg/api/auth"
	"clipshare/pkg/api/router"
	"clipshare/pkg/api/utils"
	"clipshare/pkg/config"
	"clipshare/pkg/state/logger"
)

// Sign returns the HMAC signature a client presents at login for userId.
func Sign(ctx *fasthttp.RequestCtx) {
	if auth.RoleFrom(ctx) != auth.RoleBackend {
		logger.Warn("sign_forbidden", "remote", ctx.RemoteAddr().String())
		router.WriteJSONError(ctx, fasthttp.StatusForbidden, "forbidden")
		return
	}

	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(bytes.NewReader(ctx.PostBody())).Decode(&payload); err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := ValidateUserID(payload.UserID); err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("invalid user ID: %s", err.Error()))
		return
	}

	key, err := signingKey(utils.ExtractAPIKey(ctx))
	if err != nil {
		logger.Error("signing_key_unavailable", "error", err)
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}

	sig := auth.CreateHMACSignature(payload.UserID, key)
	if err := router.WriteJSON(ctx, map[string]string{"userId": payload.UserID, "signature": sig}); err != nil {
		logger.Error("sign_response_failed", "error", err)
	}
}

func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}
	if len(userID) > 100 {
		return fmt.Errorf("user ID too long")
	}
	for _, r := range userID {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("user ID contains invalid characters")
		}
	}
	return nil
}

// signingKey prefers the caller's own key so every backend gets stable
// signatures.
func signingKey(callerKey string) (string, error) {
	keys := config.GetSigningKeys()
	if _, ok := keys[callerKey]; ok {
		return callerKey, nil
	}
	for k := range keys {
		return k, nil
	}
	return "", fmt.Errorf("signing keys not configured")
}
