// Package api exposes the authentication core over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	veridian "github.com/getveridian/veridian"
	"github.com/getveridian/veridian/identity"
	"github.com/getveridian/veridian/passkey"
	"github.com/getveridian/veridian/plugin"
)

type Handler struct {
	engine *veridian.Engine
}

func NewHandler(engine *veridian.Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/identities", h.HandleRegisterIdentity)
	g.GET("/identities/:id", h.HandleGetIdentity)
	g.PATCH("/identities/:id", h.HandleUpdateIdentity)
	g.DELETE("/identities/:id", h.HandleDeleteIdentity)
	g.POST("/identities/:id/verify", h.HandleVerifyIdentity)
	g.POST("/identities/:id/deactivate", h.HandleDeactivateIdentity)
	g.GET("/users/:userId/identities", h.HandleListIdentities)

	g.POST("/passkey/registration/options", h.HandlePasskeyRegistrationOptions)
	g.POST("/passkey/registration/finish", h.HandlePasskeyRegistrationFinish)
	g.POST("/passkey/authentication/options", h.HandlePasskeyAuthenticationOptions)
	g.DELETE("/passkey/credentials/:id", h.HandlePasskeyRemoveCredential)

	g.POST("/auth/:provider/authenticate", h.HandleAuthenticate)
	g.POST("/auth/:provider/verify", h.HandleVerifyToken)
	g.GET("/providers", h.HandleListProviders)
}

func (h *Handler) HandlePasskeyRegistrationOptions(c echo.Context) error {
	var body struct {
		UserID      string   `json:"user_id"`
		DisplayName string   `json:"display_name"`
		Exclude     []string `json:"exclude"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "invalid request body", err)
	}
	if body.UserID == "" {
		return h.Error(c, http.StatusBadRequest, "user_id is required", nil)
	}

	options, err := h.engine.Passkey.GenerateRegistrationOptions(
		c.Request().Context(), body.UserID, body.DisplayName, body.Exclude)
	if err != nil {
		return h.Error(c, http.StatusInternalServerError, "internal server error", err)
	}
	return c.JSON(http.StatusOK, options)
}

func (h *Handler) HandlePasskeyRegistrationFinish(c echo.Context) error {
	var body struct {
		UserID      string          `json:"user_id"`
		Attestation json.RawMessage `json:"attestation"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "invalid request body", err)
	}
	if body.UserID == "" || len(body.Attestation) == 0 {
		return h.Error(c, http.StatusBadRequest, "user_id and attestation are required", nil)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(body.Attestation))
	if err != nil {
		return h.Error(c, http.StatusBadRequest, "invalid attestation response", err)
	}

	cred, err := h.engine.Passkey.FinishRegistration(c.Request().Context(), body.UserID, parsed)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, cred)
	case errors.Is(err, passkey.ErrChallengeNotFound):
		return h.Error(c, http.StatusNotFound, "no pending challenge", nil)
	case errors.Is(err, passkey.ErrChallengeMismatch),
		errors.Is(err, passkey.ErrCeremonyType),
		errors.Is(err, passkey.ErrOriginMismatch),
		errors.Is(err, passkey.ErrBadAttestation):
		return h.Error(c, http.StatusUnauthorized, "registration rejected", err)
	default:
		return h.Error(c, http.StatusInternalServerError, "internal server error", err)
	}
}

func (h *Handler) HandlePasskeyAuthenticationOptions(c echo.Context) error {
	var body struct {
		Allow            []string `json:"allow"`
		UserVerification string   `json:"user_verification"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "invalid request body", err)
	}

	options, challengeID, err := h.engine.Passkey.GenerateAuthenticationOptions(
		c.Request().Context(), body.Allow,
		protocol.UserVerificationRequirement(body.UserVerification))
	if err != nil {
		return h.Error(c, http.StatusInternalServerError, "internal server error", err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"challenge_id": challengeID,
		"options":      options,
	})
}

func (h *Handler) HandlePasskeyRemoveCredential(c echo.Context) error {
	deleted, err := h.engine.Passkey.RemoveCredential(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.Error(c, http.StatusInternalServerError, "internal server error", err)
	}
	if !deleted {
		return h.Error(c, http.StatusNotFound, "credential not found", nil)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) HandleRegisterIdentity(c echo.Context) error {
	var body struct {
		Type     string         `json:"type"`
		UserID   string         `json:"user_id"`
		Provider string         `json:"provider"`
		Data     map[string]any `json:"data"`
		Verified bool           `json:"verified"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "invalid request body", err)
	}

	ident, err := h.engine.Registry.Register(c.Request().Context(), identity.RegisterParams{
		Type:     identity.Type(body.Type),
		UserID:   body.UserID,
		Provider: body.Provider,
		Data:     body.Data,
		Verified: body.Verified,
	})
	if err != nil {
		if errors.Is(err, identity.ErrInvalidType) {
			return h.Error(c, http.StatusBadRequest, "unknown identity type", err)
		}
		return h.Error(c, http.StatusInternalServerError, "internal server error", err)
	}

	return c.JSON(http.StatusCreated, ident)
}

func (h *Handler) HandleGetIdentity(c echo.Context) error {
	ident, err := h.engine.Registry.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return h.Error(c, http.StatusNotFound, "identity not found", nil)
		}
		return h.Error(c, http.StatusInternalServerError, "internal server error", err)
	}
	return c.JSON(http.StatusOK, ident)
}

func (h *Handler) HandleUpdateIdentity(c echo.Context) error {
	var fields map[string]any
	if err := c.Bind(&fields); err != nil {
		return h.Error(c, http.StatusBadRequest, "invalid request body", err)
	}

	ident, err := h.engine.Registry.Update(c.Request().Context(), c.Param("id"), fields)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return h.Error(c, http.StatusNotFound, "identity not found", nil)
		}
		return h.Error(c, http.StatusInternalServerError, "internal server error", err)
	}
	return c.JSON(http.StatusOK, ident)
}

func (h *Handler) HandleDeleteIdentity(c echo.Context) error {
	deleted, err := h.engine.Registry.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.Error(c, http.StatusInternalServerError, "internal server error", err)
	}
	if !deleted {
		return h.Error(c, http.StatusNotFound, "identity not found", nil)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) HandleVerifyIdentity(c echo.Context) error {
	var proof map[string]any
	if err := c.Bind(&proof); err != nil {
		return h.Error(c, http.StatusBadRequest, "invalid request body", err)
	}

	verified, err := h.engine.Registry.VerifyIdentity(c.Request().Context(), c.Param("id"), proof)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return h.Error(c, http.StatusNotFound, "identity not found", nil)
		}
		return h.Error(c, http.StatusUnauthorized, "verification rejected", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"verified": verified})
}

func (h *Handler) HandleDeactivateIdentity(c echo.Context) error {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "invalid request body", err)
	}

	if err := h.engine.Registry.Deactivate(c.Request().Context(), c.Param("id"), body.Reason); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return h.Error(c, http.StatusNotFound, "identity not found", nil)
		}
		return h.Error(c, http.StatusInternalServerError, "internal server error", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) HandleListIdentities(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.Param("userId")

	var (
		list []*identity.Identity
		err  error
	)
	switch {
	case c.QueryParam("type") != "":
		list, err = h.engine.Registry.FindByType(ctx, userID, identity.Type(c.QueryParam("type")))
	case c.QueryParam("provider") != "":
		list, err = h.engine.Registry.FindByProvider(ctx, userID, c.QueryParam("provider"))
	default:
		list, err = h.engine.Registry.FindByUser(ctx, userID)
	}
	if err != nil {
		return h.Error(c, http.StatusInternalServerError, "internal server error", err)
	}

	if list == nil {
		list = []*identity.Identity{}
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) HandleAuthenticate(c echo.Context) error {
	var credentials map[string]any
	if err := c.Bind(&credentials); err != nil {
		return h.Error(c, http.StatusBadRequest, "invalid request body", err)
	}

	result, err := h.engine.Authenticate(c.Request().Context(), c.Param("provider"), credentials)
	if err != nil {
		if errors.Is(err, plugin.ErrNotFound) {
			return h.Error(c, http.StatusNotFound, "unknown provider", nil)
		}
		return h.Error(c, http.StatusInternalServerError, "internal server error", err)
	}
	if !result.Success {
		return c.JSON(http.StatusUnauthorized, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) HandleVerifyToken(c echo.Context) error {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "invalid request body", err)
	}

	result, err := h.engine.Verify(c.Request().Context(), c.Param("provider"), body.Token)
	if err != nil {
		if errors.Is(err, plugin.ErrNotFound) {
			return h.Error(c, http.StatusNotFound, "unknown provider", nil)
		}
		return h.Error(c, http.StatusInternalServerError, "internal server error", err)
	}
	if !result.Valid {
		return c.JSON(http.StatusUnauthorized, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) HandleListProviders(c echo.Context) error {
	names := []string{}
	for _, p := range h.engine.Plugins.AuthPlugins() {
		names = append(names, p.Name())
	}
	return c.JSON(http.StatusOK, map[string]any{"providers": names})
}

// Error writes a uniform error body. The underlying error is logged but
// never echoed to the caller.
func (h *Handler) Error(c echo.Context, code int, message string, err error) error {
	if err != nil {
		h.engine.Log.Warn("request rejected",
			zap.Int("code", code),
			zap.String("status", message),
			zap.Error(err))
	}
	return c.JSON(code, map[string]any{
		"status": message,
		"code":   code,
	})
}
