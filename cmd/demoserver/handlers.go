package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"kodex/internal/authsvc"
	"kodex/internal/kodex"
	"kodex/internal/repository"
	"kodex/internal/tokens"
	"kodex/internal/users"
)

type authHandler struct{}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func userResponse(u *repository.User) map[string]any {
	resp := map[string]any{"id": u.ID, "status": u.Status, "roles": u.Roles}
	if u.Email != nil {
		resp["email"] = *u.Email
	}
	if u.Phone != nil {
		resp["phone"] = *u.Phone
	}
	return resp
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *authHandler) register(w http.ResponseWriter, r *http.Request) {
	svc := servicesFromContext(r.Context())
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}

	email := req.Email
	user, err := svc.Users.CreateUser(r.Context(), users.CreateUserInput{Email: &email, Password: req.Password})
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) || errors.Is(err, repository.ErrPhoneExists) {
			http.Error(w, "account already exists", http.StatusConflict)
			return
		}
		http.Error(w, "registration failed", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse(user))
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type sessionResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	PreAuthToken string `json:"pre_auth_token,omitempty"`
	MfaRequired  bool   `json:"mfa_required,omitempty"`
}

func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	svc := servicesFromContext(r.Context())
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := svc.Auth.Login(r.Context(), req.Identifier, req.Password, r.RemoteAddr, r.UserAgent())
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		PreAuthToken: result.PreAuthToken,
		MfaRequired:  result.MfaRequired,
	})
}

func writeAuthError(w http.ResponseWriter, err error) {
	var locked *authsvc.AccountLocked
	switch {
	case errors.As(err, &locked):
		http.Error(w, "account is locked", http.StatusForbidden)
	case errors.Is(err, authsvc.ErrInvalidCredentials):
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	default:
		http.Error(w, "login failed", http.StatusInternalServerError)
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *authHandler) refresh(w http.ResponseWriter, r *http.Request) {
	svc := servicesFromContext(r.Context())
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := svc.Auth.Refresh(r.Context(), req.RefreshToken, r.RemoteAddr, r.UserAgent())
	if err != nil {
		http.Error(w, "invalid or expired refresh token", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{AccessToken: result.AccessToken, RefreshToken: result.RefreshToken})
}

func (h *authHandler) logout(w http.ResponseWriter, r *http.Request) {
	svc := servicesFromContext(r.Context())
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := svc.Auth.Logout(r.Context(), req.RefreshToken); err != nil {
		http.Error(w, "logout failed", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *authHandler) logoutAll(w http.ResponseWriter, r *http.Request) {
	svc := servicesFromContext(r.Context())
	claims := claimsFromContext(r.Context())
	if err := svc.Auth.RevokeAllSessions(r.Context(), claims.UserID); err != nil {
		http.Error(w, "logout failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *authHandler) me(w http.ResponseWriter, r *http.Request) {
	svc := servicesFromContext(r.Context())
	claims := claimsFromContext(r.Context())
	methods, err := svc.MFA.ListMethods(r.Context(), claims.UserID)
	if err != nil {
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     claims.UserID,
		"realm":       claims.Realm,
		"roles":       claims.Roles,
		"mfa_methods": len(methods),
	})
}

type mfaChallengeRequest struct {
	PreAuthToken string `json:"pre_auth_token"`
	MethodID     string `json:"method_id"`
	Channel      string `json:"channel"`
}

// createMFAChallenge dispatches a one-time code for the method named in
// the request, gated by the pre-auth token Login issued instead of a
// finished session.
func (h *authHandler) createMFAChallenge(w http.ResponseWriter, r *http.Request) {
	svc := servicesFromContext(r.Context())
	var req mfaChallengeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims, err := requirePreAuth(svc, req.PreAuthToken)
	if err != nil {
		http.Error(w, "invalid or expired pre-auth token", http.StatusUnauthorized)
		return
	}
	methodID, err := uuid.Parse(req.MethodID)
	if err != nil {
		http.Error(w, "invalid method_id", http.StatusBadRequest)
		return
	}

	var challengeID uuid.UUID
	switch req.Channel {
	case "sms":
		challengeID, err = svc.MFA.ChallengeSMS(r.Context(), claims.UserID, methodID, r.RemoteAddr)
	default:
		challengeID, err = svc.MFA.ChallengeEmail(r.Context(), claims.UserID, methodID, r.RemoteAddr)
	}
	if err != nil {
		http.Error(w, "unable to dispatch challenge: "+err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"challenge_id": challengeID})
}

type mfaVerifyRequest struct {
	PreAuthToken string `json:"pre_auth_token"`
	ChallengeID  string `json:"challenge_id"`
	Code         string `json:"code"`
}

// verifyMFAChallenge checks the submitted code and, on success, completes
// the session Login paused on.
func (h *authHandler) verifyMFAChallenge(w http.ResponseWriter, r *http.Request) {
	svc := servicesFromContext(r.Context())
	var req mfaVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims, err := requirePreAuth(svc, req.PreAuthToken)
	if err != nil {
		http.Error(w, "invalid or expired pre-auth token", http.StatusUnauthorized)
		return
	}
	challengeID, err := uuid.Parse(req.ChallengeID)
	if err != nil {
		http.Error(w, "invalid challenge_id", http.StatusBadRequest)
		return
	}

	if err := svc.MFA.VerifyChallenge(r.Context(), claims.UserID, challengeID, req.Code, r.RemoteAddr, r.UserAgent()); err != nil {
		http.Error(w, "code verification failed", http.StatusUnauthorized)
		return
	}

	result, err := svc.Auth.CompleteMFALogin(r.Context(), claims.UserID, r.RemoteAddr, r.UserAgent())
	if err != nil {
		http.Error(w, "failed to complete login", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{AccessToken: result.AccessToken, RefreshToken: result.RefreshToken})
}

func requirePreAuth(svc *kodex.Services, token string) (*tokens.Claims, error) {
	claims, err := svc.Tokens.Verify(token, svc.Realm)
	if err != nil {
		return nil, err
	}
	if claims.Scope != "pre_auth" {
		return nil, errors.New("token is not a pre-auth token")
	}
	return claims, nil
}
