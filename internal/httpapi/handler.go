// Package httpapi exposes the authentication engine over JSON HTTP for the
// example server.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/middleware"
	"go.uber.org/zap"
)

// Service is the slice of *authcore.Engine the handlers call.
type Service interface {
	middleware.Authorizer
	Login(ctx context.Context, identifier, password string) (*authcore.LoginResult, error)
	VerifyMFAWithMethod(ctx context.Context, challengeToken, code string, method authcore.MFAMethod) (*authcore.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*authcore.LoginResult, error)
	Logout(ctx context.Context, accessToken string) error
	LogoutAll(ctx context.Context, accountID string) (int, error)
	ForgotPassword(ctx context.Context, email string) error
	MFASetup(ctx context.Context, accountID string) (mfa.Setup, error)
	EnableMFA(ctx context.Context, accountID, code string) error
	DisableMFA(ctx context.Context, accountID string) error
	GenerateRecoveryCodes(ctx context.Context, accountID string) ([]string, error)
	LockAccount(ctx context.Context, accountID string, status authcore.AccountStatus) (int, error)
	ActivateAccount(ctx context.Context, accountID string) error
}

// AdminAuthority is the label required on /admin routes.
const AdminAuthority = "ROLE_ADMIN"

const maxBodyBytes = 1 << 16

type Handler struct {
	svc    Service
	logger *zap.SugaredLogger
}

func NewHandler(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger.Named("http").Sugar()}
}

// Routes returns the mux with every endpoint mounted behind the gate.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("POST /auth/mfa/verify", h.VerifyMFA)
	mux.HandleFunc("POST /auth/refresh", h.Refresh)
	mux.HandleFunc("POST /auth/forgot-password", h.ForgotPassword)

	authed := func(fn http.HandlerFunc) http.Handler {
		return middleware.RequireAuthenticated(fn)
	}
	mux.Handle("POST /auth/logout", authed(h.Logout))
	mux.Handle("POST /auth/logout-all", authed(h.LogoutAll))
	mux.Handle("GET /me", authed(h.Me))
	mux.Handle("POST /me/mfa/setup", authed(h.MFASetup))
	mux.Handle("POST /me/mfa/enable", authed(h.EnableMFA))
	mux.Handle("POST /me/mfa/disable", authed(h.DisableMFA))
	mux.Handle("POST /me/mfa/recovery-codes", authed(h.RecoveryCodes))

	admin := middleware.RequireAuthority(AdminAuthority)
	mux.Handle("POST /admin/accounts/{id}/lock", admin(http.HandlerFunc(h.LockAccount)))
	mux.Handle("POST /admin/accounts/{id}/activate", admin(http.HandlerFunc(h.ActivateAccount)))

	return middleware.Gate(h.svc)(withClient(mux))
}

// withClient copies the caller address and User-Agent into the request
// context for session metadata and login history.
func withClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authcore.WithClientIP(r.Context(), clientIP(r))
		ctx = authcore.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.fail(w, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type verifyMFARequest struct {
	ChallengeToken string `json:"challengeToken"`
	Code           string `json:"code"`
	Method         string `json:"method"`
}

func (h *Handler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req verifyMFARequest
	if !h.decode(w, r, &req) {
		return
	}
	method := authcore.MFAMethod(req.Method)
	if method == "" {
		method = authcore.MFAMethodAuto
	}
	res, err := h.svc.VerifyMFAWithMethod(r.Context(), req.ChallengeToken, req.Code, method)
	if err != nil {
		h.fail(w, "verify_mfa", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword answers 202 whether or not the email is known.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		h.fail(w, "forgot_password", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.BearerToken(r)
	if err := h.svc.Logout(r.Context(), token); err != nil {
		h.fail(w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	n, err := h.svc.LogoutAll(r.Context(), p.AccountID)
	if err != nil {
		h.fail(w, "logout_all", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

type principalView struct {
	AccountID   string   `json:"accountId"`
	SessionID   string   `json:"sessionId"`
	Authorities []string `json:"authorities"`
	MFAVerified bool     `json:"mfaVerified"`
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, principalView{
		AccountID:   p.AccountID,
		SessionID:   p.SessionID,
		Authorities: p.Authorities,
		MFAVerified: p.MFAVerified,
	})
}

func (h *Handler) MFASetup(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	setup, err := h.svc.MFASetup(r.Context(), p.AccountID)
	if err != nil {
		h.fail(w, "mfa_setup", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": setup.Secret, "uri": setup.URI})
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) EnableMFA(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := h.svc.EnableMFA(r.Context(), p.AccountID, req.Code); err != nil {
		h.fail(w, "mfa_enable", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DisableMFA(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := h.svc.DisableMFA(r.Context(), p.AccountID); err != nil {
		h.fail(w, "mfa_disable", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RecoveryCodes(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	codes, err := h.svc.GenerateRecoveryCodes(r.Context(), p.AccountID)
	if err != nil {
		h.fail(w, "recovery_codes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"codes": codes})
}

type lockRequest struct {
	Status string `json:"status"`
}

func (h *Handler) LockAccount(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if !h.decode(w, r, &req) {
		return
	}
	status, err := authcore.ParseAccountStatus(req.Status)
	if err != nil || status == authcore.StatusActive {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "Unknown or non-locking status."})
		return
	}
	n, err := h.svc.LockAccount(r.Context(), r.PathValue("id"), status)
	if err != nil {
		h.fail(w, "lock_account", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (h *Handler) ActivateAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ActivateAccount(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, "activate_account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "Malformed JSON body."})
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, authcore.ErrAccountNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "Account not found."})
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warnw("request failed", "op", op, "reference", authcore.ErrorReference(err))
	}
	middleware.WriteError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, authcore.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	case authcore.ErrorCode(err) == authcore.CodeTechnical:
		return http.StatusInternalServerError
	case errors.Is(err, authcore.ErrAccountNotActive):
		return http.StatusForbidden
	case errors.Is(err, authcore.ErrMFANotSetUp), errors.Is(err, authcore.ErrMFANotEnabled):
		return http.StatusConflict
	default:
		return http.StatusUnauthorized
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
