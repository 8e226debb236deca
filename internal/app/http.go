package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"orderdesk/api/internal/auth"
	"orderdesk/api/internal/guard"
	"orderdesk/api/internal/metrics"
	"orderdesk/api/internal/org"
	"orderdesk/api/internal/search"
	"orderdesk/api/internal/util"
)

const maxBodyBytes = 1 << 20

type ServerOptions struct {
	CORSOrigin string
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	// RetryAfter is advertised while a status check is still running.
	RetryAfter time.Duration
}

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
	metrics    *metrics.Metrics
	retryAfter time.Duration
}

func NewHTTPServer(service *Service, opts ServerOptions) *HTTPServer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Second
	}
	return &HTTPServer{
		service:    service,
		corsOrigin: opts.CORSOrigin,
		logger:     opts.Logger.Named("http"),
		metrics:    opts.Metrics,
		retryAfter: opts.RetryAfter,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeData(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		ok, checks := s.service.Ready(ctx)
		status, statusCode := "ready", http.StatusOK
		if !ok {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, envelope{Success: ok, Status: status, Data: map[string]any{"checks": checks}})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/auth/") {
		s.handleAuth(w, r, strings.TrimPrefix(r.URL.Path, "/api/auth/"))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeData(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		identity, err := s.service.Authenticate(r.Context(), token)
		if auth.IsUnauthenticated(err) {
			writeData(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"authenticated": true, "identity": identity})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/guard" {
		s.handleGuard(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// Everything below requires an identity.
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/organization/status" {
		status, err := s.service.OrganizationStatus(r.Context(), identity)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, envelope{Success: true, Status: string(status.Kind), Data: status})
		return
	}

	if parts[1] == "flow" {
		s.handleFlow(w, r, identity, parts)
		return
	}

	if parts[1] == "organizations" {
		s.handleOrganizations(w, r, identity, parts)
		return
	}

	if parts[1] == "invitations" {
		s.handleInvitations(w, r, identity, parts)
		return
	}

	if !isTenantPath(parts) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// Tenant content: the route guard decides.
	member, ok := s.requireMember(w, r, identity)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/me" {
		writeData(w, http.StatusOK, s.service.Me(member))
		return
	}

	if parts[1] == "organization" || parts[1] == "join-requests" {
		s.handleMembership(w, r, member, parts)
		return
	}

	s.handleCatalog(w, r, member, parts)
}

func isTenantPath(parts []string) bool {
	switch parts[1] {
	case "me", "organization", "join-requests", "clients", "products", "couriers", "orders":
		return true
	}
	return false
}

func (s *HTTPServer) handleAuth(w http.ResponseWriter, r *http.Request, action string) {
	ctx := r.Context()
	switch action {
	case "signup":
		var body struct {
			Email       string `json:"email"`
			Password    string `json:"password"`
			DisplayName string `json:"displayName"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		result, err := s.service.sessions.SignUp(ctx, body.Email, body.Password, body.DisplayName)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, result)

	case "signin":
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		result, err := s.service.sessions.SignIn(ctx, body.Email, body.Password)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, result)

	case "signout":
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		remaining, err := s.service.sessions.SignOut(ctx, token)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"remainingSessions": remaining})

	case "refresh":
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		result, err := s.service.sessions.Refresh(ctx, token)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, result)

	case "verify-email":
		var body struct {
			Token string `json:"token"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		uid, err := s.service.sessions.VerifyEmail(ctx, body.Token)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"uid": uid, "verified": true})

	case "reset-password/request":
		var body struct {
			Email string `json:"email"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		token, err := s.service.sessions.RequestPasswordReset(ctx, body.Email)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		data := map[string]any{"message": "If an account exists, a reset email has been sent"}
		// Only returned when no mail could be sent.
		if token != "" {
			data["resetToken"] = token
		}
		writeData(w, http.StatusOK, data)

	case "reset-password":
		var body struct {
			Token       string `json:"token"`
			NewPassword string `json:"newPassword"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		if err := s.service.sessions.ResetPassword(ctx, body.Token, body.NewPassword); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"message": "Password reset successfully"})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// GuardView is the decision for one client route.
type GuardView struct {
	Outcome    guard.Outcome `json:"outcome"`
	Route      string        `json:"route"`
	Step       string        `json:"step,omitempty"`
	RedirectTo string        `json:"redirectTo,omitempty"`
	Code       string        `json:"code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Status     *org.Status   `json:"status,omitempty"`
}

func (s *HTTPServer) handleGuard(w http.ResponseWriter, r *http.Request) {
	route := strings.TrimSpace(r.URL.Query().Get("route"))
	if route == "" || !strings.HasPrefix(route, "/") {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "route must be an absolute client path", nil)
		return
	}

	var identity *auth.Identity
	if token := bearerToken(r); token != "" {
		id, err := s.service.Authenticate(r.Context(), token)
		switch {
		case err == nil:
			identity = &id
		case !auth.IsUnauthenticated(err):
			s.writeServiceError(w, r, err)
			return
		}
	}

	d, c, err := s.service.Check(r.Context(), identity, route)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	view := GuardView{Outcome: d.Outcome, Route: route}
	if c != nil {
		snap := c.Snapshot()
		view.Status = snap.Status
		view.Step = string(snap.Step)
		if d.Outcome == guard.OutcomeFlowScreen {
			view.RedirectTo, _ = c.TakeNavigation()
		}
	}
	if d.Outcome == guard.OutcomeError {
		view.Code, view.Error = guardErrorCode(d)
	}
	writeData(w, http.StatusOK, view)
}

func guardErrorCode(d guard.Decision) (code, message string) {
	if d.UserNotFound {
		return "USER_NOT_FOUND", "User record not found"
	}
	message = "Could not determine organization status"
	if d.Err != nil {
		message = d.Err.Error()
	}
	return "RESOLUTION_FAILED", message
}

func (s *HTTPServer) handleFlow(w http.ResponseWriter, r *http.Request, identity auth.Identity, parts []string) {
	var (
		view FlowView
		err  error
	)
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		view, err = s.service.Flow(identity)
	case len(parts) == 3 && r.Method == http.MethodPost && parts[2] == "refresh":
		view, err = s.service.RefreshFlow(r.Context(), identity, r.URL.Query().Get("force") == "true")
	case len(parts) == 3 && r.Method == http.MethodPost && parts[2] == "complete":
		view, err = s.service.CompleteFlow(identity)
	case len(parts) == 3 && r.Method == http.MethodPost && parts[2] == "reset-redirection":
		view, err = s.service.ResetRedirection(identity)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

func (s *HTTPServer) handleOrganizations(w http.ResponseWriter, r *http.Request, identity auth.Identity, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodPost {
		var body CreateOrganizationInput
		if !decodeOrReject(w, r, &body) {
			return
		}
		result, err := s.service.CreateOrganization(r.Context(), identity, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, result)
		return
	}

	if len(parts) == 3 && r.Method == http.MethodGet && parts[2] == "search" {
		query := r.URL.Query()
		resp := s.service.SearchOrganizations(r.Context(), search.Query{
			Text:   query.Get("q"),
			Limit:  queryInt(query.Get("limit")),
			Offset: queryInt(query.Get("offset")),
		})
		writeData(w, http.StatusOK, resp)
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPost && parts[3] == "join-requests" {
		organizationID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		var body struct {
			Message string `json:"message"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		result, err := s.service.CreateJoinRequest(r.Context(), identity, organizationID, body.Message)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, result)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleInvitations(w http.ResponseWriter, r *http.Request, identity auth.Identity, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodGet {
		invitations, err := s.service.ListInvitations(r.Context(), identity)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, invitations)
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPost && (parts[3] == "accept" || parts[3] == "reject") {
		id, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		result, err := s.service.DecideInvitation(r.Context(), identity, id, parts[3] == "accept")
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, result)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleMembership(w http.ResponseWriter, r *http.Request, m Member, parts []string) {
	ctx := r.Context()

	if len(parts) == 3 && parts[1] == "organization" && parts[2] == "invitations" && r.Method == http.MethodPost {
		var body InviteInput
		if !decodeOrReject(w, r, &body) {
			return
		}
		result, err := s.service.Invite(ctx, m, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, result)
		return
	}

	if len(parts) == 3 && parts[1] == "organization" && parts[2] == "join-requests" && r.Method == http.MethodGet {
		requests, err := s.service.ListJoinRequests(ctx, m)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, requests)
		return
	}

	if len(parts) == 3 && parts[1] == "organization" && parts[2] == "members" && r.Method == http.MethodGet {
		members, err := s.service.ListMembers(ctx, m)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, members)
		return
	}

	if len(parts) == 4 && parts[1] == "join-requests" && r.Method == http.MethodPost && (parts[3] == "approve" || parts[3] == "reject") {
		id, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		req, err := s.service.DecideJoinRequest(ctx, m, id, parts[3] == "approve")
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, req)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCatalog(w http.ResponseWriter, r *http.Request, m Member, parts []string) {
	ctx := r.Context()
	resource := parts[1]

	if len(parts) == 2 && r.Method == http.MethodGet {
		q := r.URL.Query()
		var (
			payload any
			err     error
		)
		switch resource {
		case "clients":
			payload, err = s.service.ListClients(ctx, m, q.Get("q"))
		case "products":
			payload, err = s.service.ListProducts(ctx, m, q.Get("q"))
		case "couriers":
			payload, err = s.service.ListCouriers(ctx, m, q.Get("active") == "true")
		case "orders":
			payload, err = s.service.ListOrders(ctx, m, q.Get("status"))
		}
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		var (
			payload any
			err     error
		)
		switch resource {
		case "clients":
			var body ClientInput
			if !decodeOrReject(w, r, &body) {
				return
			}
			payload, err = s.service.CreateClient(ctx, m, body)
		case "products":
			var body ProductInput
			if !decodeOrReject(w, r, &body) {
				return
			}
			payload, err = s.service.CreateProduct(ctx, m, body)
		case "couriers":
			var body CourierInput
			if !decodeOrReject(w, r, &body) {
				return
			}
			payload, err = s.service.CreateCourier(ctx, m, body)
		case "orders":
			var body OrderInput
			if !decodeOrReject(w, r, &body) {
				return
			}
			payload, err = s.service.CreateOrder(ctx, m, body)
		}
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, payload)
		return
	}

	if len(parts) == 3 && r.Method == http.MethodGet {
		id, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		var (
			payload any
			err     error
		)
		switch resource {
		case "clients":
			payload, err = s.service.GetClient(ctx, m, id)
		case "products":
			payload, err = s.service.GetProduct(ctx, m, id)
		case "couriers":
			payload, err = s.service.GetCourier(ctx, m, id)
		case "orders":
			payload, err = s.service.GetOrder(ctx, m, id)
		}
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && resource == "orders" && parts[3] == "status" && r.Method == http.MethodPatch {
		id, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		var body struct {
			Status string `json:"status"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		order, err := s.service.UpdateOrderStatus(ctx, m, id, body.Status)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, order)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Identity{}, false
	}
	identity, err := s.service.Authenticate(r.Context(), token)
	if err != nil {
		if auth.IsUnauthenticated(err) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return auth.Identity{}, false
		}
		s.logger.Error("session lookup failed", zap.String("request_id", requestID(r)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return auth.Identity{}, false
	}
	return identity, true
}

// requireMember runs the route guard for the request path and writes the
// non-content outcomes.
func (s *HTTPServer) requireMember(w http.ResponseWriter, r *http.Request, identity auth.Identity) (Member, bool) {
	d, c, err := s.service.Check(r.Context(), &identity, r.URL.Path)
	if err != nil {
		s.writeServiceError(w, r, err)
		return Member{}, false
	}

	switch d.Outcome {
	case guard.OutcomeLoading:
		secs := int((s.retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusAccepted, envelope{
			Success: false,
			Code:    "STATUS_CHECKING",
			Error:   "Organization status is being checked",
		})
		return Member{}, false

	case guard.OutcomeNothing, guard.OutcomePassthrough:
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Member{}, false

	case guard.OutcomeError:
		code, message := guardErrorCode(d)
		status := http.StatusServiceUnavailable
		if d.UserNotFound {
			status = http.StatusInternalServerError
		}
		writeError(w, status, code, message, nil)
		return Member{}, false

	case guard.OutcomeFlowScreen:
		snap := c.Snapshot()
		redirectTo, _ := c.TakeNavigation()
		env := envelope{
			Success: false,
			Code:    "ONBOARDING_REQUIRED",
			Error:   "Complete organization onboarding first",
			Data:    snap.Status,
			Details: map[string]any{"step": d.Step, "redirectTo": redirectTo},
		}
		if snap.Status != nil {
			env.Status = string(snap.Status.Kind)
		}
		writeJSON(w, http.StatusForbidden, env)
		return Member{}, false
	}

	m, ok := memberOf(identity, c.Snapshot())
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "RESOLUTION_FAILED", "Organization status unavailable", nil)
		return Member{}, false
	}
	return m, true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r)),
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = util.NewID("req_")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		next.ServeHTTP(writer, r)

		s.metrics.HTTPRequest(r.Method, strconv.Itoa(writer.status))
		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Duration("duration", time.Since(started)),
		)
	})
}

type requestIDKey struct{}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

// envelope wraps every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, envelope{Success: false, Code: code, Error: message, Details: details})
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func decodeOrReject(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return 0, false
	}
	return id, true
}

func queryInt(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
