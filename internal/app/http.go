package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"planwise/api/internal/auth"
	"planwise/api/internal/authpw"
	"planwise/api/internal/export"
	"planwise/api/internal/rbac"
	"planwise/api/internal/search"
	"planwise/api/internal/status"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		readiness := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			readiness = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     readiness == "ready",
			"status": readiness,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		s.handleAuthVerifyEmail(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password/request" {
		s.handleAuthRequestReset(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		s.handleAuthResetPassword(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":        session.Token,
			"refreshToken": session.RefreshToken,
			"userName":     session.UserName,
			"userId":       session.UserID,
			"role":         session.Role,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":        session.Token,
			"refreshToken": session.RefreshToken,
			"userName":     session.UserName,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		filterType := strings.TrimSpace(r.URL.Query().Get("type"))
		projectID := strings.TrimSpace(r.URL.Query().Get("projectId"))
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		offset := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
				return
			}
			offset = parsed
		}

		payload := s.service.Search(search.Query{
			Text:            q,
			FilterType:      search.ResultType(filterType),
			FilterProjectID: projectID,
			Limit:           limit,
			Offset:          offset,
		})
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/projects" {
		items, err := s.service.ListProjects(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list projects", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/projects" {
		var body struct {
			Name string `json:"name"`
			Slug string `json:"slug"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateProject(r.Context(), body.Name, body.Slug)
		if err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/status-details" {
		kind, ok := parseEntityKind(strings.TrimSpace(r.URL.Query().Get("kind")))
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "kind must be feature, planning or commitment", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"statuses": s.service.StatusCatalog(kind)})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/data-version" {
		value, err := s.service.DataVersion(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not read data version", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"version": value})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/summary" {
		payload, err := s.service.Summary(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load summary", nil)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "projects" {
		s.handleProjects(w, r, session, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "features" {
		s.handleFeatures(w, r, session, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "plannings" {
		s.handlePlannings(w, r, session, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "components" {
		s.handleComponents(w, r, session, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "estimations" {
		s.handleEstimations(w, r, session, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "commitments" {
		s.handleCommitments(w, r, session, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, session Session, projectID string, rest []string) {
	if len(rest) == 1 && rest[0] == "features" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListFeatures(r.Context(), projectID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list features", nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"features": items})
		case http.MethodPost:
			var body CreateFeatureInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			body.ProjectID = projectID
			payload, err := s.service.CreateFeature(r.Context(), session, body)
			if err != nil {
				httpStatus, code, message, details := mapError(err)
				writeError(w, httpStatus, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 && rest[0] == "plannings" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListPlannings(r.Context(), projectID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list plannings", nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"plannings": items})
		case http.MethodPost:
			var body CreatePlanningInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			body.ProjectID = projectID
			payload, err := s.service.CreatePlanning(r.Context(), session, body)
			if err != nil {
				httpStatus, code, message, details := mapError(err)
				writeError(w, httpStatus, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 && rest[0] == "occupancy" && r.Method == http.MethodGet {
		asOf := time.Now()
		if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
			day, err := time.Parse("2006-01-02", raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "date must be YYYY-MM-DD", nil)
				return
			}
			// End of the requested day.
			asOf = day.Add(24*time.Hour - time.Nanosecond)
		}
		items, err := s.service.Occupancy(r.Context(), projectID, asOf)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load occupancy", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"occupancy": items})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleFeatures(w http.ResponseWriter, r *http.Request, session Session, featureID string, rest []string) {
	if len(rest) == 0 && r.Method == http.MethodGet {
		payload, err := s.service.GetFeatureDetail(r.Context(), featureID)
		if err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(rest) == 1 && rest[0] == "dependencies" && r.Method == http.MethodPost {
		var body CreateDependencyInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.AddFeatureDependency(r.Context(), featureID, body)
		if err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(rest) == 1 && rest[0] == "components" && r.Method == http.MethodPost {
		var body CreateComponentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateComponent(r.Context(), featureID, body)
		if err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(rest) == 1 && rest[0] == "estimate" && r.Method == http.MethodGet {
		includeArchived := r.URL.Query().Get("includeArchived") == "true"
		total, err := s.service.FeatureEstimate(r.Context(), featureID, includeArchived)
		if err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, total)
		return
	}

	if len(rest) == 1 && rest[0] == "transition" && r.Method == http.MethodPost {
		s.handleTransition(w, r, status.KindFeature, featureID)
		return
	}

	if len(rest) == 1 && rest[0] == "status-history" && r.Method == http.MethodGet {
		s.handleStatusHistory(w, r, status.KindFeature, featureID)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePlannings(w http.ResponseWriter, r *http.Request, session Session, planningID string, rest []string) {
	if len(rest) == 0 && r.Method == http.MethodGet {
		payload, err := s.service.GetPlanningDetail(r.Context(), planningID)
		if err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(rest) == 1 && rest[0] == "stakeholders" && r.Method == http.MethodPost {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.AddStakeholder(r.Context(), session, planningID, body.Name)
		if err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(rest) == 2 && rest[0] == "stakeholders" && r.Method == http.MethodDelete {
		if err := s.service.RemoveStakeholder(r.Context(), session, planningID, rest[1]); err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(rest) == 2 && rest[0] == "features" {
		switch r.Method {
		case http.MethodPut:
			if err := s.service.AttachFeature(r.Context(), session, planningID, rest[1]); err != nil {
				httpStatus, code, message, details := mapError(err)
				writeError(w, httpStatus, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		case http.MethodDelete:
			if err := s.service.DetachFeature(r.Context(), session, planningID, rest[1]); err != nil {
				httpStatus, code, message, details := mapError(err)
				writeError(w, httpStatus, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 && rest[0] == "votes" {
		switch r.Method {
		case http.MethodGet:
			featureID := strings.TrimSpace(r.URL.Query().Get("featureId"))
			items, err := s.service.ListVotes(r.Context(), planningID, featureID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list votes", nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"votes": items})
		case http.MethodPost:
			var body SubmitVoteInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.SubmitVote(r.Context(), session, planningID, body)
			if err != nil {
				httpStatus, code, message, details := mapError(err)
				writeError(w, httpStatus, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 && rest[0] == "coverage" && r.Method == http.MethodGet {
		coverage, err := s.service.Coverage(r.Context(), planningID)
		if err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, coverage)
		return
	}

	if len(rest) == 1 && rest[0] == "recompute-votes" && r.Method == http.MethodPost {
		if err := s.service.RecomputePlanningVotes(r.Context(), session, planningID); err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(rest) == 1 && rest[0] == "commitments" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListCommitments(r.Context(), planningID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list commitments", nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"commitments": items})
		case http.MethodPost:
			var body CreateCommitmentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateCommitment(r.Context(), session, planningID, body)
			if err != nil {
				httpStatus, code, message, details := mapError(err)
				writeError(w, httpStatus, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 && rest[0] == "transition" && r.Method == http.MethodPost {
		s.handleTransition(w, r, status.KindPlanning, planningID)
		return
	}

	if len(rest) == 1 && rest[0] == "status-history" && r.Method == http.MethodGet {
		s.handleStatusHistory(w, r, status.KindPlanning, planningID)
		return
	}

	if len(rest) == 1 && rest[0] == "report" && r.Method == http.MethodGet {
		report, err := s.service.PrioritizationReport(r.Context(), planningID)
		if err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	if len(rest) == 1 && rest[0] == "export" && r.Method == http.MethodGet {
		format := export.Format(strings.TrimSpace(r.URL.Query().Get("format")))
		if format == "" {
			format = export.FormatCSV
		}
		result, err := s.service.Export(r.Context(), planningID, format)
		if err != nil {
			if errors.Is(err, export.ErrPDFDependencyMissing) {
				writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF rendering is not available", nil)
				return
			}
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleComponents(w http.ResponseWriter, r *http.Request, session Session, componentID string, rest []string) {
	if len(rest) == 1 && rest[0] == "estimations" && r.Method == http.MethodPost {
		var body CreateEstimationInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateEstimation(r.Context(), session, componentID, body)
		if err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(rest) == 1 && rest[0] == "archive" && r.Method == http.MethodPost {
		var body struct {
			Archived bool `json:"archived"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SetComponentArchived(r.Context(), componentID, body.Archived); err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleEstimations(w http.ResponseWriter, r *http.Request, session Session, estimationID string, rest []string) {
	if len(rest) == 0 && r.Method == http.MethodPut {
		var body UpdateEstimationInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateEstimation(r.Context(), session, estimationID, body)
		if err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(rest) == 1 && rest[0] == "history" && r.Method == http.MethodGet {
		items, err := s.service.ListEstimationHistory(r.Context(), estimationID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list estimation history", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": items})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCommitments(w http.ResponseWriter, r *http.Request, session Session, commitmentID string, rest []string) {
	if len(rest) == 0 && r.Method == http.MethodDelete {
		if err := s.service.DeleteCommitment(r.Context(), session, commitmentID); err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(rest) == 1 && rest[0] == "transition" && r.Method == http.MethodPost {
		s.handleTransition(w, r, status.KindCommitment, commitmentID)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request, kind status.Kind, entityID string) {
	var body TransitionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.Transition(r.Context(), kind, entityID, body.Status)
	if err != nil {
		httpStatus, code, message, details := mapError(err)
		writeError(w, httpStatus, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleStatusHistory(w http.ResponseWriter, r *http.Request, kind status.Kind, entityID string) {
	items, err := s.service.StatusHistory(r.Context(), kind, entityID)
	if err != nil {
		httpStatus, code, message, details := mapError(err)
		writeError(w, httpStatus, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": items})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		if err.Error() == "email already registered" {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}

	// No outbound mail; the verification token is returned directly.
	writeJSON(w, http.StatusCreated, map[string]any{
		"userId":            resp.UserID,
		"verificationToken": resp.VerificationToken,
		"message":           "Account created. Verify your email to continue.",
	})
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}

	if resp.RequiresVerify {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), resp.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully",
	})
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	token, _ := authSvc.RequestPasswordReset(r.Context(), body.Email)

	response := map[string]any{
		"message": "If an account exists, a reset token has been issued",
	}
	if token != "" {
		response["resetToken"] = token
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	}); err != nil {
		writeError(w, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully",
	})
}
