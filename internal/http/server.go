package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nst/gatekeeper/internal/auth"
	"nst/gatekeeper/internal/config"
	"nst/gatekeeper/internal/model"
	"nst/gatekeeper/internal/operations"
)

type Server struct {
	cfg          config.Config
	verification *operations.Verification
	batch        *operations.Batch
	guard        *operations.RoleLock
}

func NewServer(cfg config.Config, verification *operations.Verification, batch *operations.Batch, guard *operations.RoleLock) *Server {
	return &Server{
		cfg:          cfg,
		verification: verification,
		batch:        batch,
		guard:        guard,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.With(s.authMiddleware).Post("/verification/submit", s.handleSubmit)
	r.With(s.authMiddleware, s.moderatorOnly).Post("/verification/decide", s.handleDecide)
	r.With(s.authMiddleware, s.moderatorOnly).Get("/verification/pending", s.handlePendingQueue)
	r.With(s.authMiddleware).Post("/batch", s.handleBatchBegin)
	r.With(s.authMiddleware).Post("/batch/reply", s.handleBatchReply)
	r.With(s.authMiddleware).Post("/events/role-change", s.handleRoleChange)

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) moderatorOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil || claims.UserType != auth.UserTypeModerator {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// Models

type attachmentPayload struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type submitRequest struct {
	UserID      string              `json:"user_id"`
	Username    string              `json:"username"`
	Attachments []attachmentPayload `json:"attachments"`
}

type decideRequest struct {
	UserID  string `json:"user_id"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason"`
}

type batchRequest struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
}

type batchReplyRequest struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

type roleChangeEvent struct {
	UserID      string   `json:"user_id"`
	RolesBefore []string `json:"roles_before"`
	RolesAfter  []string `json:"roles_after"`
}

type pendingRecordResponse struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	FileName       string `json:"file_name"`
	FileURL        string `json:"file_url"`
	SubmittedAt    int64  `json:"submitted_at"`
	QueueMessageID string `json:"queue_message_id,omitempty"`
}

// Handlers

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	attachments := make([]operations.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, operations.Attachment{URL: a.URL, Filename: a.Filename})
	}
	result, err := s.verification.Submit(r.Context(), operations.SubmitRequest{
		UserID:      req.UserID,
		Username:    req.Username,
		Attachments: attachments,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"record_id": result.RecordID.String(),
		"message":   result.Message,
	})
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req decideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	result, err := s.verification.Decide(r.Context(), operations.DecideRequest{
		ModeratorID: claims.UserID,
		UserID:      req.UserID,
		Outcome:     req.Outcome,
		Reason:      req.Reason,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"record_id": result.Record.ID.String(),
		"status":    result.Record.Status,
		"message":   result.Message,
	})
}

func (s *Server) handlePendingQueue(w http.ResponseWriter, r *http.Request) {
	records, err := s.verification.PendingQueue(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	resp := make([]pendingRecordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, mapPendingRecord(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBatchBegin(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.UserID == "" || req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	result, err := s.batch.Begin(r.Context(), req.UserID, req.ChannelID)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"state":   result.State,
		"message": result.Message,
	})
}

func (s *Server) handleBatchReply(w http.ResponseWriter, r *http.Request) {
	var req batchReplyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.UserID == "" || req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	result, err := s.batch.Reply(r.Context(), req.UserID, req.ChannelID, req.Text)
	if err != nil {
		writeOpError(w, err)
		return
	}
	resp := map[string]any{
		"state":   result.State,
		"message": result.Message,
	}
	if result.Record != nil {
		resp["assigned_role"] = result.Record.AssignedRole
		resp["academic_year_number"] = result.Record.AcademicYearNumber
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRoleChange(w http.ResponseWriter, r *http.Request) {
	var event roleChangeEvent
	if err := decodeJSON(r, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if event.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	revoked, err := s.guard.HandleRoleChange(r.Context(), event.UserID, event.RolesBefore, event.RolesAfter)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"revoked": revoked})
}

// Mapping

func mapPendingRecord(rec model.VerificationRecord) pendingRecordResponse {
	resp := pendingRecordResponse{
		ID:          rec.ID.String(),
		UserID:      rec.UserID,
		Username:    rec.Username,
		FileName:    rec.FileName,
		FileURL:     rec.FileURL,
		SubmittedAt: rec.SubmittedAt.Unix(),
	}
	if rec.QueueMessageID != nil {
		resp.QueueMessageID = *rec.QueueMessageID
	}
	return resp
}

func statusForCode(code string) int {
	switch code {
	case operations.ErrPermissionDenied:
		return http.StatusForbidden
	case operations.ErrDuplicateSubmission, operations.ErrClassificationLocked:
		return http.StatusConflict
	case operations.ErrValidationError:
		return http.StatusBadRequest
	case operations.ErrNotFound, operations.ErrNoActiveSession:
		return http.StatusNotFound
	case operations.ErrTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeOpError(w http.ResponseWriter, err error) {
	var opErr *operations.Error
	if errors.As(err, &opErr) {
		writeJSON(w, statusForCode(opErr.Code), map[string]string{
			"error":   opErr.Code,
			"message": opErr.Message,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, "server_error")
}

// Utilities

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
