package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/tnguyen14/lists/internal/auth"
	"github.com/tnguyen14/lists/internal/authz"
	"github.com/tnguyen14/lists/internal/docstore"
)

// HTTPConfig is the boundary configuration the server needs beyond the
// service itself.
type HTTPConfig struct {
	JWTSecret       string
	CORSOrigins     []string
	PublicReadPaths []string
	Logger          *logrus.Logger
}

type HTTPServer struct {
	service     *Service
	jwtSecret   []byte
	corsOrigins []string
	publicRead  []*regexp.Regexp
	log         *logrus.Logger
}

func NewHTTPServer(service *Service, cfg HTTPConfig) (*HTTPServer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	publicRead := make([]*regexp.Regexp, 0, len(cfg.PublicReadPaths))
	for _, pattern := range cfg.PublicReadPaths {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile public read pattern %q: %w", pattern, err)
		}
		publicRead = append(publicRead, compiled)
	}
	return &HTTPServer{
		service:     service,
		jwtSecret:   []byte(cfg.JWTSecret),
		corsOrigins: cfg.CORSOrigins,
		publicRead:  publicRead,
		log:         logger,
	}, nil
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/healthz" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/readyz" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	user, err := s.identify(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}

	segments := splitPath(r.URL.Path)
	switch len(segments) {
	case 0:
		s.handleRoot(w, r, user)
	case 1:
		if segments[0] == "me" && r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, map[string]any{
				"id": user.Sub,
				"permissions": map[string]any{
					"isSuperAdmin": s.service.IsSuperAdmin(user),
				},
			})
			return
		}
		s.notFound(w)
	case 2:
		s.handleList(w, r, user, segments[0], segments[1])
	case 3:
		s.handleListSub(w, r, user, segments[0], segments[1], segments[2])
	case 4:
		if segments[2] != "items" {
			s.notFound(w)
			return
		}
		s.handleItem(w, r, user, segments[0], segments[1], segments[3])
	default:
		s.notFound(w)
	}
}

// identify resolves the caller from the bearer token. GET requests to
// configured public paths fall back to an anonymous identity that only
// the public viewer sentinel can satisfy.
func (s *HTTPServer) identify(r *http.Request) (authz.User, error) {
	claims, err := auth.ParseToken(s.jwtSecret, bearerToken(r))
	if err == nil {
		return authz.User{Sub: claims.Sub}, nil
	}
	if r.Method == http.MethodGet {
		for _, pattern := range s.publicRead {
			if pattern.MatchString(r.URL.Path) {
				return authz.User{}, nil
			}
		}
	}
	return authz.User{}, err
}

func (s *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request, user authz.User) {
	switch r.Method {
	case http.MethodGet:
		lists, err := s.service.ListAll(r.Context(), user)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, lists)
	case http.MethodDelete:
		if err := s.service.DeleteAllOwned(r.Context(), user); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeSuccess(w)
	case http.MethodPost:
		var body struct {
			Type string `json:"type"`
			Name string `json:"name"`
			CreateListInput
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		if err := s.service.CreateList(r.Context(), user, body.Type, body.Name, body.CreateListInput); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeSuccess(w)
	default:
		s.notFound(w)
	}
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request, user authz.User, listType, listName string) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.service.GetList(r.Context(), user, listType, listName)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPatch:
		var body UpdateListInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		if err := s.service.UpdateList(r.Context(), user, listType, listName, body); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeSuccess(w)
	case http.MethodDelete:
		if err := s.service.DeleteList(r.Context(), user, listType, listName); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeSuccess(w)
	case http.MethodPost:
		// Legacy route; item creation moved under /items.
		s.log.WithFields(logrus.Fields{"type": listType, "name": listName}).
			Warn("deprecated - add item")
		var item Item
		if err := decodeBody(r, &item); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		if err := s.service.CreateItem(r.Context(), user, listType, listName, item); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeSuccess(w)
	default:
		s.notFound(w)
	}
}

func (s *HTTPServer) handleListSub(w http.ResponseWriter, r *http.Request, user authz.User, listType, listName, sub string) {
	switch sub {
	case "meta":
		switch r.Method {
		case http.MethodGet:
			list, err := s.service.GetList(r.Context(), user, listType, listName)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, list.Meta)
		case http.MethodPatch:
			var meta map[string]any
			if err := decodeBody(r, &meta); err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
				return
			}
			if err := s.service.UpdateListMeta(r.Context(), user, listType, listName, meta); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeSuccess(w)
		default:
			s.notFound(w)
		}
	case "items":
		switch r.Method {
		case http.MethodGet:
			query, err := parseItemQuery(r)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			items, err := s.service.GetItems(r.Context(), user, listType, listName, query)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, items)
		case http.MethodPost:
			var item Item
			if err := decodeBody(r, &item); err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
				return
			}
			if err := s.service.CreateItem(r.Context(), user, listType, listName, item); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeSuccess(w)
		default:
			s.notFound(w)
		}
	case "bulk":
		if r.Method != http.MethodPost {
			s.notFound(w)
			return
		}
		// Legacy route; bulk add moved under /items/bulk.
		s.log.WithFields(logrus.Fields{"type": listType, "name": listName}).
			Warn("deprecated - add bulk items")
		s.handleBulk(w, r, user, listType, listName)
	default:
		s.notFound(w)
	}
}

func (s *HTTPServer) handleItem(w http.ResponseWriter, r *http.Request, user authz.User, listType, listName, itemID string) {
	if itemID == "bulk" && r.Method == http.MethodPost {
		s.handleBulk(w, r, user, listType, listName)
		return
	}
	switch r.Method {
	case http.MethodGet:
		item, err := s.service.GetItem(r.Context(), user, listType, listName, itemID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodPatch:
		var patch Item
		if err := decodeBody(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		if err := s.service.UpdateItem(r.Context(), user, listType, listName, itemID, patch); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeSuccess(w)
	case http.MethodDelete:
		if err := s.service.DeleteItem(r.Context(), user, listType, listName, itemID); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeSuccess(w)
	default:
		s.notFound(w)
	}
}

func (s *HTTPServer) handleBulk(w http.ResponseWriter, r *http.Request, user authz.User, listType, listName string) {
	var items []Item
	if err := decodeBody(r, &items); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.service.AddItemsBulk(r.Context(), user, listType, listName, items); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w)
}

var validFilterOps = map[string]struct{}{
	"==": {}, "!=": {}, "<": {}, "<=": {}, ">": {}, ">=": {}, "array-contains": {},
}

// parseItemQuery reads limit, orderBy, order and where query
// parameters. Each where value is a JSON object {field, op, value}; a
// single JSON array of such objects is also accepted.
func parseItemQuery(r *http.Request) (ItemQuery, error) {
	values := r.URL.Query()
	query := ItemQuery{
		OrderBy: values.Get("orderBy"),
		Order:   values.Get("order"),
	}
	if query.Order != "" && query.Order != "asc" && query.Order != "desc" {
		return ItemQuery{}, badRequest("order must be %q or %q", "asc", "desc")
	}
	if rawLimit := values.Get("limit"); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit < 0 {
			return ItemQuery{}, badRequest("limit must be a non-negative integer")
		}
		query.Limit = limit
	}
	for _, rawWhere := range values["where"] {
		trimmed := strings.TrimSpace(rawWhere)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "[") {
			var filters []docstore.Filter
			if err := json.Unmarshal([]byte(trimmed), &filters); err != nil {
				return ItemQuery{}, badRequest("invalid where filter")
			}
			query.Where = append(query.Where, filters...)
			continue
		}
		var filter docstore.Filter
		if err := json.Unmarshal([]byte(trimmed), &filter); err != nil {
			return ItemQuery{}, badRequest("invalid where filter")
		}
		query.Where = append(query.Where, filter)
	}
	for _, filter := range query.Where {
		if _, ok := validFilterOps[filter.Op]; !ok {
			return ItemQuery{}, badRequest("unsupported filter op %q", filter.Op)
		}
		if filter.Field == "" {
			return ItemQuery{}, badRequest("%q is required on where filter", "field")
		}
	}
	return query, nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.setCORSHeaders(writer.Header(), r)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

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

func (s *HTTPServer) setCORSHeaders(header http.Header, r *http.Request) {
	// No header on a miss: a configured allowlist must deny unknown
	// origins.
	origin := ""
	for _, allowed := range s.corsOrigins {
		if allowed == "*" {
			origin = "*"
			break
		}
		if allowed == r.Header.Get("Origin") {
			origin = allowed
			break
		}
	}
	if origin != "" {
		header.Set("Access-Control-Allow-Origin", origin)
	}
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Vary", "Origin")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func (s *HTTPServer) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	if status == http.StatusInternalServerError {
		s.log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).WithError(err).Error("request failed")
	}
	writeError(w, status, code, message)
}

func mapError(err error) (status int, code, message string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message
	}
	if errors.Is(err, docstore.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found"
	}
	if errors.Is(err, auth.ErrInvalidToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"code": code, "error": message})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
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
