package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"campusforum/api/internal/auth"
	"campusforum/api/internal/search"
)

const identityKey = "identity"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	jwtSecret  []byte
	router     *echo.Echo
}

func NewHTTPServer(service *Service, corsOrigin string, jwtSecret string) *HTTPServer {
	s := &HTTPServer{service: service, corsOrigin: corsOrigin, jwtSecret: []byte(jwtSecret)}
	s.router = s.routes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}
	s.router.ServeHTTP(w, r)
}

func (s *HTTPServer) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, code, message, details := mapError(err)
		if status == http.StatusInternalServerError {
			log.WithError(err).WithFields(log.Fields{
				"request_id": requestIDFrom(c.Request().Context()),
				"path":       c.Request().URL.Path,
			}).Error("request failed")
		}
		writeError(c.Response(), status, code, message, details)
	}

	e.GET("/health", s.handleHealth)
	e.HEAD("/health", s.handleHealth)
	e.GET("/ready", s.handleReady)
	e.HEAD("/ready", s.handleReady)
	e.GET("/users/:id/posts", s.handleAuthorPosts)

	posts := e.Group("/posts", s.requireSession)
	posts.POST("", s.handleCreatePost)
	posts.GET("", s.handleListPosts)
	posts.GET("/mine", s.handleListMine)
	posts.GET("/search", s.handleSearch)
	posts.GET("/:id", s.handleGetPost)
	posts.PUT("/:id", s.handleEditPost)
	posts.POST("/:id/replies", s.handleAddReply)
	posts.POST("/:id/votes", s.handleCastVote)
	posts.GET("/:id/history", s.handleHistory)
	posts.GET("/:id/history/:hash", s.handleRevision)
	posts.GET("/:id/export", s.handleExport)

	admin := e.Group("/admin", s.requireSession)
	admin.POST("/search/reindex", s.handleReindex)
	return e
}

func (s *HTTPServer) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := auth.BearerToken(c.Request().Header.Get("Authorization"))
		if token == "" {
			return errUnauthenticated
		}
		identity, err := auth.ParseToken(s.jwtSecret, token)
		if err != nil {
			return err
		}
		c.Set(identityKey, identity)
		return next(c)
	}
}

func identityFrom(c echo.Context) auth.Identity {
	identity, _ := c.Get(identityKey).(auth.Identity)
	return identity
}

func (s *HTTPServer) handleHealth(c echo.Context) error {
	writeJSON(c.Response(), http.StatusOK, map[string]any{"ok": true})
	return nil
}

func (s *HTTPServer) handleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	// The cache is optional: a failing cache degrades reads but does not
	// take the API out of rotation.
	if configured, err := s.service.PingCache(ctx); configured {
		if err != nil {
			checks["cache"] = map[string]any{"status": "degraded", "error": err.Error()}
		} else {
			checks["cache"] = map[string]any{"status": "ok"}
		}
	}

	writeJSON(c.Response(), statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
	return nil
}

func (s *HTTPServer) handleCreatePost(c echo.Context) error {
	var body CreatePostInput
	if err := decodeBody(c.Request(), &body); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
	}
	view, err := s.service.CreatePost(c.Request().Context(), identityFrom(c), body)
	if err != nil {
		return err
	}
	writeJSON(c.Response(), http.StatusCreated, view)
	return nil
}

func (s *HTTPServer) handleListPosts(c echo.Context) error {
	views, err := s.service.ListPosts(c.Request().Context(), identityFrom(c), c.QueryParam("category"))
	if err != nil {
		return err
	}
	writeJSON(c.Response(), http.StatusOK, views)
	return nil
}

func (s *HTTPServer) handleListMine(c echo.Context) error {
	views, err := s.service.ListMyPosts(c.Request().Context(), identityFrom(c))
	if err != nil {
		return err
	}
	writeJSON(c.Response(), http.StatusOK, views)
	return nil
}

func (s *HTTPServer) handleAuthorPosts(c echo.Context) error {
	summaries, err := s.service.AuthorPostSummaries(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	writeJSON(c.Response(), http.StatusOK, summaries)
	return nil
}

func (s *HTTPServer) handleGetPost(c echo.Context) error {
	view, err := s.service.GetPost(c.Request().Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	writeJSON(c.Response(), http.StatusOK, view)
	return nil
}

func (s *HTTPServer) handleEditPost(c echo.Context) error {
	var body EditPostInput
	if err := decodeBody(c.Request(), &body); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
	}
	view, err := s.service.EditPost(c.Request().Context(), identityFrom(c), c.Param("id"), body)
	if err != nil {
		return err
	}
	writeJSON(c.Response(), http.StatusOK, view)
	return nil
}

func (s *HTTPServer) handleAddReply(c echo.Context) error {
	var body ReplyInput
	if err := decodeBody(c.Request(), &body); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
	}
	view, err := s.service.AddReply(c.Request().Context(), identityFrom(c), c.Param("id"), body)
	if err != nil {
		return err
	}
	writeJSON(c.Response(), http.StatusOK, view)
	return nil
}

func (s *HTTPServer) handleCastVote(c echo.Context) error {
	var body VoteInput
	if err := decodeBody(c.Request(), &body); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
	}
	view, err := s.service.CastVote(c.Request().Context(), identityFrom(c), c.Param("id"), body)
	if err != nil {
		return err
	}
	writeJSON(c.Response(), http.StatusOK, view)
	return nil
}

func (s *HTTPServer) handleSearch(c echo.Context) error {
	limit, err := intQuery(c, "limit")
	if err != nil {
		return err
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		return err
	}
	query := search.Query{
		Text:     c.QueryParam("q"),
		Category: c.QueryParam("category"),
		Limit:    limit,
		Offset:   offset,
	}
	switch search.ResultType(c.QueryParam("type")) {
	case "":
	case search.ResultPost:
		query.FilterType = search.ResultPost
	case search.ResultReply:
		query.FilterType = search.ResultReply
	default:
		return validationError("type must be 'post' or 'reply'")
	}
	writeJSON(c.Response(), http.StatusOK, s.service.SearchPosts(c.Request().Context(), query))
	return nil
}

func (s *HTTPServer) handleHistory(c echo.Context) error {
	limit, err := intQuery(c, "limit")
	if err != nil {
		return err
	}
	revisions, err := s.service.PostHistory(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return err
	}
	writeJSON(c.Response(), http.StatusOK, map[string]any{"revisions": revisions})
	return nil
}

func (s *HTTPServer) handleRevision(c echo.Context) error {
	snapshot, err := s.service.PostRevision(c.Request().Context(), c.Param("id"), c.Param("hash"))
	if err != nil {
		return err
	}
	writeJSON(c.Response(), http.StatusOK, map[string]any{"hash": c.Param("hash"), "snapshot": snapshot})
	return nil
}

func (s *HTTPServer) handleExport(c echo.Context) error {
	output, err := s.service.ExportPost(c.Request().Context(), identityFrom(c), c.Param("id"), c.QueryParam("format"))
	if err != nil {
		return err
	}
	if output.URL != "" {
		writeJSON(c.Response(), http.StatusOK, map[string]any{"url": output.URL})
		return nil
	}
	header := c.Response().Header()
	header.Set("Content-Type", output.File.MimeType)
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", output.File.Filename))
	c.Response().WriteHeader(http.StatusOK)
	_, err = c.Response().Write(output.File.Data)
	return err
}

func (s *HTTPServer) handleReindex(c echo.Context) error {
	indexed, err := s.service.ReindexSearch(c.Request().Context(), identityFrom(c))
	if err != nil {
		return err
	}
	writeJSON(c.Response(), http.StatusAccepted, map[string]any{"indexed": indexed})
	return nil
}

func intQuery(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, validationError(name + " must be a non-negative integer")
	}
	return value, nil
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

		log.WithFields(log.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
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
