// Package api adapts API Gateway proxy requests to the link repository.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/jacentio/linkstore/internal/shortid"
	"github.com/jacentio/linkstore/link"
	"github.com/jacentio/linkstore/store"
)

// RequestIDHeader carries the id a response was logged under.
const RequestIDHeader = "X-Request-Id"

// idAttempts bounds retries when a generated link id is already taken.
const idAttempts = 3

var (
	errBadRequest = errors.New("bad request")
	errForbidden  = errors.New("no authenticated user")
	errNoRoute    = errors.New("no such route")
)

// Handler serves the link API for one environment.
type Handler struct {
	links  *link.Repository
	env    string
	logger *slog.Logger
	newID  func() (string, error)
}

// NewHandler creates a Handler. A nil logger uses slog.Default().
func NewHandler(links *link.Repository, env string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		links:  links,
		env:    env,
		logger: logger,
		newID:  func() (string, error) { return shortid.New(shortid.DefaultLength) },
	}
}

type createRequest struct {
	LinkID string   `json:"link_id"`
	URL    string   `json:"url"`
	Title  string   `json:"title"`
	Tags   []string `json:"tags"`
}

type linkView struct {
	LinkID     string    `json:"link_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func viewOf(l *link.Link) linkView {
	return linkView{
		LinkID:     l.LinkID,
		URL:        l.URL,
		Title:      l.Title,
		Tags:       l.Tags,
		CreatedAt:  l.CreatedAt,
		ModifiedAt: l.ModifiedAt,
	}
}

// Handle routes one proxy request. Failures are reported in the response,
// so the returned error is always nil.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	requestID := req.RequestContext.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := h.logger.With("requestID", requestID, "method", req.HTTPMethod, "path", req.Path)

	resp, err := h.route(ctx, req)
	if err != nil {
		resp = errorResponse(err)
		if resp.StatusCode >= http.StatusInternalServerError {
			logger.Error("request failed", "error", err)
		} else {
			logger.Info("request rejected", "status", resp.StatusCode, "error", err)
		}
	} else {
		logger.Info("request served", "status", resp.StatusCode, "duration", time.Since(start))
	}
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[RequestIDHeader] = requestID
	return resp, nil
}

func (h *Handler) route(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	parts := strings.Split(strings.Trim(req.Path, "/"), "/")

	if len(parts) == 2 && parts[0] == "r" && req.HTTPMethod == http.MethodGet {
		return h.redirect(ctx, parts[1])
	}
	if parts[0] != "links" || len(parts) > 2 {
		return events.APIGatewayProxyResponse{}, fmt.Errorf("%w: %s %s", errNoRoute, req.HTTPMethod, req.Path)
	}

	user, err := userOf(req)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}

	if len(parts) == 1 {
		switch req.HTTPMethod {
		case http.MethodGet:
			return h.list(ctx, user)
		case http.MethodPost:
			return h.create(ctx, user, req.Body)
		}
		return events.APIGatewayProxyResponse{}, fmt.Errorf("%w: %s %s", errNoRoute, req.HTTPMethod, req.Path)
	}

	id := parts[1]
	switch req.HTTPMethod {
	case http.MethodGet:
		l, err := h.links.Get(ctx, h.env, user, id)
		if err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		return jsonResponse(http.StatusOK, viewOf(l))
	case http.MethodPut:
		return h.update(ctx, user, id, req.Body)
	case http.MethodDelete:
		l, err := h.links.Get(ctx, h.env, user, id)
		if err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		if err := h.links.Delete(ctx, h.env, l); err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}, nil
	}
	return events.APIGatewayProxyResponse{}, fmt.Errorf("%w: %s %s", errNoRoute, req.HTTPMethod, req.Path)
}

func (h *Handler) list(ctx context.Context, user string) (events.APIGatewayProxyResponse, error) {
	links, err := h.links.ListForUser(ctx, h.env, user)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	views := make([]linkView, 0, len(links))
	for _, l := range links {
		views = append(views, viewOf(l))
	}
	return jsonResponse(http.StatusOK, views)
}

func (h *Handler) create(ctx context.Context, user, body string) (events.APIGatewayProxyResponse, error) {
	var in createRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return events.APIGatewayProxyResponse{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := checkURL(in.URL); err != nil {
		return events.APIGatewayProxyResponse{}, err
	}

	nl := link.NewLink{UserID: user, LinkID: in.LinkID, URL: in.URL, Title: in.Title, Tags: in.Tags}
	attempts := 1
	if nl.LinkID == "" {
		attempts = idAttempts
	}

	var l *link.Link
	var err error
	for i := 0; i < attempts; i++ {
		if in.LinkID == "" {
			if nl.LinkID, err = h.newID(); err != nil {
				return events.APIGatewayProxyResponse{}, err
			}
		}
		l, err = h.links.Create(ctx, h.env, nl)
		if !errors.Is(err, store.ErrIntegrity) {
			break
		}
		h.logger.Debug("link id taken", "linkID", nl.LinkID, "attempt", i+1)
	}
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return jsonResponse(http.StatusCreated, viewOf(l))
}

func (h *Handler) update(ctx context.Context, user, id, body string) (events.APIGatewayProxyResponse, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return events.APIGatewayProxyResponse{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if v, ok := fields[link.FieldURL]; ok {
		s, _ := v.(string)
		if err := checkURL(s); err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
	}

	l, err := h.links.Get(ctx, h.env, user, id)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	if err := h.links.Update(ctx, h.env, l, fields); err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return jsonResponse(http.StatusOK, viewOf(l))
}

func (h *Handler) redirect(ctx context.Context, id string) (events.APIGatewayProxyResponse, error) {
	l, err := h.links.GetByID(ctx, h.env, id, nil)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusMovedPermanently,
		Headers:    map[string]string{"Location": l.URL},
	}, nil
}

// userOf reads the caller from the authorizer's "sub" claim.
func userOf(req events.APIGatewayProxyRequest) (string, error) {
	claims, _ := req.RequestContext.Authorizer["claims"].(map[string]any)
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errForbidden
	}
	return sub, nil
}

func checkURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", errBadRequest)
	}
	return nil
}

func jsonResponse(status int, v any) (events.APIGatewayProxyResponse, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(b),
	}, nil
}

// StatusOf maps an error to the HTTP status it is reported with.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, errNoRoute), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrIntegrity), errors.Is(err, store.ErrInconsistency), errors.Is(err, store.ErrMultipleFound):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func errorResponse(err error) events.APIGatewayProxyResponse {
	status := StatusOf(err)
	body := errorBody{Error: http.StatusText(status), Message: err.Error(), Code: status}
	if status == http.StatusInternalServerError {
		body.Message = "internal error"
	}
	b, _ := json.Marshal(body)
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(b),
	}
}
