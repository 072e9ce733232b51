package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/linkstore/internal/ddbtest"
	"github.com/jacentio/linkstore/link"
	"github.com/jacentio/linkstore/store"
)

const env = "test"

func newTestHandler(t *testing.T) (*Handler, *ddbtest.Memory) {
	t.Helper()
	mem := ddbtest.New()
	mem.CreateTable(link.Schema.PhysicalName(env), []string{"User_id", "Link_id"}, map[string][]string{link.IDIndex: {"Link_id"}})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.New(mem, store.DefaultConfig())
	s.SetLogger(logger)
	return NewHandler(link.NewRepository(s), env, logger), mem
}

func request(method, path, user, body string) events.APIGatewayProxyRequest {
	req := events.APIGatewayProxyRequest{HTTPMethod: method, Path: path, Body: body}
	if user != "" {
		req.RequestContext.Authorizer = map[string]any{
			"claims": map[string]any{"sub": user},
		}
	}
	return req
}

func serve(t *testing.T, h *Handler, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	t.Helper()
	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	return resp
}

func decodeError(t *testing.T, resp events.APIGatewayProxyResponse) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	return body
}

func TestCreateGetRedirect(t *testing.T) {
	h, _ := newTestHandler(t)
	h.newID = func() (string, error) { return "abc123", nil }

	resp := serve(t, h, request(http.MethodPost, "/links", "u1", `{"url":"https://example.com","tags":["go"]}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode, resp.Body)
	assert.NotEmpty(t, resp.Headers[RequestIDHeader])

	var created linkView
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &created))
	assert.Equal(t, "abc123", created.LinkID)
	assert.Equal(t, []string{"go"}, created.Tags)

	resp = serve(t, h, request(http.MethodGet, "/links/abc123", "u1", ""))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Body, `"url":"https://example.com"`)

	resp = serve(t, h, request(http.MethodGet, "/r/abc123", "", ""))
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "https://example.com", resp.Headers["Location"])
}

func TestCreate_RetriesTakenID(t *testing.T) {
	h, _ := newTestHandler(t)
	ids := []string{"aaa", "aaa", "bbb"}
	h.newID = func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}

	resp := serve(t, h, request(http.MethodPost, "/links", "u1", `{"url":"http://a.example"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = serve(t, h, request(http.MethodPost, "/links", "u1", `{"url":"http://b.example"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode, resp.Body)
	assert.Contains(t, resp.Body, `"link_id":"bbb"`)
	assert.Empty(t, ids)
}

func TestCreate_ExplicitIDConflict(t *testing.T) {
	h, _ := newTestHandler(t)
	body := `{"link_id":"mine","url":"http://a.example"}`

	require.Equal(t, http.StatusCreated, serve(t, h, request(http.MethodPost, "/links", "u1", body)).StatusCode)

	resp := serve(t, h, request(http.MethodPost, "/links", "u1", body))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, http.StatusConflict, decodeError(t, resp).Code)
}

func TestCreate_IDHeldByAnotherUser(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := serve(t, h, request(http.MethodPost, "/links", "u1", `{"link_id":"abc123","url":"https://one.example"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = serve(t, h, request(http.MethodPost, "/links", "u2", `{"link_id":"abc123","url":"https://two.example"}`))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = serve(t, h, request(http.MethodGet, "/r/abc123", "", ""))
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "https://one.example", resp.Headers["Location"])
}

func TestCreate_BadRequests(t *testing.T) {
	h, mem := newTestHandler(t)

	for _, body := range []string{`{`, `{"url":""}`, `{"url":"ftp://x"}`, `{"url":"/relative"}`} {
		resp := serve(t, h, request(http.MethodPost, "/links", "u1", body))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.Zero(t, mem.Calls("PutItem"))
}

func TestUpdateAndDelete(t *testing.T) {
	h, _ := newTestHandler(t)
	h.newID = func() (string, error) { return "x1", nil }
	require.Equal(t, http.StatusCreated, serve(t, h, request(http.MethodPost, "/links", "u1", `{"url":"http://a.example","title":"A"}`)).StatusCode)

	resp := serve(t, h, request(http.MethodPut, "/links/x1", "u1", `{"url":"http://b.example","title":null}`))
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	var got linkView
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &got))
	assert.Equal(t, "http://b.example", got.URL)
	assert.Empty(t, got.Title)

	resp = serve(t, h, request(http.MethodPut, "/links/x1", "u1", `{"link_id":"other"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = serve(t, h, request(http.MethodDelete, "/links/x1", "u1", ""))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = serve(t, h, request(http.MethodGet, "/links/x1", "u1", ""))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestList(t *testing.T) {
	h, _ := newTestHandler(t)
	for _, id := range []string{"a", "b"} {
		body := `{"link_id":"` + id + `","url":"http://` + id + `.example"}`
		require.Equal(t, http.StatusCreated, serve(t, h, request(http.MethodPost, "/links", "u1", body)).StatusCode)
	}

	resp := serve(t, h, request(http.MethodGet, "/links", "u1", ""))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var views []linkView
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &views))
	assert.Len(t, views, 2)

	resp = serve(t, h, request(http.MethodGet, "/links", "u2", ""))
	assert.Equal(t, "[]", resp.Body)
}

func TestRouting(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		name   string
		req    events.APIGatewayProxyRequest
		status int
	}{
		{"no user", request(http.MethodGet, "/links", "", ""), http.StatusForbidden},
		{"unknown path", request(http.MethodGet, "/users", "u1", ""), http.StatusNotFound},
		{"nested path", request(http.MethodGet, "/links/a/b", "u1", ""), http.StatusNotFound},
		{"bad method", request(http.MethodPatch, "/links/a", "u1", ""), http.StatusNotFound},
		{"missing redirect", request(http.MethodGet, "/r/nope", "", ""), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := serve(t, h, tt.req)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, http.StatusText(tt.status), decodeError(t, resp).Error)
		})
	}
}

func TestInternalErrorsAreMasked(t *testing.T) {
	h, mem := newTestHandler(t)
	mem.Fail("Query", errors.New("dynamodb exploded"))

	resp := serve(t, h, request(http.MethodGet, "/links", "u1", ""))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal error", decodeError(t, resp).Message)
}

func TestRequestIDFromContext(t *testing.T) {
	h, _ := newTestHandler(t)
	req := request(http.MethodGet, "/links", "u1", "")
	req.RequestContext.RequestID = "req-1"

	resp := serve(t, h, req)
	assert.Equal(t, "req-1", resp.Headers[RequestIDHeader])
}

func TestStatusOf(t *testing.T) {
	tests := map[error]int{
		&store.ValidationError{Op: "x"}:                     http.StatusBadRequest,
		link.ErrLinkNotFound:                                http.StatusNotFound,
		link.ErrMultipleFound:                               http.StatusConflict,
		&store.IntegrityError{Table: "t", Field: "link_id"}: http.StatusConflict,
		errors.New("other"):                                 http.StatusInternalServerError,
	}
	for err, want := range tests {
		assert.Equal(t, want, StatusOf(err), err.Error())
	}
}
