package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type parseTarget struct {
	Tool   string `path:"tool"`
	Limit  int    `form:"limit"`
	Strict bool   `form:"strict"`
	Token  string `json:"token"`
}

func TestParse(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/tools/ahrefs?limit=5&strict=true", strings.NewReader(`{"token":"tok"}`))
	r.Header.Set("Content-Type", "application/json")
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("tool", "ahrefs")
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

	var v parseTarget
	require.NoError(t, Parse(r, &v))
	assert.Equal(t, parseTarget{Tool: "ahrefs", Limit: 5, Strict: true, Token: "tok"}, v)
}

func TestParseBadJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"token":`))
	var v parseTarget
	assert.Error(t, Parse(r, &v))
}

func TestErrorShape(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, errors.New("bad input"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"bad input","code":"INVALID_REQUEST"}`, w.Body.String())
}

func TestQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?n=3&bad=x&q=hi", nil)
	assert.Equal(t, 3, QueryInt(r, "n", 1))
	assert.Equal(t, 1, QueryInt(r, "bad", 1))
	assert.Equal(t, "hi", QueryString(r, "q", ""))
	assert.Equal(t, "d", QueryString(r, "missing", "d"))
}

func TestBodyAndQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/?page=2&q=ab", strings.NewReader(`{"name":"x"}`))
	body, err := Body(r)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "x"}, body)
	assert.Equal(t, map[string]any{"page": "2", "q": "ab"}, Query(r))

	empty, err := Body(httptest.NewRequest(http.MethodPost, "/", nil))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = Body(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`[1]`)))
	assert.Error(t, err)
}
