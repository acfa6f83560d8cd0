package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-document/pkg/simpledoc"
	"github.com/tendant/simple-document/pkg/simpledoc/auth"
	"github.com/tendant/simple-document/pkg/simpledoc/repo/memory"
	memorystorage "github.com/tendant/simple-document/pkg/simpledoc/storage/memory"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	handler http.Handler
	tokens  *auth.TokenAuthenticator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	svc, err := simpledoc.New(
		simpledoc.WithRepository(memory.New()),
		simpledoc.WithBlobStore(memorystorage.New()),
	)
	require.NoError(t, err)

	passwords := auth.NewPasswordAuthenticator(bcrypt.MinCost)
	for _, user := range []string{"alice", "bob"} {
		require.NoError(t, passwords.AddUser(user, user+"-pw"))
	}
	tokens, err := auth.NewTokenAuthenticator("router-test-secret-0123")
	require.NoError(t, err)

	handler := NewRouter(RouterConfig{
		Service:       svc,
		Authenticator: auth.Chain{tokens, passwords},
		Issuer:        tokens,
		TokenTTL:      time.Minute,
	})
	return &testServer{handler: handler, tokens: tokens}
}

func (s *testServer) do(t *testing.T, user, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if user != "" {
		req.SetBasicAuth(user, user+"-pw")
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (s *testServer) createDocument(t *testing.T, user, name, content string) *simpledoc.Document {
	t.Helper()
	rr := s.do(t, user, http.MethodPost, "/v1/documents/?name="+name+"&tags=Q1,finance", strings.NewReader(content))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[CreateDocumentResponse](t, rr).Document
}

func TestUnauthenticated(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, "", http.MethodGet, "/v1/search/", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	body := decode[ErrorResponse](t, rr)
	assert.Equal(t, "unauthenticated", body.Error.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/v1/search/", nil)
	req.SetBasicAuth("alice", "wrong")
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, "", http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestServer(t)
	doc := s.createDocument(t, "alice", "report.txt", "hello")
	assert.Equal(t, "alice", doc.OwnerID)
	assert.Equal(t, int64(1), doc.CurrentSequence)
	assert.Equal(t, []string{"finance", "q1"}, doc.Metadata.Tags)

	base := "/v1/documents/" + doc.ID.String()

	rr := s.do(t, "alice", http.MethodPost, base+"/versions?comment=second", strings.NewReader("hello again"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	v2 := decode[simpledoc.Version](t, rr)
	assert.Equal(t, int64(2), v2.Sequence)
	assert.Equal(t, "second", v2.Comment)

	rr = s.do(t, "alice", http.MethodGet, base+"/versions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	versions := decode[[]simpledoc.Version](t, rr)
	require.Len(t, versions, 2)
	assert.Equal(t, int64(1), versions[0].Sequence)
	assert.Equal(t, int64(2), versions[1].Sequence)

	rr = s.do(t, "alice", http.MethodGet, base+"/content", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hello again", rr.Body.String())

	rr = s.do(t, "alice", http.MethodGet, base+"/versions/1/content", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hello", rr.Body.String())

	rr = s.do(t, "alice", http.MethodPost, base+"/revert", strings.NewReader(`{"sequence":1}`))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	v3 := decode[simpledoc.Version](t, rr)
	assert.Equal(t, int64(3), v3.Sequence)
	require.NotNil(t, v3.RevertedFrom)
	assert.Equal(t, int64(1), *v3.RevertedFrom)

	rr = s.do(t, "alice", http.MethodPatch, base+"/metadata", strings.NewReader(`{"name":"final.txt","comment":"rename"}`))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "final.txt", decode[simpledoc.Version](t, rr).Metadata.Name)

	rr = s.do(t, "alice", http.MethodGet, base+"/versions/9", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(t, "alice", http.MethodGet, base+"/versions/zero", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, "alice", http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, "alice", http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = s.do(t, "alice", http.MethodPost, base+"/restore", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decode[simpledoc.Document](t, rr).Deleted)

	rr = s.do(t, "alice", http.MethodGet, base+"/activity?limit=100", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	entries := decode[[]simpledoc.ActivityEntry](t, rr)
	require.NotEmpty(t, entries)
	assert.Equal(t, simpledoc.ActionCreate, entries[0].Action)
}

func TestGrantsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	doc := s.createDocument(t, "alice", "plan.txt", "secret plan")
	base := "/v1/documents/" + doc.ID.String()

	rr := s.do(t, "bob", http.MethodGet, base, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "access_denied", decode[ErrorResponse](t, rr).Error.Code)

	rr = s.do(t, "alice", http.MethodPost, base+"/grants",
		strings.NewReader(`{"grantee":{"kind":"principal","id":"bob"},"capabilities":["read"]}`))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(t, "bob", http.MethodGet, base, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, "bob", http.MethodGet, base+"/content", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, "bob", http.MethodGet, base+"/capabilities", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	caps := decode[CapabilitiesResponse](t, rr)
	assert.Equal(t, simpledoc.NewCapabilitySet(simpledoc.CapabilityRead), caps.Capabilities)

	rr = s.do(t, "alice", http.MethodGet, base+"/grants", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]simpledoc.Grant](t, rr), 1)

	rr = s.do(t, "bob", http.MethodGet, base+"/grants", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, "alice", http.MethodPost, base+"/grants",
		strings.NewReader(`{"grantee":{"kind":"principal","id":"bob"},"capabilities":["read"]}`))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, "alice", http.MethodPost, base+"/grants",
		strings.NewReader(`{"grantee":{"kind":"principal","id":"bob"},"capabilities":["fly"]}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, "alice", http.MethodPost, base+"/grants/revoke",
		strings.NewReader(`{"grantee":{"kind":"principal","id":"bob"},"capabilities":["read"]}`))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, "bob", http.MethodGet, base, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestSearchOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.createDocument(t, "alice", "budget.xlsx", "numbers")
	s.createDocument(t, "alice", "notes.txt", "words")
	s.createDocument(t, "bob", "budget-bob.xlsx", "other")

	rr := s.do(t, "alice", http.MethodGet, "/v1/search/?q=budget", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	page := decode[simpledoc.SearchPage](t, rr)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "budget.xlsx", page.Results[0].Name)

	rr = s.do(t, "alice", http.MethodPost, "/v1/search/", strings.NewReader(`{"limit":1}`))
	require.Equal(t, http.StatusOK, rr.Code)
	page = decode[simpledoc.SearchPage](t, rr)
	require.Len(t, page.Results, 1)
	require.NotEmpty(t, page.NextCursor)

	rr = s.do(t, "alice", http.MethodPost, "/v1/search/",
		strings.NewReader(fmt.Sprintf(`{"limit":1,"cursor":%q}`, page.NextCursor)))
	require.Equal(t, http.StatusOK, rr.Code)
	second := decode[simpledoc.SearchPage](t, rr)
	require.Len(t, second.Results, 1)
	assert.NotEqual(t, page.Results[0].ID, second.Results[0].ID)

	rr = s.do(t, "bob", http.MethodPost, "/v1/search/",
		strings.NewReader(fmt.Sprintf(`{"limit":1,"cursor":%q}`, page.NextCursor)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "stale_cursor", decode[ErrorResponse](t, rr).Error.Code)

	rr = s.do(t, "alice", http.MethodPost, "/v1/search/saved", strings.NewReader(`{"name":"budgets","query":{"text":"budget"}}`))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(t, "alice", http.MethodGet, "/v1/search/saved", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	saved := decode[[]simpledoc.SavedSearch](t, rr)
	require.Len(t, saved, 1)
	assert.Equal(t, "budget", saved[0].Query.Text)
}

func TestTokenExchange(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, "alice", http.MethodPost, "/v1/token", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	token := decode[TokenResponse](t, rr).Token
	require.NotEmpty(t, token)

	req := httptest.NewRequest(http.MethodGet, "/v1/search/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestInvalidRequests(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, "alice", http.MethodGet, "/v1/documents/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, "alice", http.MethodPost, "/v1/documents/", strings.NewReader("x"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode[ErrorResponse](t, rr)
	assert.Equal(t, "invalid_request", body.Error.Code)
	assert.NotEmpty(t, body.Error.Violations)

	doc := s.createDocument(t, "alice", "a.txt", "a")
	rr = s.do(t, "alice", http.MethodPost, "/v1/documents/"+doc.ID.String()+"/revert", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{simpledoc.ErrInvalidRequest, http.StatusBadRequest},
		{simpledoc.ErrStaleCursor, http.StatusBadRequest},
		{simpledoc.ErrUnauthenticated, http.StatusUnauthorized},
		{&simpledoc.DocumentError{Op: "get", Err: simpledoc.ErrAccessDenied}, http.StatusForbidden},
		{simpledoc.ErrNotFound, http.StatusNotFound},
		{&simpledoc.StorageError{Op: "get", Err: simpledoc.ErrBlobNotFound}, http.StatusNotFound},
		{simpledoc.ErrConflict, http.StatusConflict},
		{simpledoc.ErrInvalidState, http.StatusUnprocessableEntity},
		{simpledoc.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{simpledoc.ErrAuditFailure, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, _ := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("something went wrong")
	}))

	rr := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal_error", decode[ErrorResponse](t, rr).Error.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "my-custom-id")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "my-custom-id", seen)
	assert.Equal(t, "my-custom-id", rr.Header().Get("X-Request-ID"))
}
