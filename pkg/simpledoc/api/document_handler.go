package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

// DocumentHandler exposes simpledoc.Service over HTTP. Every route expects
// AuthenticationMiddleware to have run.
type DocumentHandler struct {
	service simpledoc.Service
	logger  *slog.Logger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(service simpledoc.Service, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{service: service, logger: logger}
}

// Routes returns the routes for documents
func (h *DocumentHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateDocument)
	r.Get("/{id}", h.GetDocument)
	r.Delete("/{id}", h.DeleteDocument)
	r.Post("/{id}/restore", h.RestoreDocument)
	r.Patch("/{id}/metadata", h.UpdateMetadata)
	r.Put("/{id}/owner", h.TransferOwnership)

	r.Get("/{id}/versions", h.ListVersions)
	r.Post("/{id}/versions", h.CreateVersion)
	r.Get("/{id}/versions/{seq}", h.GetVersion)
	r.Get("/{id}/versions/{seq}/content", h.DownloadVersion)
	r.Get("/{id}/content", h.DownloadVersion)
	r.Post("/{id}/revert", h.Revert)

	r.Get("/{id}/capabilities", h.Capabilities)
	r.Get("/{id}/grants", h.ListGrants)
	r.Post("/{id}/grants", h.Grant)
	r.Post("/{id}/grants/revoke", h.Revoke)

	r.Get("/{id}/activity", h.ListActivity)

	return r
}

func principal(w http.ResponseWriter, r *http.Request) (simpledoc.Principal, bool) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, simpledoc.ErrUnauthenticated)
	}
	return p, ok
}

func documentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, badRequest("invalid document id"))
		return uuid.Nil, false
	}
	return id, true
}

func badRequest(msg string) error {
	return errors.Join(simpledoc.ErrInvalidRequest, errors.New(msg))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		writeError(w, r, badRequest("malformed JSON body: "+err.Error()))
		return false
	}
	return true
}

func queryInt(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest("invalid " + key)
	}
	return n, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// CreateDocumentResponse is the response body for a created document
type CreateDocumentResponse struct {
	Document *simpledoc.Document `json:"document"`
	Version  *simpledoc.Version  `json:"version"`
}

// CreateDocument stores the request body as the first version. Metadata is
// taken from the query: name, file_type, tags (comma separated) and comment.
func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	doc, version, err := h.service.CreateDocument(r.Context(), simpledoc.CreateDocumentRequest{
		Principal: p,
		Name:      q.Get("name"),
		FileType:  q.Get("file_type"),
		Tags:      splitList(q.Get("tags")),
		Comment:   q.Get("comment"),
		Content:   r.Body,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.logger.Info("Document created", "document_id", doc.ID, "principal_id", p.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, CreateDocumentResponse{Document: doc, Version: version})
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.GetDocument(r.Context(), p, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteDocument(r.Context(), p, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) RestoreDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.RestoreDocument(r.Context(), p, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, doc)
}

// UpdateMetadataRequest is the request body for a metadata-only version
type UpdateMetadataRequest struct {
	simpledoc.MetadataUpdate
	Comment string `json:"comment,omitempty"`
}

func (h *DocumentHandler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var req UpdateMetadataRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	version, err := h.service.UpdateMetadata(r.Context(), simpledoc.UpdateMetadataRequest{
		Principal:  p,
		DocumentID: id,
		Comment:    req.Comment,
		Metadata:   req.MetadataUpdate,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, version)
}

// TransferOwnershipRequest is the request body for changing the owner
type TransferOwnershipRequest struct {
	OwnerID string `json:"owner_id"`
}

func (h *DocumentHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var req TransferOwnershipRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	doc, err := h.service.TransferOwnership(r.Context(), simpledoc.TransferOwnershipRequest{
		Principal:  p,
		DocumentID: id,
		NewOwnerID: req.OwnerID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, doc)
}

// ListVersions returns the full history in ascending sequence order.
func (h *DocumentHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	versions := []*simpledoc.Version{}
	for v, err := range h.service.ListVersions(r.Context(), p, id) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		versions = append(versions, v)
	}
	render.JSON(w, r, versions)
}

// CreateVersion stores the request body as a new version. The comment is
// taken from the query.
func (h *DocumentHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	version, err := h.service.CreateVersion(r.Context(), simpledoc.CreateVersionRequest{
		Principal:  p,
		DocumentID: id,
		Comment:    r.URL.Query().Get("comment"),
		Content:    r.Body,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, version)
}

func sequenceParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "seq")
	if raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 1 {
		return 0, badRequest("invalid version sequence")
	}
	return seq, nil
}

func (h *DocumentHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	seq, err := sequenceParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	version, err := h.service.GetVersion(r.Context(), p, id, seq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, version)
}

// DownloadVersion streams a version's content. Without a sequence the
// current version is served.
func (h *DocumentHandler) DownloadVersion(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	seq, err := sequenceParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, version, err := h.service.OpenVersion(r.Context(), p, id, seq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(version.Metadata.Size, 10))
	w.Header().Set("ETag", `"`+version.BlobHandle+`"`)
	if version.Metadata.Name != "" {
		w.Header().Set("Content-Disposition", contentDisposition(version.Metadata.Name))
	}
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Error("Failed to stream content", "document_id", id, "sequence", version.Sequence, "error", err)
	}
}

// RevertRequest is the request body for a revert
type RevertRequest struct {
	Sequence int64  `json:"sequence"`
	Comment  string `json:"comment,omitempty"`
}

func (h *DocumentHandler) Revert(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var req RevertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	version, err := h.service.Revert(r.Context(), simpledoc.RevertRequest{
		Principal:      p,
		DocumentID:     id,
		TargetSequence: req.Sequence,
		Comment:        req.Comment,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, version)
}

// CapabilitiesResponse lists what the caller may do with a document
type CapabilitiesResponse struct {
	DocumentID   uuid.UUID               `json:"document_id"`
	Capabilities simpledoc.CapabilitySet `json:"capabilities"`
}

func (h *DocumentHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	caps, err := h.service.Resolve(r.Context(), p, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, CapabilitiesResponse{DocumentID: id, Capabilities: caps})
}

func (h *DocumentHandler) ListGrants(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	grants, err := h.service.ListGrants(r.Context(), p, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if grants == nil {
		grants = []*simpledoc.Grant{}
	}
	render.JSON(w, r, grants)
}

// GrantRequest is the request body for granting or revoking capabilities
type GrantRequest struct {
	Grantee      simpledoc.Grantee       `json:"grantee"`
	Capabilities simpledoc.CapabilitySet `json:"capabilities"`
}

func (h *DocumentHandler) Grant(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var req GrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	grant, err := h.service.Grant(r.Context(), simpledoc.GrantRequest{
		Actor:        p,
		DocumentID:   id,
		Grantee:      req.Grantee,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, grant)
}

func (h *DocumentHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var req GrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.service.Revoke(r.Context(), simpledoc.RevokeRequest{
		Actor:        p,
		DocumentID:   id,
		Grantee:      req.Grantee,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListActivity pages through the trail with ?after=<seq>&limit=<n>.
func (h *DocumentHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	after, err := queryInt(r, "after")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := h.service.ListActivity(r.Context(), simpledoc.ActivityQuery{
		Principal:  p,
		DocumentID: id,
		AfterSeq:   after,
		Limit:      int(limit),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*simpledoc.ActivityEntry{}
	}
	render.JSON(w, r, entries)
}
