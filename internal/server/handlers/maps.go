package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/mapnimbus/internal/errors"
	"github.com/3leaps/mapnimbus/pkg/catalog"
	"github.com/3leaps/mapnimbus/pkg/identity"
	"github.com/3leaps/mapnimbus/pkg/maps"
	"github.com/3leaps/mapnimbus/pkg/storage"
)

// DefaultMaxUploadBytes bounds upload request bodies.
const DefaultMaxUploadBytes = 32 << 20

// MapsAPI serves the map provider over HTTP.
type MapsAPI struct {
	provider       maps.CloudProvider
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewMapsAPI creates a MapsAPI.
func NewMapsAPI(provider maps.CloudProvider, logger *zap.Logger) *MapsAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MapsAPI{provider: provider, logger: logger, maxUploadBytes: DefaultMaxUploadBytes}
}

// MeResponse describes the provider and the caller's sign-in state.
type MeResponse struct {
	Provider       string `json:"provider"`
	DisplayName    string `json:"displayName"`
	Enabled        bool   `json:"enabled"`
	SignedIn       bool   `json:"signedIn"`
	ID             string `json:"id,omitempty"`
	Username       string `json:"username,omitempty"`
	PrivateStorage bool   `json:"privateStorage"`
	SharingURL     bool   `json:"sharingUrl"`
}

// UploadRequest is the body of POST /api/v1/maps. Thumbnail is base64
// encoded PNG data.
type UploadRequest struct {
	Map         json.RawMessage `json:"map"`
	Thumbnail   []byte          `json:"thumbnail,omitempty"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	IsPublic    bool            `json:"isPublic"`
}

// URLResponse carries a generated URL.
type URLResponse struct {
	URL string `json:"url"`
}

// Me reports the provider capabilities and the current user.
func (a *MapsAPI) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := MeResponse{
		Provider:       a.provider.Name(),
		DisplayName:    a.provider.DisplayName(),
		Enabled:        a.provider.IsEnabled(),
		SignedIn:       a.provider.HasAccessToken(ctx),
		Username:       a.provider.UserName(ctx),
		PrivateStorage: a.provider.HasPrivateStorage(),
		SharingURL:     a.provider.HasSharingURL(),
	}
	if u, ok := identity.UserFromContext(ctx); ok {
		resp.ID = u.ID
	}
	apperrors.WriteJSON(w, http.StatusOK, resp)
}

// List returns the catalog of every reachable level.
func (a *MapsAPI) List(w http.ResponseWriter, r *http.Request) {
	entries, err := a.provider.ListMaps(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	apperrors.WriteJSON(w, http.StatusOK, entries)
}

// Download returns the map the query's load params identify.
func (a *MapsAPI) Download(w http.ResponseWriter, r *http.Request) {
	res, err := a.provider.DownloadMap(r.Context(), loadParamsFromQuery(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, res)
}

// Upload saves a map and returns its load params or share URL.
func (a *MapsAPI) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes)

	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, r, apperrors.NewHTTPError(http.StatusRequestEntityTooLarge,
				apperrors.CodeBadRequest, "upload exceeds size limit"))
			return
		}
		respondWithError(w, r, apperrors.BadRequest("invalid upload body", err))
		return
	}

	res, err := a.provider.UploadMap(r.Context(), maps.MapDocument{
		Map:         req.Map,
		Thumbnail:   req.Thumbnail,
		Title:       req.Title,
		Description: req.Description,
	}, maps.UploadOptions{IsPublic: req.IsPublic})
	if err != nil {
		a.logger.Warn("Upload failed", zap.Error(err))
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, res)
}

// URL returns the map URL for the query's load params.
func (a *MapsAPI) URL(w http.ResponseWriter, r *http.Request) {
	full, _ := strconv.ParseBool(r.URL.Query().Get("full"))
	currentUserID := ""
	if u, ok := identity.UserFromContext(r.Context()); ok {
		currentUserID = u.ID
	}

	link, err := a.provider.MapURL(loadParamsFromQuery(r), currentUserID, full)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, URLResponse{URL: link})
}

func loadParamsFromQuery(r *http.Request) maps.LoadParams {
	q := r.URL.Query()
	return maps.LoadParams{
		Level:      storage.Level(q.Get("level")),
		MapID:      q.Get("mapId"),
		IdentityID: q.Get("identityId"),
	}
}
