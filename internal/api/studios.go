package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/studio-gateway/internal/studio"
)

const maxBodyBytes = 1 << 20

// errMissingParam marks a request that lacks name, teamspace, or user.
var errMissingParam = errors.New("missing required parameter")

func (s *Server) startStudio(w http.ResponseWriter, r *http.Request) {
	ref, err := studioRefFromRequest(r)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	creds := credentialsFrom(r.Context())

	st, err := s.studios.Start(r.Context(), creds, ref)
	if err != nil {
		s.logger.Error("start studio failed",
			zap.String("name", ref.Name),
			zap.String("teamspace", ref.Teamspace),
			zap.String("request_id", studio.RequestIDFrom(r.Context())),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) stopStudio(w http.ResponseWriter, r *http.Request) {
	studioID := chi.URLParam(r, "studio_id")
	creds := credentialsFrom(r.Context())

	if err := s.studios.Stop(r.Context(), creds, studioID); err != nil {
		s.logger.Error("stop studio failed",
			zap.String("studio_id", studioID),
			zap.String("request_id", studio.RequestIDFrom(r.Context())),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

type startStudioRequest struct {
	Name      *string `json:"name"`
	Teamspace *string `json:"teamspace"`
	User      *string `json:"user"`
}

// studioRefFromRequest reads name, teamspace, and user from the query string,
// falling back to a JSON or form body for any that are absent. Values pass
// through unchanged; only presence is checked.
func studioRefFromRequest(r *http.Request) (studio.Ref, error) {
	q := r.URL.Query()
	params := []struct {
		key   string
		value *string
	}{
		{"name", queryValue(q, "name")},
		{"teamspace", queryValue(q, "teamspace")},
		{"user", queryValue(q, "user")},
	}
	if params[0].value == nil || params[1].value == nil || params[2].value == nil {
		body, err := refFromBody(r)
		if err != nil {
			return studio.Ref{}, err
		}
		fallback := []*string{body.Name, body.Teamspace, body.User}
		for i := range params {
			if params[i].value == nil {
				params[i].value = fallback[i]
			}
		}
	}

	for _, p := range params {
		if p.value == nil {
			return studio.Ref{}, fmt.Errorf("%w: %s", errMissingParam, p.key)
		}
	}
	return studio.Ref{
		Name:      *params[0].value,
		Teamspace: *params[1].value,
		User:      *params[2].value,
	}, nil
}

func refFromBody(r *http.Request) (startStudioRequest, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return startStudioRequest{}, nil
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if mediaType == "multipart/form-data" {
			if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
				return startStudioRequest{}, fmt.Errorf("invalid form body: %w", err)
			}
		} else if err := r.ParseForm(); err != nil {
			return startStudioRequest{}, fmt.Errorf("invalid form body: %w", err)
		}
		return startStudioRequest{
			Name:      queryValue(r.PostForm, "name"),
			Teamspace: queryValue(r.PostForm, "teamspace"),
			User:      queryValue(r.PostForm, "user"),
		}, nil
	default:
		var req startStudioRequest
		err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			return startStudioRequest{}, errors.New("invalid JSON body")
		}
		return req, nil
	}
}

// queryValue returns the first value for key, or nil when key is absent.
func queryValue(values url.Values, key string) *string {
	vs, ok := values[key]
	if !ok || len(vs) == 0 {
		return nil
	}
	return &vs[0]
}
