package http

import (
	"context"
	stdhttp "net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sirupsen/logrus"

	"rulebook/app/internal/storage"
)

const maxUploadBytes = 20 << 20

type uploadObjectInput struct {
	Path    string `query:"path" required:"true" doc:"Object path, prefixed with the caller's user id"`
	RawBody []byte `contentType:"application/octet-stream"`
}

type uploadObjectOutput struct {
	Status int
	Body   struct {
		Path        string `json:"path"`
		ContentType string `json:"content_type"`
		Size        int    `json:"size"`
	}
}

type downloadObjectInput struct {
	Path string `query:"path" required:"true"`
}

type downloadObjectOutput struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

func (s *Server) registerStorageRoutes() {
	huma.Register(s.api, secured(huma.Operation{
		OperationID:   "upload-object",
		Method:        stdhttp.MethodPut,
		Path:          "/storage/objects",
		Summary:       "Upload an image into the caller's folder",
		DefaultStatus: stdhttp.StatusCreated,
		MaxBodyBytes:  maxUploadBytes,
		Tags:          []string{"storage"},
	}), s.uploadObjectHandler)

	huma.Register(s.api, secured(huma.Operation{
		OperationID: "download-object",
		Method:      stdhttp.MethodGet,
		Path:        "/storage/objects",
		Summary:     "Download a stored image",
		Tags:        []string{"storage"},
	}), s.downloadObjectHandler)
}

func (s *Server) uploadObjectHandler(ctx context.Context, input *uploadObjectInput) (*uploadObjectOutput, error) {
	userID := UserIDFromContext(ctx)
	cleaned, err := storage.CleanPath(input.Path)
	if err != nil {
		return nil, s.problem(ctx, err, "uploading object", nil)
	}
	if !strings.HasPrefix(cleaned, userID+"/") {
		return nil, huma.Error403Forbidden("uploads must go under your own folder")
	}

	object, err := s.blobs.Upload(ctx, cleaned, input.RawBody)
	if err != nil {
		return nil, s.problem(ctx, err, "uploading object", logrus.Fields{"path": cleaned})
	}

	out := &uploadObjectOutput{Status: stdhttp.StatusCreated}
	out.Body.Path = object.Path
	out.Body.ContentType = object.ContentType
	out.Body.Size = len(object.Data)
	return out, nil
}

func (s *Server) downloadObjectHandler(ctx context.Context, input *downloadObjectInput) (*downloadObjectOutput, error) {
	object, err := s.blobs.Download(ctx, input.Path)
	if err != nil {
		return nil, s.problem(ctx, err, "downloading object", logrus.Fields{"path": input.Path})
	}
	return &downloadObjectOutput{
		ContentType:  object.ContentType,
		CacheControl: "private, max-age=300",
		Body:         object.Data,
	}, nil
}
