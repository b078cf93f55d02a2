package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tablease/internal/snapshot"
)

// Snapshots is the screenshot store behind the /api/v1/snapshots routes.
type Snapshots interface {
	List() ([]snapshot.Meta, error)
	Get(id string) (snapshot.Meta, error)
	ReadImage(id string) ([]byte, string, error)
	Delete(id string) error
}

type snapshotIDInput struct {
	SnapshotID string `path:"snapshot_id"`
}

func registerSnapshotHandlers(api huma.API, store Snapshots) {
	type listSnapshotsOutput struct {
		Body struct {
			Snapshots []snapshot.Meta `json:"snapshots"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-snapshots", Method: http.MethodGet, Path: "/api/v1/snapshots", Summary: "List saved screenshots, newest first", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *struct{}) (*listSnapshotsOutput, error) {
			metas, err := store.List()
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listSnapshotsOutput{}
			out.Body.Snapshots = metas
			if out.Body.Snapshots == nil {
				out.Body.Snapshots = []snapshot.Meta{}
			}
			return out, nil
		})

	type getSnapshotOutput struct {
		Body snapshot.Meta
	}
	huma.Register(api, huma.Operation{OperationID: "get-snapshot-metadata", Method: http.MethodGet, Path: "/api/v1/snapshots/{snapshot_id}/metadata", Summary: "Get screenshot metadata", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *snapshotIDInput) (*getSnapshotOutput, error) {
			meta, err := store.Get(input.SnapshotID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &getSnapshotOutput{Body: meta}, nil
		})

	type snapshotImageOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-snapshot-image",
		Method:      http.MethodGet,
		Path:        "/api/v1/snapshots/{snapshot_id}/image",
		Summary:     "Get screenshot image",
		Tags:        []string{"Snapshots"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Screenshot image",
				Content: map[string]*huma.MediaType{
					"image/png":  {Schema: &huma.Schema{Type: "string", Format: "binary"}},
					"image/jpeg": {Schema: &huma.Schema{Type: "string", Format: "binary"}},
					"image/webp": {Schema: &huma.Schema{Type: "string", Format: "binary"}},
				},
			},
		},
	}, func(ctx context.Context, input *snapshotIDInput) (*snapshotImageOutput, error) {
		data, format, err := store.ReadImage(input.SnapshotID)
		if err != nil {
			return nil, mapErr(err)
		}
		return &snapshotImageOutput{ContentType: "image/" + format, Body: data}, nil
	})

	type deleteSnapshotOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "delete-snapshot", Method: http.MethodDelete, Path: "/api/v1/snapshots/{snapshot_id}", Summary: "Delete a saved screenshot", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *snapshotIDInput) (*deleteSnapshotOutput, error) {
			if err := store.Delete(input.SnapshotID); err != nil {
				return nil, mapErr(err)
			}
			out := &deleteSnapshotOutput{}
			out.Body.Status = "deleted"
			return out, nil
		})
}
