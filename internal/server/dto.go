package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"coscribe/internal/collab"
	"coscribe/internal/events"
	"coscribe/internal/store"
)

type DocumentSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	RenderedText string    `json:"rendered_text"`
	UpdatedBy    string    `json:"updated_by"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type SnapshotResponse struct {
	ID            string    `json:"id"`
	CompleteState []byte    `json:"complete_state"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func summarize(d store.DocumentState) DocumentSummary {
	return DocumentSummary{
		ID:           d.ID,
		Title:        d.Title,
		RenderedText: d.RenderedText,
		UpdatedBy:    d.UpdatedBy,
		UpdatedAt:    d.UpdatedAt,
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDocuments(api huma.API, s store.Store) {
	type docPath struct {
		ID string `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/documents",
		Summary:     "List persisted documents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []DocumentSummary `json:"body"`
	}, error) {
		docs, err := s.ListDocuments(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]DocumentSummary, 0, len(docs))
		for _, d := range docs {
			out = append(out, summarize(d))
		}
		return &struct {
			Body []DocumentSummary `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{id}",
		Summary:     "Get one document",
	}, func(ctx context.Context, input *docPath) (*struct {
		Body DocumentSummary `json:"body"`
	}, error) {
		doc, err := s.GetDocument(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentSummary `json:"body"`
		}{Body: summarize(doc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document-snapshot",
		Method:      http.MethodGet,
		Path:        "/documents/{id}/snapshot",
		Summary:     "Get the authoritative CRDT snapshot",
	}, func(ctx context.Context, input *docPath) (*struct {
		Body SnapshotResponse `json:"body"`
	}, error) {
		doc, err := s.GetDocument(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SnapshotResponse `json:"body"`
		}{Body: SnapshotResponse{
			ID:            doc.ID,
			CompleteState: doc.CompleteState,
			UpdatedAt:     doc.UpdatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-document-changes",
		Method:      http.MethodGet,
		Path:        "/documents/{id}/changes",
		Summary:     "List the change journal of a document",
	}, func(ctx context.Context, input *docPath) (*struct {
		Body []collab.DocumentChange `json:"body"`
	}, error) {
		if _, err := s.GetDocument(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		changes, err := s.ListChanges(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []collab.DocumentChange `json:"body"`
		}{Body: changes}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-document-events",
		Method:      http.MethodGet,
		Path:        "/documents/{id}/events",
		Summary:     "List recent wire events received for a document",
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []events.Record `json:"body"`
	}, error) {
		audit := events.Writer{DB: s.DB}
		records, err := audit.Recent(ctx, input.ID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []events.Record `json:"body"`
		}{Body: records}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-document",
		Method:      http.MethodDelete,
		Path:        "/documents/{id}",
		Summary:     "Delete a document and its history",
	}, func(ctx context.Context, input *docPath) (*struct{}, error) {
		if err := s.DeleteDocument(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
