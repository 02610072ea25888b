package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"plazos/internal/domain"
	"plazos/internal/engine"
	"plazos/internal/repo"
)

type eventPath struct {
	ID string `path:"id"`
}

type eventBody struct {
	Body domain.Event `json:"body"`
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List agenda records of the caller",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status  string `query:"status"`
		Source  string `query:"source"`
		CaseRef string `query:"case_ref"`
		From    string `query:"from" doc:"RFC 3339 lower bound on the due instant"`
		To      string `query:"to" doc:"RFC 3339 upper bound on the due instant"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  string `query:"cursor"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorEnd, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		from, err := parseBound(input.From)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid from", map[string]any{"from": input.From})
		}
		to, err := parseBound(input.To)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid to", map[string]any{"to": input.To})
		}
		items, err := e.ListEvents(ctx, owner, repo.EventFilters{
			Status:        input.Status,
			Source:        input.Source,
			CaseRef:       input.CaseRef,
			FromUnix:      from,
			ToUnix:        to,
			Limit:         limit + 1,
			CursorEndUnix: cursorEnd,
			CursorID:      cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventListResponse{Items: []domain.Event{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.EndUnix, last.ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Create a manual agenda record",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateEventRequest `json:"body"`
	}) (*eventBody, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		ev, err := e.CreateEvent(ctx, engine.EventCreateOptions{
			OwnerID:       owner,
			Title:         b.Title,
			Notes:         b.Notes,
			Priority:      b.Priority,
			Tags:          b.Tags,
			CaseRef:       b.CaseRef,
			When:          b.When,
			TZ:            b.TZ,
			MinutesBefore: b.MinutesBefore,
			NotifyTo:      b.NotifyTo,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &eventBody{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{id}",
		Summary:     "Get an agenda record",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *eventPath) (*eventBody, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.GetEvent(ctx, owner, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &eventBody{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "event-history",
		Method:      http.MethodGet,
		Path:        "/events/{id}/history",
		Summary:     "Audit trail of an agenda record",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *eventPath) (*struct {
		Body []domain.AuditEvent `json:"body"`
	}, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.History(ctx, owner, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.AuditEvent{}
		}
		return &struct {
			Body []domain.AuditEvent `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mute-event",
		Method:      http.MethodPost,
		Path:        "/events/{id}/mute",
		Summary:     "Mute or unmute an agenda record",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body MuteEventRequest `json:"body"`
	}) (*eventBody, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.MuteEvent(ctx, owner, input.ID, input.Body.Muted)
		if err != nil {
			return nil, handleError(err)
		}
		return &eventBody{Body: ev}, nil
	})

	registerTransition(api, "cancel-event", "/events/{id}/cancel", "Cancel an agenda record", e.CancelEvent)
	registerTransition(api, "complete-event", "/events/{id}/done", "Mark an agenda record done", e.CompleteEvent)

	huma.Register(api, huma.Operation{
		OperationID: "reschedule-event",
		Method:      http.MethodPost,
		Path:        "/events/{id}/reschedule",
		Summary:     "Move the due instant of an agenda record",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body RescheduleEventRequest `json:"body"`
	}) (*eventBody, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.RescheduleEvent(ctx, owner, input.ID, input.Body.When)
		if err != nil {
			return nil, handleError(err)
		}
		return &eventBody{Body: ev}, nil
	})
}

type transitionFunc func(ctx context.Context, ownerID, id string) (domain.Event, error)

func registerTransition(api huma.API, opID, route, summary string, fn transitionFunc) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        route,
		Summary:     summary,
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *eventPath) (*eventBody, error) {
		owner, authErr := ownerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := fn(ctx, owner, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &eventBody{Body: ev}, nil
	})
}

func parseBound(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}
