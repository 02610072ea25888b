package plazossdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleSendsAgendaAndToken(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"computation":{"end":"2025-08-13","ruleset_id":"PE.civil.acto.apelacion"},"agenda":{"created":true,"event":{"id":"ev-1","status":"active"}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	res, err := c.Schedule(context.Background(), DeadlineInput{Start: "2025-07-25", Country: "PE", Domain: "civil", Act: "apelacion"}, Agenda{CaseRef: "EXP-1"})
	require.NoError(t, err)
	assert.Equal(t, "/v0/deadlines", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "PE", gotBody["country"])
	agenda, ok := gotBody["agenda"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "EXP-1", agenda["case_ref"])
	assert.Equal(t, "2025-08-13", res.Computation.End)
	require.NotNil(t, res.Agenda)
	assert.True(t, res.Agenda.Created)
	assert.Equal(t, "ev-1", res.Agenda.Event.ID)
}

func TestListEventsQueryAndOwnerHeader(t *testing.T) {
	var gotQuery, gotOwner string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotOwner = r.Header.Get("X-Owner-Id")
		_, _ = w.Write([]byte(`{"items":[{"id":"a"},{"id":"b"}],"next_cursor":"100|b"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	c.OwnerID = "owner-1"
	page, err := c.ListEvents(context.Background(), ListOptions{Status: "active", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, "limit=2&status=active", gotQuery)
	assert.Equal(t, "owner-1", gotOwner)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, "100|b", page.NextCursor)
}

func TestAPIErrorOnConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/events/ev%201/done", r.URL.EscapedPath())
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"invalid_transition"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").Done(context.Background(), "ev 1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "invalid_transition")
}
