package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plazos/internal/domain"
)

type memStore struct {
	hashes map[string]string
	sets   int
}

func (m *memStore) LastSendHash(_ context.Context, id string) (string, error) {
	return m.hashes[id], nil
}

func (m *memStore) SetSendHash(_ context.Context, id, hash string) error {
	m.hashes[id] = hash
	m.sets++
	return nil
}

type recordingTransport struct {
	sent []Message
	err  error
}

func (r *recordingTransport) Send(_ context.Context, msg Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func TestHashDependsOnEveryField(t *testing.T) {
	base := Hash("r1", "dest", "push", 100, "body")
	assert.Equal(t, base, Hash("r1", "dest", "push", 100, "body"))
	assert.NotEqual(t, base, Hash("r2", "dest", "push", 100, "body"))
	assert.NotEqual(t, base, Hash("r1", "other", "push", 100, "body"))
	assert.NotEqual(t, base, Hash("r1", "dest", "email", 100, "body"))
	assert.NotEqual(t, base, Hash("r1", "dest", "push", 101, "body"))
	assert.NotEqual(t, base, Hash("r1", "dest", "push", 100, "body!"))
}

func TestGuardSuppressesDuplicates(t *testing.T) {
	store := &memStore{hashes: map[string]string{}}
	tr := &recordingTransport{}
	g := Guard{Store: store, Transport: tr}
	msg := Message{RecordID: "r1", Destination: "d", Mode: "push", EndUnix: 10, Body: "hola"}

	sent, err := g.Deliver(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, sent)

	sent, err = g.Deliver(context.Background(), msg)
	require.NoError(t, err)
	require.False(t, sent)
	require.Len(t, tr.sent, 1)

	msg.Body = "hola otra vez"
	sent, err = g.Deliver(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, sent)
	require.Len(t, tr.sent, 2)
}

func TestGuardKeepsHashOnFailure(t *testing.T) {
	store := &memStore{hashes: map[string]string{}}
	g := Guard{Store: store, Transport: &recordingTransport{err: errors.New("down")}}
	_, err := g.Deliver(context.Background(), Message{RecordID: "r1", Body: "x"})
	require.Error(t, err)
	assert.Equal(t, 0, store.sets)
	assert.Empty(t, store.hashes["r1"])
}

func TestBuildAlert(t *testing.T) {
	ref := "EXP-9"
	ev := domain.Event{ID: "e1", OwnerID: "o1", Title: "Apelacion", DueLocalDay: "2025-08-13", EndUnix: 42, CaseRef: &ref}
	msg := BuildAlert(ev, 48, "push")
	assert.Equal(t, "o1", msg.Destination)
	assert.Equal(t, "[EXP-9] Apelacion vence el 2025-08-13. Quedan 2 dias.", msg.Body)
	assert.Equal(t, 48, msg.Threshold)

	ev.NotifyTo = "+51999"
	ev.CaseRef = nil
	msg = BuildAlert(ev, 3, "push")
	assert.Equal(t, "+51999", msg.Destination)
	assert.Equal(t, "Apelacion vence el 2025-08-13. Quedan 3 horas.", msg.Body)
	assert.Equal(t, "1 dia", hoursLabel(24))
	assert.Equal(t, "1 hora", hoursLabel(1))
}

func TestWebhookTransport(t *testing.T) {
	var got Message
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		signature = r.Header.Get("X-Plazos-Signature")
		assert.Equal(t, Sign("s3cret", body), signature)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := WebhookTransport{URL: srv.URL, Secret: "s3cret", Timeout: time.Second}
	err := tr.Send(context.Background(), Message{RecordID: "r1", Body: "hola"})
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RecordID)
	assert.NotEmpty(t, signature)
}

func TestWebhookTransportRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := WebhookTransport{URL: srv.URL}.Send(context.Background(), Message{RecordID: "r1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")

	err = WebhookTransport{}.Send(context.Background(), Message{})
	require.Error(t, err)
}

func TestLogTransport(t *testing.T) {
	require.NoError(t, LogTransport{}.Send(context.Background(), Message{RecordID: "r"}))
}
