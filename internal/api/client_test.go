package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/model"
)

func newTestBackend(t *testing.T) (*Client, *chi.Mux) {
	t.Helper()
	r := chi.NewRouter()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL, func() string { return "test-token" }, 25), r
}

func TestLogin(t *testing.T) {
	client, r := newTestBackend(t)
	r.Post("/auth/login", func(w http.ResponseWriter, req *http.Request) {
		var creds model.Credentials
		require.NoError(t, json.NewDecoder(req.Body).Decode(&creds))
		assert.Equal(t, "alice", creds.Username)
		json.NewEncoder(w).Encode(model.AuthResponse{Token: "jwt", UserID: "u1", Username: "alice"})
	})

	auth, err := client.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "jwt", auth.Token)
	assert.Equal(t, "u1", auth.UserID)
}

func TestBearerTokenSent(t *testing.T) {
	client, r := newTestBackend(t)
	var got string
	r.Get("/conversations/u1", func(w http.ResponseWriter, req *http.Request) {
		got = req.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]model.Room{{ID: "r1", Name: "general"}})
	})

	rooms, err := client.Rooms(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Bearer test-token", got)
}

func TestMessagesHistory(t *testing.T) {
	client, r := newTestBackend(t)
	r.Get("/conversations/{roomID}/messages", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "room-1", chi.URLParam(req, "roomID"))
		json.NewEncoder(w).Encode([]model.Message{
			{ID: "1", ChatRoomID: "room-1", Content: "first", Type: model.EventChat},
			{ID: "2", ChatRoomID: "room-1", Content: "second", Type: model.EventChat},
		})
	})

	msgs, err := client.Messages(context.Background(), "room-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
}

func TestPostMessageReturnsAssignedID(t *testing.T) {
	client, r := newTestBackend(t)
	r.Post("/messages", func(w http.ResponseWriter, req *http.Request) {
		var msg model.Message
		require.NoError(t, json.NewDecoder(req.Body).Decode(&msg))
		assert.NotEmpty(t, msg.ClientID)
		msg.ID = "42"
		json.NewEncoder(w).Encode(msg)
	})

	out, err := client.PostMessage(context.Background(), model.Message{
		ClientID: "c-1", ChatRoomID: "room-1", SenderID: "u1", Content: "hi", Type: model.EventChat,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", out.ID)
	assert.Equal(t, "hi", out.Content)
}

func TestUploadFileMultipart(t *testing.T) {
	client, r := newTestBackend(t)
	r.Post("/files/upload", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseMultipartForm(1<<20))
		assert.Equal(t, "u1", req.FormValue("userId"))
		assert.Equal(t, "room-1", req.FormValue("conversationId"))

		file, header, err := req.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "payload", string(data))
		assert.Equal(t, "doc.txt", header.Filename)

		json.NewEncoder(w).Encode(model.FileMetadata{
			FileID: "f1", FileName: "doc.txt", FileSize: int64(len(data)), FileType: "text/plain",
		})
	})

	meta, err := client.UploadFile(context.Background(),
		strings.NewReader("payload"), "doc.txt", "u1", "room-1", 7)
	require.NoError(t, err)
	assert.Equal(t, "f1", meta.FileID)
	assert.Equal(t, int64(7), meta.FileSize)
}

func TestUploadSizeCapCheckedBeforeSending(t *testing.T) {
	client, r := newTestBackend(t)
	called := false
	r.Post("/files/upload", func(w http.ResponseWriter, req *http.Request) { called = true })

	_, err := client.UploadFile(context.Background(),
		strings.NewReader("x"), "big.bin", "u1", "room-1", 26<<20)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.False(t, called, "no bytes should leave the client")
}

func TestFileMetadata(t *testing.T) {
	client, r := newTestBackend(t)
	r.Get("/files/metadata/{fileID}", func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(model.FileMetadata{
			FileID: chi.URLParam(req, "fileID"), FileName: "pic.png", FileType: "image/png",
		})
	})

	meta, err := client.FileMetadata(context.Background(), "f9")
	require.NoError(t, err)
	assert.Equal(t, "f9", meta.FileID)
	assert.Equal(t, "image/png", meta.FileType)
}

func TestDownload(t *testing.T) {
	client, r := newTestBackend(t)
	r.Get("/files/download/{fileID}", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("binary-content"))
	})

	rc, err := client.Download(context.Background(), "f1")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "binary-content", string(data))
}

func TestUnauthorizedIsFatalSentinel(t *testing.T) {
	client, r := newTestBackend(t)
	r.Get("/conversations/u1", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.Rooms(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestStatusErrorCarriesBody(t *testing.T) {
	client, r := newTestBackend(t)
	r.Get("/conversations/{roomID}/messages", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("backend down"))
	})

	_, err := client.Messages(context.Background(), "room-1")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "backend down", se.Body)
}
