// Package api is the REST client for the chat backend. All failures surface
// synchronously to the caller; nothing is retried here.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/chatsync/internal/model"
)

// ErrUnauthorized marks a 401/403: the credential is invalid or expired.
// Fatal for the current session; the session holder must re-authenticate.
var ErrUnauthorized = errors.New("api: unauthorized")

// ErrFileTooLarge is returned before any bytes leave the client.
var ErrFileTooLarge = errors.New("api: file exceeds upload limit")

// StatusError is any other non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Code, e.Body)
}

const (
	requestTimeout = 10 * time.Second
	uploadTimeout  = 60 * time.Second
)

// Client calls the chat backend. Token is read per request so a refreshed
// credential applies without rebuilding the client.
type Client struct {
	baseURL    string
	token      func() string
	httpClient *http.Client
	uploader   *http.Client
	maxUpload  int64
}

// New creates a client. maxUploadMB <= 0 disables the client-side size cap.
func New(baseURL string, token func() string, maxUploadMB int) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: requestTimeout},
		uploader:   &http.Client{Timeout: uploadTimeout},
		maxUpload:  int64(maxUploadMB) << 20,
	}
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, username, password string) (model.AuthResponse, error) {
	var out model.AuthResponse
	err := c.doJSON(ctx, http.MethodPost, "/auth/login",
		model.Credentials{Username: username, Password: password}, &out)
	return out, err
}

// Register creates an account and returns its first session token.
func (c *Client) Register(ctx context.Context, creds model.Credentials) (model.AuthResponse, error) {
	var out model.AuthResponse
	err := c.doJSON(ctx, http.MethodPost, "/auth/register", creds, &out)
	return out, err
}

// Rooms lists the user's conversations.
func (c *Client) Rooms(ctx context.Context, userID string) ([]model.Room, error) {
	var out []model.Room
	err := c.doJSON(ctx, http.MethodGet, "/conversations/"+userID, nil, &out)
	return out, err
}

// CreateRoom creates a conversation; the returned ID is stable thereafter.
func (c *Client) CreateRoom(ctx context.Context, req model.CreateRoomRequest) (model.Room, error) {
	var out model.Room
	err := c.doJSON(ctx, http.MethodPost, "/conversations", req, &out)
	return out, err
}

// Messages fetches the time-ordered history of one conversation.
func (c *Client) Messages(ctx context.Context, roomID string) ([]model.Message, error) {
	var out []model.Message
	err := c.doJSON(ctx, http.MethodGet, "/conversations/"+roomID+"/messages", nil, &out)
	return out, err
}

// PostMessage persists a message directly, bypassing the broker. The
// response carries the backend-assigned ID.
func (c *Client) PostMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	var out model.Message
	err := c.doJSON(ctx, http.MethodPost, "/messages", msg, &out)
	return out, err
}

// FileMetadata fetches one attachment's metadata.
func (c *Client) FileMetadata(ctx context.Context, fileID string) (model.FileMetadata, error) {
	var out model.FileMetadata
	err := c.doJSON(ctx, http.MethodGet, "/files/metadata/"+fileID, nil, &out)
	return out, err
}

// Download streams an attachment's content. The caller closes the reader.
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/download/"+fileID, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	resp, err := c.uploader.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

// UploadFile sends one attachment as multipart form data (fields: file,
// userId, conversationId). size is checked against the configured cap before
// any bytes are read.
func (c *Client) UploadFile(ctx context.Context, r io.Reader, filename, userID, roomID string, size int64) (model.FileMetadata, error) {
	var out model.FileMetadata
	if c.maxUpload > 0 && size > c.maxUpload {
		return out, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, size)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return out, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return out, err
	}
	if err := mw.WriteField("userId", userID); err != nil {
		return out, err
	}
	if err := mw.WriteField("conversationId", roomID); err != nil {
		return out, err
	}
	if err := mw.Close(); err != nil {
		return out, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/upload", &buf)
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.uploader.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return out, statusError(resp)
	}
	return out, json.NewDecoder(resp.Body).Decode(&out)
}

func (c *Client) authorize(req *http.Request) {
	if c.token == nil {
		return
	}
	if t := c.token(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}
