package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/escrowly/chat-relay-go/internal/errors"
	"github.com/escrowly/chat-relay-go/internal/model"
)

// HTTPSessionAPI implements SessionAPI against the relay's REST surface.
type HTTPSessionAPI struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSessionAPI(baseURL string) *HTTPSessionAPI {
	return &HTTPSessionAPI{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *HTTPSessionAPI) EnsureSession(ctx context.Context, kind model.SessionKind, identity string, counterpart *string) (*model.Session, error) {
	body := map[string]any{
		"kind":      kind,
		"userEmail": identity,
	}
	if counterpart != nil {
		body["peerEmail"] = *counterpart
	}

	var session model.Session
	if err := a.post(ctx, "/api/chat/sessions", identity, body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (a *HTTPSessionAPI) FetchHistory(ctx context.Context, sessionID string) ([]model.Message, error) {
	var out struct {
		Messages []model.Message `json:"messages"`
	}
	if err := a.get(ctx, "/api/chat/sessions/"+sessionID+"/messages", &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (a *HTTPSessionAPI) Clear(ctx context.Context, sessionID, requestedBy string) (string, error) {
	var out struct {
		NewSessionID string `json:"newSessionId"`
	}
	err := a.post(ctx, "/api/chat/sessions/"+sessionID+"/clear", requestedBy,
		map[string]any{"requestedBy": requestedBy}, &out)
	if err != nil {
		return "", err
	}
	return out.NewSessionID, nil
}

func (a *HTTPSessionAPI) post(ctx context.Context, path, identity string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		req.Header.Set("X-Chat-Identity", identity)
	}

	return a.do(req, out)
}

func (a *HTTPSessionAPI) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return err
	}
	return a.do(req, out)
}

func (a *HTTPSessionAPI) do(req *http.Request, out any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string              `json:"error"`
			Code  apperrors.ErrorCode `json:"code"`
		}
		if json.Unmarshal(raw, &errBody) == nil && errBody.Code != "" {
			return apperrors.New(errBody.Code, errBody.Error)
		}
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
