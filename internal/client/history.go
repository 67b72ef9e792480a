package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/go-campuschat/internal/types"
)

// RequestError is a non-2xx response from the REST API.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// HistoryClient loads persisted messages and session credentials from the
// REST API. Failures are returned to the caller, which decides whether to
// retry.
type HistoryClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHistoryClient(baseURL string) *HistoryClient {
	return &HistoryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HistoryClient) SetToken(token string) {
	h.token = token
}

func (h *HistoryClient) Token() string {
	return h.token
}

// Login exchanges credentials for a session token and keeps it for later
// requests.
func (h *HistoryClient) Login(ctx context.Context, email, password string) (types.User, error) {
	var resp struct {
		Token string     `json:"token"`
		User  types.User `json:"user"`
	}

	body := map[string]string{"email": email, "password": password}
	if err := h.do(ctx, http.MethodPost, "/api/auth/login", nil, body, &resp); err != nil {
		return types.User{}, err
	}

	h.token = resp.Token
	return resp.User, nil
}

func (h *HistoryClient) Direct(ctx context.Context, peerId string, limit int) ([]types.ChatMessage, error) {
	q := url.Values{"peer_id": {peerId}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var messages []types.ChatMessage
	if err := h.do(ctx, http.MethodGet, "/api/messages/direct", q, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (h *HistoryClient) Room(ctx context.Context, roomId string, limit int) ([]types.RoomMessage, error) {
	q := url.Values{"room_id": {roomId}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var messages []types.RoomMessage
	if err := h.do(ctx, http.MethodGet, "/api/messages/room", q, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (h *HistoryClient) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := h.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, &reqBody)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &RequestError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		return &RequestError{StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}

	return nil
}
