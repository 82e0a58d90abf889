package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/harunnryd/parlato/pkg/chat"
	"github.com/harunnryd/parlato/pkg/errorsx"
	"github.com/harunnryd/parlato/pkg/resilience"
)

// RemoteStore persists chats through the HTTP chat service. Reads retry on
// transient failures; mutations are sent once.
type RemoteStore struct {
	baseURL string
	token   string
	client  *http.Client
	retry   resilience.RetryPolicy
	logger  *slog.Logger
}

// RemoteOptions configures a remote store.
type RemoteOptions struct {
	// Token is sent as a bearer credential when non-empty.
	Token  string
	Client *http.Client
	Retry  resilience.RetryPolicy
	Logger *slog.Logger
}

// NewRemoteStore builds a store rooted at baseURL (no trailing slash
// required).
func NewRemoteStore(baseURL string, opts RemoteOptions) *RemoteStore {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	retry := opts.Retry
	if retry.MaxRetries == 0 {
		retry = resilience.NewRetryPolicy(2, 200*time.Millisecond)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   opts.Token,
		client:  client,
		retry:   retry,
		logger:  logger,
	}
}

func (r *RemoteStore) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	return req, nil
}

// doJSON executes the request and decodes a JSON body into out (skipped when
// out is nil). A 404 is surfaced as errNotFound for the caller to map.
var errNotFound = errorsx.New(errorsx.ReasonNotFound, "resource not found")

func (r *RemoteStore) doJSON(req *http.Request, out any) error {
	resp, err := r.client.Do(req)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("chat service request: %w", err), errorsx.ReasonPersistence)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errorsx.New(errorsx.ReasonPersistence,
			"chat service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errorsx.Wrap(fmt.Errorf("decode chat service response: %w", err), errorsx.ReasonPersistence)
	}
	return nil
}

func (r *RemoteStore) Create(ctx context.Context, title string, first *NewMessage) (*chat.Chat, error) {
	payload, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return nil, err
	}
	req, err := r.newRequest(ctx, http.MethodPost, "/chats", bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, err
	}
	var created chat.Chat
	if err := r.doJSON(req, &created); err != nil {
		return nil, err
	}
	r.logger.Info("chat_created", slog.String("chat_id", created.ID))
	if first != nil {
		if _, err := r.AppendMessage(ctx, created.ID, *first); err != nil {
			return nil, err
		}
		return r.Get(ctx, created.ID)
	}
	return &created, nil
}

func (r *RemoteStore) Get(ctx context.Context, chatID string) (*chat.Chat, error) {
	var found *chat.Chat
	err := r.retry.Do(ctx, func() error {
		req, err := r.newRequest(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID), nil, "")
		if err != nil {
			return err
		}
		var c chat.Chat
		if err := r.doJSON(req, &c); err != nil {
			return err
		}
		found = &c
		return nil
	})
	if err != nil {
		if errorsx.HasReason(err, errorsx.ReasonNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return found, nil
}

func (r *RemoteStore) List(ctx context.Context) ([]*chat.Chat, error) {
	var chats []*chat.Chat
	err := r.retry.Do(ctx, func() error {
		req, err := r.newRequest(ctx, http.MethodGet, "/chats", nil, "")
		if err != nil {
			return err
		}
		chats = nil
		return r.doJSON(req, &chats)
	})
	if err != nil {
		return nil, err
	}
	return chats, nil
}

// AppendMessage posts the message as a multipart form. Audio travels as the
// `audio` part carrying its own content type.
func (r *RemoteStore) AppendMessage(ctx context.Context, chatID string, msg NewMessage) (*chat.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if msg.Audio != nil {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="audio"; filename=%q`, msg.Audio.Name))
		header.Set("Content-Type", msg.Audio.MIME)
		part, err := form.CreatePart(header)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(msg.Audio.Data); err != nil {
			return nil, err
		}
	}
	if msg.ModelName != "" {
		if err := form.WriteField("model", msg.ModelName); err != nil {
			return nil, err
		}
	}
	if msg.Content != "" {
		if err := form.WriteField("content", msg.Content); err != nil {
			return nil, err
		}
	}
	if err := form.WriteField("type", string(msg.Type)); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := r.newRequest(ctx, http.MethodPost,
		"/chats/"+url.PathEscape(chatID)+"/messages", &body, form.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var stored chat.Message
	if err := r.doJSON(req, &stored); err != nil {
		if errorsx.HasReason(err, errorsx.ReasonNotFound) {
			return nil, errorsx.New(errorsx.ReasonNotFound, "chat %s not found", chatID)
		}
		return nil, err
	}
	return &stored, nil
}

func (r *RemoteStore) Rename(ctx context.Context, chatID, title string) (*chat.Chat, error) {
	payload, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return nil, err
	}
	req, err := r.newRequest(ctx, http.MethodPut, "/chats/"+url.PathEscape(chatID), bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, err
	}
	var updated chat.Chat
	if err := r.doJSON(req, &updated); err != nil {
		if errorsx.HasReason(err, errorsx.ReasonNotFound) {
			return nil, errorsx.New(errorsx.ReasonNotFound, "chat %s not found", chatID)
		}
		return nil, err
	}
	return &updated, nil
}

func (r *RemoteStore) Delete(ctx context.Context, chatID string) error {
	req, err := r.newRequest(ctx, http.MethodDelete, "/chats/"+url.PathEscape(chatID), nil, "")
	if err != nil {
		return err
	}
	if err := r.doJSON(req, nil); err != nil {
		if errorsx.HasReason(err, errorsx.ReasonNotFound) {
			return errorsx.New(errorsx.ReasonNotFound, "chat %s not found", chatID)
		}
		return err
	}
	return nil
}

func (r *RemoteStore) Clear(ctx context.Context) error {
	req, err := r.newRequest(ctx, http.MethodDelete, "/chats", nil, "")
	if err != nil {
		return err
	}
	return r.doJSON(req, nil)
}

// LoadAudio fetches stored audio back from the chat service.
func (r *RemoteStore) LoadAudio(ctx context.Context, audioPath string) ([]byte, string, error) {
	path := audioPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var (
		data []byte
		mime string
	)
	err := r.retry.Do(ctx, func() error {
		req, err := r.newRequest(ctx, http.MethodGet, path, nil, "")
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return errorsx.Wrap(fmt.Errorf("fetch audio: %w", err), errorsx.ReasonPersistence)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return errNotFound
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return errorsx.New(errorsx.ReasonPersistence, "audio fetch returned %d", resp.StatusCode)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		mime = resp.Header.Get("Content-Type")
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return data, mime, nil
}

var (
	_ Store       = (*RemoteStore)(nil)
	_ AudioLoader = (*RemoteStore)(nil)
)
