// Package httpasr talks to the recognition service: one HTTP endpoint per
// model exposing transcribe and transcribe-with-metrics routes.
package httpasr

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

	"github.com/harunnryd/parlato/pkg/capture"
	"github.com/harunnryd/parlato/pkg/errorsx"
	"github.com/harunnryd/parlato/pkg/recognizer"
	"github.com/harunnryd/parlato/pkg/resilience"
)

// Recognizer posts clips to `{base}/{model}/transcribe`. A circuit breaker
// holds off further requests after repeated rate limit responses.
type Recognizer struct {
	baseURL string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// Options configures an HTTP recognizer.
type Options struct {
	Client  *http.Client
	Breaker *resilience.CircuitBreaker
	Logger  *slog.Logger
}

// New builds a recognizer rooted at baseURL.
func New(baseURL string, opts Options) *Recognizer {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recognizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		breaker: breaker,
		logger:  logger,
	}
}

func (r *Recognizer) Name() string { return "httpasr" }

// transcribeResponse tolerates both response dialects: older models report
// `transcript`, newer ones `text`.
type transcribeResponse struct {
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
}

func (t transcribeResponse) transcription() string {
	if t.Transcript != "" {
		return t.Transcript
	}
	return t.Text
}

type metricsResponse struct {
	Text          string  `json:"text"`
	InferenceTime float64 `json:"inference_time"`
	Metrics       struct {
		WER           float64 `json:"wer"`
		Substitutions int     `json:"word_substitutions"`
		Insertions    int     `json:"word_insertions"`
		Deletions     int     `json:"word_deletions"`
	} `json:"metrics"`
}

func (r *Recognizer) Transcribe(ctx context.Context, model string, clip capture.Clip) (recognizer.Result, error) {
	started := time.Now()
	body, err := r.post(ctx, model, "transcribe", clip, nil)
	if err != nil {
		return recognizer.Result{}, err
	}
	var decoded transcribeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return recognizer.Result{}, errorsx.Wrap(fmt.Errorf("decode transcription response: %w", err), errorsx.ReasonRecognition)
	}
	text := decoded.transcription()
	if text == "" {
		return recognizer.Result{}, errorsx.New(errorsx.ReasonRecognition,
			"model %s returned an empty transcription", model)
	}
	return recognizer.Result{Text: text, Inference: time.Since(started)}, nil
}

func (r *Recognizer) TranscribeWithMetrics(ctx context.Context, model string, clip capture.Clip, reference string) (recognizer.Metrics, error) {
	body, err := r.post(ctx, model, "transcribe-with-metrics", clip, map[string]string{
		"reference_text": reference,
	})
	if err != nil {
		return recognizer.Metrics{}, err
	}
	var decoded metricsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return recognizer.Metrics{}, errorsx.Wrap(fmt.Errorf("decode metrics response: %w", err), errorsx.ReasonRecognition)
	}
	return recognizer.Metrics{
		Text:          decoded.Text,
		Inference:     time.Duration(decoded.InferenceTime * float64(time.Second)),
		WER:           decoded.Metrics.WER,
		Substitutions: decoded.Metrics.Substitutions,
		Insertions:    decoded.Metrics.Insertions,
		Deletions:     decoded.Metrics.Deletions,
	}, nil
}

// post uploads the clip as the `file` multipart part plus any extra fields
// and returns the raw response body.
func (r *Recognizer) post(ctx context.Context, model, route string, clip capture.Clip, fields map[string]string) ([]byte, error) {
	if !r.breaker.Allow() {
		return nil, errorsx.New(errorsx.ReasonRecognition,
			"recognition service rate limited, retry in %s", r.breaker.Remaining().Round(time.Second))
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, clip.FileName))
	header.Set("Content-Type", clip.MIME)
	part, err := form.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(clip.Data); err != nil {
		return nil, err
	}
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return nil, err
		}
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s/%s", r.baseURL, url.PathEscape(model), route)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("recognition request: %w", err), errorsx.ReasonRecognition)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusTooManyRequests {
		rl := resilience.RateLimitError{Provider: r.Name(), Message: strings.TrimSpace(string(body))}
		r.breaker.OnError(rl)
		return nil, errorsx.Wrap(rl, errorsx.ReasonRecognition)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.logger.Error("recognition_failed",
			slog.String("model", model),
			slog.Int("status", resp.StatusCode))
		return nil, errorsx.New(errorsx.ReasonRecognition,
			"model %s returned %d: %s", model, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	r.breaker.OnSuccess()
	return body, nil
}

var _ recognizer.MetricsRecognizer = (*Recognizer)(nil)
