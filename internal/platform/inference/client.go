// Package inference calls the hosted chest X-ray classification model.
package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotConfigured = errors.New("inference API is not configured")
	ErrUnavailable   = errors.New("inference API unavailable")
	ErrMalformed     = errors.New("inference API returned no usable prediction")
)

type Prediction struct {
	Class      string  `json:"class"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
}

type Result struct {
	Predictions []Prediction
	// ProcessingTime is the wall time of the call in seconds.
	ProcessingTime float64
	// Raw is the response body with processing_time added.
	Raw json.RawMessage
}

// Classifier is the boundary the diagnosis engine depends on.
type Classifier interface {
	Classify(ctx context.Context, fileName string, image io.Reader) (*Result, error)
}

type Config struct {
	BaseURL string
	APIKey  string
	ModelID string
	Timeout time.Duration
}

// Client talks to a Roboflow-style classification endpoint:
// POST {base}/{model}?api_key=... with the base64 image as the body.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

func (c *Client) Configured() bool {
	return c.cfg.APIKey != "" && c.cfg.ModelID != "" && c.cfg.BaseURL != ""
}

func (c *Client) endpoint() string {
	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.Trim(c.cfg.ModelID, "/") + "?" + q.Encode()
}

func (c *Client) Classify(ctx context.Context, fileName string, image io.Reader) (*Result, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	data, err := io.ReadAll(image)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", fileName, err)
	}
	body := base64.StdEncoding.EncodeToString(data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, redact(err, c.cfg.APIKey))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	elapsed := c.now().Sub(start).Seconds()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, snippet(raw))
	}
	return parseResponse(raw, elapsed)
}

// parseResponse accepts both the single-label shape
// {"predictions": [{"class": ..., "class_id": ..., "confidence": ...}]}
// and the multi-label shape {"predictions": {"NORMAL": {"confidence": ...}}}.
func parseResponse(raw []byte, elapsed float64) (*Result, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	predRaw, ok := envelope["predictions"]
	if !ok {
		return nil, fmt.Errorf("%w: missing predictions", ErrMalformed)
	}

	var preds []Prediction
	if err := json.Unmarshal(predRaw, &preds); err != nil {
		var byClass map[string]struct {
			ClassID    int     `json:"class_id"`
			Confidence float64 `json:"confidence"`
		}
		if err2 := json.Unmarshal(predRaw, &byClass); err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		for name, p := range byClass {
			preds = append(preds, Prediction{Class: name, ClassID: p.ClassID, Confidence: p.Confidence})
		}
		// Map order is random; sort so ties resolve the same way every call.
		sort.Slice(preds, func(i, j int) bool { return preds[i].Class < preds[j].Class })
	}
	if len(preds) == 0 {
		return nil, fmt.Errorf("%w: empty predictions", ErrMalformed)
	}

	envelope["processing_time"], _ = json.Marshal(elapsed)
	annotated, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return &Result{Predictions: preds, ProcessingTime: elapsed, Raw: annotated}, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// redact strips the API key from transport errors, which embed the URL.
func redact(err error, key string) string {
	msg := err.Error()
	if key == "" {
		return msg
	}
	return strings.ReplaceAll(msg, key, "REDACTED")
}
