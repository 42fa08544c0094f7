package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Xunjie Text-to-Speech client
// Speaks the hudunsoft alivoice protocol: a form-encoded initiate call that
// either returns a download link immediately or defers to a task that must
// be polled, followed by a plain GET of the finished audio.
// ---------------------------------------------------------------------------

const (
	DefaultXunjieBaseURL = "https://user.api.hudunsoft.com/v1/alivoice"

	// Fixed protocol constants identifying this client to the backend.
	xunjieClientName  = "web"
	xunjieSource      = "335"
	xunjieSoftVersion = "V4.4.0.0"

	// The backend only ever hands back MP3.
	xunjieAudioFormat = "mp3"

	// codeDeferred means synthesis was queued server-side; poll the task.
	codeDeferred = "2105"

	// titleRunes is how much of the text is sent as the track title.
	titleRunes = 10

	DefaultPollInterval = 5 * time.Second
	DefaultPollAttempts = 12
	DefaultCallTimeout  = 30 * time.Second
)

// ErrSynthesisTimeout is returned when a deferred synthesis task doesn't
// complete within the polling ceiling. Distinct from RemoteError so callers
// can tell "backend said no" from "backend never finished".
var ErrSynthesisTimeout = errors.New("synthesis task timed out")

// RemoteError is a classified failure from the backend: a bad HTTP status,
// an unexpected result code, or a payload missing required fields.
type RemoteError struct {
	Op      string // "initiate", "poll", or "download"
	Status  int    // HTTP status, 0 when the HTTP exchange itself succeeded
	Code    string // backend result code, when present
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("xunjie %s failed with status %d: %s", e.Op, e.Status, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("xunjie %s error (code %s): %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("xunjie %s error: %s", e.Op, e.Message)
}

// SynthesisRequest holds everything one synthesis call needs.
// Credential doubles as both the device identity and the access token —
// a deliberate simplification of the upstream protocol.
type SynthesisRequest struct {
	Text       string
	Voice      string
	Rate       int
	Pitch      int
	Volume     int
	Credential string
	Emotion    string
}

// XunjieClient executes the two-phase synthesis protocol and downloads the
// resulting audio to a local path.
type XunjieClient struct {
	baseURL      string
	pollInterval time.Duration
	pollAttempts int
	client       *http.Client
}

// NewXunjieClient creates a client for the given backend base URL.
// Zero values for the timing parameters fall back to the protocol defaults
// (30s per call, 12 polls at 5s — a ~60s ceiling on deferred synthesis).
func NewXunjieClient(baseURL string, callTimeout, pollInterval time.Duration, pollAttempts int) *XunjieClient {
	if baseURL == "" {
		baseURL = DefaultXunjieBaseURL
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if pollAttempts <= 0 {
		pollAttempts = DefaultPollAttempts
	}
	return &XunjieClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
		client:       &http.Client{Timeout: callTimeout},
	}
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// resultCode tolerates both encodings the backend emits: success comes back
// as the number 0, the deferred marker as the string "2105".
type resultCode string

func (c *resultCode) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	*c = resultCode(s)
	return nil
}

func (c resultCode) IsOK() bool {
	return c == "0"
}

type xunjieResponse struct {
	Code    resultCode `json:"code"`
	Message string     `json:"message"`
	Data    struct {
		IsComplete bool   `json:"is_complete"`
		FileLink   string `json:"file_link"`
		TaskID     string `json:"task_id"`
	} `json:"data"`
}

// ---------------------------------------------------------------------------
// Protocol
// ---------------------------------------------------------------------------

// Synthesize runs text-to-speech for req and writes the resulting audio to
// destPath. Exactly one of {file written, classified error} happens; the
// destination is only written after a confirmed 2xx download.
func (c *XunjieClient) Synthesize(ctx context.Context, req SynthesisRequest, destPath string) error {
	form := url.Values{
		"client":       {xunjieClientName},
		"source":       {xunjieSource},
		"soft_version": {xunjieSoftVersion},
		"device_id":    {req.Credential},
		"text":         {req.Text},
		"bgid":         {"0"},
		"bg_volume":    {"5"},
		"format":       {xunjieAudioFormat},
		"voice":        {req.Voice},
		"volume":       {strconv.Itoa(req.Volume)},
		"speech_rate":  {strconv.Itoa(req.Rate)},
		"pitch_rate":   {strconv.Itoa(req.Pitch)},
		"title":        {titleFor(req.Text)},
		"token":        {req.Credential},
		"bg_url":       {""},
		"emotion":      {req.Emotion},
	}

	log.Printf("[Xunjie] Requesting synthesis (voice=%s, rate=%d, pitch=%d, volume=%d, textLen=%d)",
		req.Voice, req.Rate, req.Pitch, req.Volume, len(req.Text))

	resp, err := c.postForm(ctx, "/texttoaudio", form)
	if err != nil {
		return err
	}

	var fileLink string
	switch {
	case resp.Code == codeDeferred && resp.Data.TaskID != "":
		log.Printf("[Xunjie] Synthesis deferred, polling task %s", resp.Data.TaskID)
		fileLink, err = c.pollTask(ctx, req.Credential, resp.Data.TaskID)
		if err != nil {
			return err
		}

	case !resp.Code.IsOK():
		msg := resp.Message
		if msg == "" {
			msg = "unknown error"
		}
		return &RemoteError{Op: "initiate", Code: string(resp.Code), Message: msg}

	case !resp.Data.IsComplete:
		return &RemoteError{Op: "initiate", Message: "audio generation not complete"}

	default:
		fileLink = resp.Data.FileLink
	}

	if fileLink == "" {
		return &RemoteError{Op: "initiate", Message: "no file link in response"}
	}

	return c.download(ctx, fileLink, destPath)
}

// pollTask queries the task status endpoint until the backend reports a
// completed task with a download link, up to the configured attempt ceiling.
func (c *XunjieClient) pollTask(ctx context.Context, credential, taskID string) (string, error) {
	form := url.Values{
		"client":       {xunjieClientName},
		"source":       {xunjieSource},
		"soft_version": {xunjieSoftVersion},
		"device_id":    {credential},
		"taskId":       {taskID},
	}

	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		resp, err := c.postForm(ctx, "/textTaskInfo", form)
		if err != nil {
			return "", err
		}

		if resp.Code.IsOK() && resp.Data.IsComplete && resp.Data.FileLink != "" {
			log.Printf("[Xunjie] Task %s completed after %d polls", taskID, attempt)
			return resp.Data.FileLink, nil
		}

		if attempt < c.pollAttempts {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("synthesis cancelled while polling: %w", ctx.Err())
			case <-time.After(c.pollInterval):
			}
		}
	}

	return "", fmt.Errorf("task %s not complete after %d polls: %w", taskID, c.pollAttempts, ErrSynthesisTimeout)
}

// postForm issues one form-encoded call and decodes the JSON envelope.
func (c *XunjieClient) postForm(ctx context.Context, path string, form url.Values) (*xunjieResponse, error) {
	op := "initiate"
	if path == "/textTaskInfo" {
		op = "poll"
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("xunjie %s request failed: %w", op, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, &RemoteError{Op: op, Status: httpResp.StatusCode, Message: truncate(string(body), 200)}
	}

	var resp xunjieResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w (body: %s)", op, err, truncate(string(body), 200))
	}

	return &resp, nil
}

// download fetches the finished audio and writes it to destPath.
func (c *XunjieClient) download(ctx context.Context, fileLink, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", fileLink, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("audio download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &RemoteError{Op: "download", Status: resp.StatusCode, Message: "failed to download audio file"}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read audio body: %w", err)
	}

	if err := os.WriteFile(destPath, audio, 0644); err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	log.Printf("[Xunjie] Audio downloaded (%d bytes) to %s", len(audio), destPath)
	return nil
}

// titleFor takes the leading runes of the text as the backend track title.
func titleFor(text string) string {
	runes := []rune(text)
	if len(runes) > titleRunes {
		return string(runes[:titleRunes])
	}
	return text
}

// truncate limits a string to maxLen characters for log and error output.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
