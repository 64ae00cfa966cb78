package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/estimatehq/followup-engine/internal/model"
)

type Provider interface {
	Name() string
	Supports(ch model.Channel) bool
	Ready() bool
	Acquire() bool
	Send(ctx context.Context, ch model.Channel, to, body string) (string, error)
}

// HTTPProvider POSTs {channel,to,body} to a messaging vendor and
// expects {"message_id": "..."} back.
type HTTPProvider struct {
	name     string
	channels map[model.Channel]bool
	baseURL  string
	sendPath string
	client   *http.Client
	br       *MicroBreaker
}

func NewHTTPProvider(
	name, baseURL, sendPath string,
	channels []model.Channel,
	timeoutMs, failThreshold, openForMs int,
) *HTTPProvider {
	if timeoutMs <= 0 {
		timeoutMs = 30000
	}

	if failThreshold <= 0 {
		failThreshold = 3
	}

	if openForMs <= 0 {
		openForMs = 15000
	}

	chs := make(map[model.Channel]bool, len(channels))
	for _, c := range channels {
		chs[c] = true
	}

	return &HTTPProvider{
		name:     name,
		channels: chs,
		baseURL:  baseURL,
		sendPath: sendPath,
		client:   &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:       NewMicroBreaker(name, failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

var _ Provider = (*HTTPProvider)(nil)

func (p *HTTPProvider) Name() string                   { return p.name }
func (p *HTTPProvider) Supports(ch model.Channel) bool { return p.channels[ch] }
func (p *HTTPProvider) Ready() bool                    { return p.br.Ready() }
func (p *HTTPProvider) Acquire() bool                  { return p.br.TryAcquire() }

func (p *HTTPProvider) Send(ctx context.Context, ch model.Channel, to, body string) (string, error) {
	id, err := p.post(ctx, ch, to, body)
	if err != nil {
		p.br.OnFailure()
		return "", err
	}

	p.br.OnSuccess()

	return id, nil
}

type sendRequest struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Body    string `json:"body"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

func (p *HTTPProvider) post(ctx context.Context, ch model.Channel, to, body string) (string, error) {
	b, _ := json.Marshal(sendRequest{Channel: ch.String(), To: to, Body: body})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.sendPath, bytes.NewReader(b))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return "", err
	}

	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return "", fmt.Errorf("provider=%s channel=%s status=%d", p.name, ch, res.StatusCode)
	}

	var sr sendResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("provider=%s decode response: %w", p.name, err)
	}

	return sr.MessageID, nil
}
