package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// SlackOptions configures NewSlackSink.
type SlackOptions struct {
	BaseURL string
	Token   string
	Channel string
	Timeout time.Duration
	Retries int
}

// SlackSink posts entries to a Slack channel through chat.postMessage.
type SlackSink struct {
	client  *resty.Client
	channel string
	log     *zap.Logger
}

type postMessageRequest struct {
	Channel string  `json:"channel"`
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NewSlackSink creates a Slack sink.
func NewSlackSink(opts SlackOptions, log *zap.Logger) (*SlackSink, error) {
	if opts.Token == "" {
		return nil, errors.New("slack token is required")
	}
	if opts.Channel == "" {
		return nil, errors.New("slack channel is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://slack.com/api"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetAuthToken(opts.Token).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return resp != nil && resp.StatusCode() == 429
		})

	return &SlackSink{
		client:  client,
		channel: opts.Channel,
		log:     log,
	}, nil
}

// Name implements Sink.
func (s *SlackSink) Name() string {
	return "slack"
}

// Send implements Sink.
func (s *SlackSink) Send(ctx context.Context, e Entry) error {
	payload := postMessageRequest{
		Channel: s.channel,
		Text:    e.Text(),
		Blocks:  e.Blocks(),
	}

	if ce := s.log.Check(zap.DebugLevel, "Posting blocks to Slack"); ce != nil {
		raw, _ := json.MarshalIndent(payload, "", "  ")
		ce.Write(zap.ByteString("payload", raw))
	}

	var out postMessageResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json; charset=utf-8").
		SetBody(payload).
		SetResult(&out).
		Post("/chat.postMessage")
	if err != nil {
		return fmt.Errorf("couldn't log blocks: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("couldn't log blocks: slack returned %s", resp.Status())
	}
	if !out.OK {
		return fmt.Errorf("couldn't log blocks: slack error %q", out.Error)
	}
	return nil
}
