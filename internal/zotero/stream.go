package zotero

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// DefaultStreamURL is the Zotero streaming API endpoint.
const DefaultStreamURL = "wss://stream.zotero.org"

// Streaming API event names.
const (
	EventConnected            = "connected"
	EventSubscriptionsCreated = "subscriptionsCreated"
	EventTopicAdded           = "topicAdded"
	EventTopicRemoved         = "topicRemoved"
	EventTopicUpdated         = "topicUpdated"
)

// defaultStreamRetry is used when the server does not advertise a delay.
const defaultStreamRetry = 10 * time.Second

// StreamEvent is one message from the streaming API.
type StreamEvent struct {
	Event   string            `json:"event"`
	Topic   string            `json:"topic,omitempty"`
	Version int64             `json:"version,omitempty"`
	Retry   int64             `json:"retry,omitempty"` // milliseconds
	Errors  []subscriptionErr `json:"errors,omitempty"`
}

type subscriptionErr struct {
	Topic string `json:"topic,omitempty"`
	Error string `json:"error"`
}

type createSubscriptions struct {
	Action        string         `json:"action"`
	Subscriptions []subscription `json:"subscriptions"`
}

type subscription struct {
	APIKey string `json:"apiKey"`
}

// StreamListener subscribes to library change notifications for one API
// key and reconnects after the server-advertised delay when the
// connection drops.
type StreamListener struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	// sleepFunc is called to wait between reconnects. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewStreamListener creates a listener for apiKey on streamURL.
func NewStreamListener(streamURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *StreamListener {
	if logger == nil {
		logger = slog.Default()
	}

	if streamURL == "" {
		streamURL = DefaultStreamURL
	}

	return &StreamListener{
		url:        streamURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Run delivers topic events to handle until ctx is canceled. Connection
// failures are logged and retried; Run returns only ctx's error.
func (l *StreamListener) Run(ctx context.Context, handle func(StreamEvent)) error {
	for {
		retry, err := l.session(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.logger.Warn("stream disconnected, reconnecting",
			slog.Duration("retry", retry),
			slog.String("error", Redact(errString(err), l.apiKey)),
		)

		if sleepErr := l.sleepFunc(ctx, retry); sleepErr != nil {
			return sleepErr
		}
	}
}

// session runs one connection until it fails. It returns the reconnect
// delay the server last advertised.
func (l *StreamListener) session(ctx context.Context, handle func(StreamEvent)) (time.Duration, error) {
	retry := defaultStreamRetry

	conn, _, err := websocket.Dial(ctx, l.url, &websocket.DialOptions{HTTPClient: l.httpClient})
	if err != nil {
		return retry, fmt.Errorf("zotero: dialing stream: %w", err)
	}
	defer conn.CloseNow()

	var hello StreamEvent
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		return retry, fmt.Errorf("zotero: reading stream greeting: %w", err)
	}

	if hello.Event != EventConnected {
		return retry, fmt.Errorf("%w: stream greeting %q", ErrMalformedResponse, hello.Event)
	}

	if hello.Retry > 0 {
		retry = time.Duration(hello.Retry) * time.Millisecond
	}

	msg := createSubscriptions{
		Action:        "createSubscriptions",
		Subscriptions: []subscription{{APIKey: l.apiKey}},
	}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return retry, fmt.Errorf("zotero: creating subscriptions: %w", err)
	}

	l.logger.Info("stream connected", slog.String("url", l.url))

	for {
		var ev StreamEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return retry, fmt.Errorf("zotero: reading stream: %w", err)
		}

		switch ev.Event {
		case EventSubscriptionsCreated:
			if len(ev.Errors) > 0 {
				conn.Close(websocket.StatusNormalClosure, "subscription rejected")
				return retry, fmt.Errorf("%w: subscription: %s", ErrAuthorizationRejected, ev.Errors[0].Error)
			}

			l.logger.Debug("stream subscriptions created")
		case EventTopicAdded, EventTopicRemoved, EventTopicUpdated:
			l.logger.Debug("stream event",
				slog.String("event", ev.Event),
				slog.String("topic", ev.Topic),
				slog.Int64("version", ev.Version),
			)

			handle(ev)
		default:
			l.logger.Debug("ignoring stream event", slog.String("event", ev.Event))
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) {
		return "canceled"
	}

	return err.Error()
}
