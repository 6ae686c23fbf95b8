package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/spotsync/client/internal/observability"
	"github.com/spotsync/client/internal/transport"
)

// changeEvent is the authority's change-feed message.
type changeEvent struct {
	Type string `json:"type"`
}

// Watcher listens on the authority's websocket change feed and
// triggers a reconciliation pass when the server reports changes. A
// successful (re)connect also triggers a pass, which doubles as the
// connectivity-regained signal after the network was down.
type Watcher struct {
	wsURL  string
	creds  *transport.CredentialStore
	engine *Engine
	log    *observability.Logger

	backoffMin time.Duration
	backoffMax time.Duration
}

// NewWatcher creates a watcher for the given authority base URL.
func NewWatcher(baseURL string, creds *transport.CredentialStore, engine *Engine) *Watcher {
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/api/ws"
	return &Watcher{
		wsURL:      wsURL,
		creds:      creds,
		engine:     engine,
		log:        observability.GetLogger(),
		backoffMin: time.Second,
		backoffMax: time.Minute,
	}
}

// Run connects and listens until ctx is cancelled, redialing with
// exponential backoff. A successful connection resets the backoff so a
// long-lived feed that drops redials promptly.
func (w *Watcher) Run(ctx context.Context) {
	backoff := w.backoffMin
	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := w.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.log.Debugf("change feed disconnected: %v", err)
		}
		if connected {
			backoff = w.backoffMin
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if !connected {
			backoff *= 2
			if backoff > w.backoffMax {
				backoff = w.backoffMax
			}
		}
	}
}

// listen dials once and consumes events until the connection drops. It
// reports whether the dial succeeded.
func (w *Watcher) listen(ctx context.Context) (bool, error) {
	header := http.Header{}
	if pair, ok := w.creds.Get(); ok && pair.AccessToken != "" {
		header.Set("Authorization", "Bearer "+pair.AccessToken)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, w.wsURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return false, err
	}
	defer conn.Close()

	// Reconnecting means the network is back; whatever queued up while
	// offline can go now.
	w.triggerSync(ctx)

	// Unblock ReadMessage when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}

		var event changeEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			w.log.Debugf("ignoring malformed change event: %v", err)
			continue
		}
		w.log.Debugf("change event received: %s", event.Type)
		w.triggerSync(ctx)
	}
}

func (w *Watcher) triggerSync(ctx context.Context) {
	if w.engine.Running() {
		return
	}
	go func() {
		if _, err := w.engine.TriggerSync(ctx); err != nil {
			w.log.Warnf("change-triggered sync interrupted: %v", err)
		}
	}()
}
