package out

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	hclog "github.com/hashicorp/go-hclog"

	"plughost/internal/modules/plugin/domain"
)

// WSRegistryWatcher follows the registry change feed over a websocket. The
// event channel closes when the connection drops or ctx ends.
type WSRegistryWatcher struct {
	feedURL string
	token   string
	dialer  *websocket.Dialer
	logger  hclog.Logger
}

func NewWSRegistryWatcher(baseURL, token string, logger hclog.Logger) (*WSRegistryWatcher, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + registryAPIPath + "/events")
	if err != nil {
		return nil, fmt.Errorf("parse registry url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &WSRegistryWatcher{feedURL: u.String(), token: token, dialer: websocket.DefaultDialer, logger: logger.Named("registry-watch")}, nil
}

func (w *WSRegistryWatcher) Watch(ctx context.Context) (<-chan domain.RegistryEvent, error) {
	header := http.Header{}
	if w.token != "" {
		header.Set("Authorization", "Bearer "+w.token)
	}
	conn, resp, err := w.dialer.DialContext(ctx, w.feedURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: http %d", domain.ErrRegistryUnavailable, w.feedURL, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrRegistryUnavailable, w.feedURL, err)
	}

	out := make(chan domain.RegistryEvent)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var event domain.RegistryEvent
			if err := conn.ReadJSON(&event); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					w.logger.Warn("registry feed closed", "error", err)
				}
				return
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
