package storage

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// feedFrame is one message on the realtime websocket.
type feedFrame struct {
	Topic      string     `json:"topic"`
	Collection Collection `json:"collection"`
	Action     Action     `json:"action"`
	Payload    Document   `json:"payload"`
}

// Subscribe implements Subscriber over a websocket connection to the
// remote change feed. One connection is held per subscription; the
// caller (the realtime channel manager) owns reconnection policy, so a
// failed connection reports exactly one error and then goes quiet.
func (s *RemoteStore) Subscribe(topic string, onEvent func(Event), onError func(error)) (func(), error) {
	target, err := s.realtimeURL(topic)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial change feed: %w", err)
	}

	done := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			conn.Close()
		})
	}

	logrus.WithFields(logrus.Fields{
		"function": "Subscribe",
		"topic":    topic,
	}).Info("Change feed subscription opened")

	go func() {
		for {
			var frame feedFrame
			if err := conn.ReadJSON(&frame); err != nil {
				select {
				case <-done:
					// Unsubscribed; the read error is our own close.
				default:
					unsubscribe()
					if onError != nil {
						onError(err)
					}
				}
				return
			}

			if frame.Topic != "" && frame.Topic != topic {
				continue
			}
			if onEvent != nil {
				onEvent(Event{
					Collection: frame.Collection,
					Action:     frame.Action,
					Payload:    frame.Payload,
				})
			}
		}
	}()

	return unsubscribe, nil
}

func (s *RemoteStore) realtimeURL(topic string) (string, error) {
	parsed, err := url.Parse(s.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	default:
		return "", fmt.Errorf("endpoint scheme %q has no websocket counterpart", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/realtime"

	query := parsed.Query()
	query.Set("project", s.cfg.ProjectID)
	query.Set("topic", topic)
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}
