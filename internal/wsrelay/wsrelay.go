// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package wsrelay opens a client WebSocket connection to a matched rule's
// target and bidirectionally ferries frames between it and the inbound
// client connection until either side closes (spec.md §4.D). It is built
// on github.com/gorilla/websocket, the transport github.com/aofei/air
// wires for its own WebSocket gas — the only WebSocket library anywhere in
// the example pack.
package wsrelay

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"gatewayd/internal/rules"
)

// Relay upgrades inbound connections and relays frames to rule targets.
type Relay struct {
	upgrader websocket.Upgrader
}

func New() *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// IsUpgrade reports whether r carries an Upgrade: websocket header.
func IsUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// Serve upgrades the inbound request, opens a client socket to rule's
// target, and relays frames until either side closes. Lifecycle linking
// follows spec.md §4.D: target errors close the client with 1011; a clean
// target close propagates its (code, reason) to the client (and vice
// versa) unless the peer is already closed.
func (rl *Relay) Serve(w http.ResponseWriter, r *http.Request, rule rules.CompiledRule, rewrittenPath string) error {
	clientConn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return err
	}
	defer clientConn.Close()

	targetURL := targetWSURL(rule.ResolvedTarget, rewrittenPath, r.URL.RawQuery)
	targetConn, _, err := websocket.DefaultDialer.Dial(targetURL, nil)
	if err != nil {
		log.Warn().Err(err).Str("target", targetURL).Msg("failed to connect to ws target")
		closeWith(clientConn, websocket.CloseInternalServerErr, "Failed to connect to target")
		return err
	}
	defer targetConn.Close()

	done := make(chan struct{})
	var closeOnce sync.Once

	pump := func(from, to *websocket.Conn, label string) {
		defer func() {
			closeOnce.Do(func() { close(done) })
		}()
		for {
			mt, data, err := from.ReadMessage()
			if err != nil {
				propagateClose(to, err)
				return
			}
			if err := to.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}

	go pump(targetConn, clientConn, "target->client")
	go pump(clientConn, targetConn, "client->target")
	<-done
	return nil
}

func targetWSURL(target, path, rawQuery string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target + path
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = path
	u.RawQuery = rawQuery
	return u.String()
}

// propagateClose closes `to` with the close code/reason carried by err, if
// any; on a non-close error it closes with 1011 "Target connection error".
func propagateClose(to *websocket.Conn, err error) {
	if ce, ok := err.(*websocket.CloseError); ok {
		closeWith(to, ce.Code, ce.Text)
		return
	}
	closeWith(to, websocket.CloseInternalServerErr, "Target connection error")
}

func closeWith(c *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
