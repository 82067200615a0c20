// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package rpc

import (
	"encoding/hex"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tagdex/tagdexd/indexer"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsRequest is a client message on the subscription socket. Group is
// hex encoded.
type wsRequest struct {
	Op     string `json:"op"`
	Plugin string `json:"plugin"`
	Group  string `json:"group"`
}

// wsMessage is a server message: either an acknowledgement, an error,
// or a lifecycle event of a subscribed group.
type wsMessage struct {
	Type   string `json:"type"`
	Txid   string `json:"txid,omitempty"`
	Plugin string `json:"plugin,omitempty"`
	Group  string `json:"group,omitempty"`
	Error  string `json:"error,omitempty"`
}

type wsSubKey struct {
	plugin string
	group  string
}

// wsClient owns one websocket connection and its group subscriptions.
// All writes to the connection go through the out channel so the
// write pump is the only writer.
type wsClient struct {
	idx  *indexer.PluginIndex
	conn *websocket.Conn

	mtx  sync.Mutex
	subs map[wsSubKey]*indexer.Subscription

	out       chan wsMessage
	done      chan struct{}
	closeOnce sync.Once
}

func (s *APIServer) handleWs(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debugf("Websocket upgrade failed: %s", err)
		return
	}
	client := &wsClient{
		idx:  s.idx,
		conn: conn,
		subs: make(map[wsSubKey]*indexer.Subscription),
		out:  make(chan wsMessage, 32),
		done: make(chan struct{}),
	}
	go client.writePump()
	client.readPump()
}

func (cl *wsClient) readPump() {
	defer cl.shutdown()
	for {
		var req wsRequest
		if err := cl.conn.ReadJSON(&req); err != nil {
			return
		}
		switch req.Op {
		case "subscribe":
			cl.subscribe(req)
		case "unsubscribe":
			cl.unsubscribe(req)
		default:
			cl.send(wsMessage{Type: "error", Error: "unknown op"})
		}
	}
}

func (cl *wsClient) writePump() {
	for {
		select {
		case msg := <-cl.out:
			if err := cl.conn.WriteJSON(msg); err != nil {
				cl.shutdown()
				return
			}
		case <-cl.done:
			cl.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (cl *wsClient) subscribe(req wsRequest) {
	group, err := hex.DecodeString(req.Group)
	if err != nil {
		cl.send(wsMessage{Type: "error", Error: "invalid group"})
		return
	}
	key := wsSubKey{plugin: req.Plugin, group: req.Group}

	cl.mtx.Lock()
	if _, ok := cl.subs[key]; ok {
		cl.mtx.Unlock()
		cl.send(wsMessage{Type: "error", Error: "already subscribed", Plugin: req.Plugin, Group: req.Group})
		return
	}
	cl.mtx.Unlock()

	sub, err := cl.idx.Subscribe(req.Plugin, group)
	if err != nil {
		cl.send(wsMessage{Type: "error", Error: err.Error(), Plugin: req.Plugin, Group: req.Group})
		return
	}

	cl.mtx.Lock()
	cl.subs[key] = sub
	cl.mtx.Unlock()
	go cl.forward(key, sub)

	cl.send(wsMessage{Type: "subscribed", Plugin: req.Plugin, Group: req.Group})
}

func (cl *wsClient) unsubscribe(req wsRequest) {
	key := wsSubKey{plugin: req.Plugin, group: req.Group}

	cl.mtx.Lock()
	sub, ok := cl.subs[key]
	if ok {
		delete(cl.subs, key)
	}
	cl.mtx.Unlock()
	if !ok {
		cl.send(wsMessage{Type: "error", Error: "not subscribed", Plugin: req.Plugin, Group: req.Group})
		return
	}
	sub.Close()
	cl.send(wsMessage{Type: "unsubscribed", Plugin: req.Plugin, Group: req.Group})
}

// forward relays events of one subscription to the write pump. The
// subscription channel closing while still registered means the bus
// dropped us for falling behind; the whole connection is torn down
// since the event stream now has a gap.
func (cl *wsClient) forward(key wsSubKey, sub *indexer.Subscription) {
	for event := range sub.C {
		msg := wsMessage{
			Type:   event.Type.String(),
			Txid:   event.Txid.String(),
			Plugin: key.plugin,
			Group:  key.group,
		}
		select {
		case cl.out <- msg:
		case <-cl.done:
			return
		}
	}

	cl.mtx.Lock()
	_, registered := cl.subs[key]
	cl.mtx.Unlock()
	if registered {
		log.Debugf("Dropping websocket client behind on group %s/%s", key.plugin, key.group)
		cl.shutdown()
	}
}

func (cl *wsClient) send(msg wsMessage) {
	select {
	case cl.out <- msg:
	case <-cl.done:
	}
}

func (cl *wsClient) shutdown() {
	cl.closeOnce.Do(func() {
		close(cl.done)

		cl.mtx.Lock()
		subs := make([]*indexer.Subscription, 0, len(cl.subs))
		for key, sub := range cl.subs {
			subs = append(subs, sub)
			delete(cl.subs, key)
		}
		cl.mtx.Unlock()
		for _, sub := range subs {
			sub.Close()
		}
		cl.conn.Close()
	})
}
