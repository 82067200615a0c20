// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tagdex/tagdexd/types"
	"github.com/tidwall/sjson"
)

func httpGet(opts *options, path string) (string, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(strings.TrimSuffix(opts.ServerAddr, "/") + path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "    "); err != nil {
		return string(body), nil
	}
	return out.String(), nil
}

func groupPath(plugin, group string) (string, error) {
	if _, err := hex.DecodeString(group); err != nil {
		return "", fmt.Errorf("group must be hex encoded: %s", err)
	}
	return "/api/v1/plugin/" + plugin + "/group/" + group, nil
}

type GetPlugins struct {
	opts *options
}

func (x *GetPlugins) Execute(args []string) error {
	resp, err := httpGet(x.opts, "/api/v1/plugins")
	if err != nil {
		return err
	}
	fmt.Println(resp)
	return nil
}

type GetTransaction struct {
	opts *options
	Txid string `short:"t" long:"txid" description:"The transaction ID (hex, display order)"`
}

func (x *GetTransaction) Execute(args []string) error {
	if _, err := types.NewIDFromString(x.Txid); err != nil {
		return fmt.Errorf("invalid txid: %s", err)
	}
	resp, err := httpGet(x.opts, "/api/v1/tx/"+x.Txid)
	if err != nil {
		return err
	}

	// Tack a derived confirmed flag onto the response for readability.
	var tx struct {
		Height int32 `json:"height"`
	}
	if err := json.Unmarshal([]byte(resp), &tx); err == nil {
		if augmented, err := sjson.Set(resp, "confirmed", tx.Height != types.UnconfirmedHeight); err == nil {
			resp = augmented
		}
	}
	fmt.Println(resp)
	return nil
}

type GetGroups struct {
	opts   *options
	Plugin string `short:"p" long:"plugin" description:"The plugin name"`
	Prefix string `long:"prefix" description:"Optional hex group prefix filter"`
}

func (x *GetGroups) Execute(args []string) error {
	path := "/api/v1/plugin/" + x.Plugin + "/groups"
	if x.Prefix != "" {
		path += "?prefix=" + x.Prefix
	}
	resp, err := httpGet(x.opts, path)
	if err != nil {
		return err
	}
	fmt.Println(resp)
	return nil
}

type GetUtxos struct {
	opts   *options
	Plugin string `short:"p" long:"plugin" description:"The plugin name"`
	Group  string `short:"g" long:"group" description:"The group (hex encoded)"`
}

func (x *GetUtxos) Execute(args []string) error {
	path, err := groupPath(x.Plugin, x.Group)
	if err != nil {
		return err
	}
	resp, err := httpGet(x.opts, path+"/utxos")
	if err != nil {
		return err
	}
	fmt.Println(resp)
	return nil
}

type GetUnconfirmedTxs struct {
	opts   *options
	Plugin string `short:"p" long:"plugin" description:"The plugin name"`
	Group  string `short:"g" long:"group" description:"The group (hex encoded)"`
}

func (x *GetUnconfirmedTxs) Execute(args []string) error {
	path, err := groupPath(x.Plugin, x.Group)
	if err != nil {
		return err
	}
	resp, err := httpGet(x.opts, path+"/unconfirmed-txs")
	if err != nil {
		return err
	}
	fmt.Println(resp)
	return nil
}

type GetConfirmedTxs struct {
	opts   *options
	Plugin string `short:"p" long:"plugin" description:"The plugin name"`
	Group  string `short:"g" long:"group" description:"The group (hex encoded)"`
}

func (x *GetConfirmedTxs) Execute(args []string) error {
	path, err := groupPath(x.Plugin, x.Group)
	if err != nil {
		return err
	}
	resp, err := httpGet(x.opts, path+"/confirmed-txs")
	if err != nil {
		return err
	}
	fmt.Println(resp)
	return nil
}

type GetHistory struct {
	opts     *options
	Plugin   string `short:"p" long:"plugin" description:"The plugin name"`
	Group    string `short:"g" long:"group" description:"The group (hex encoded)"`
	Page     int    `long:"page" description:"Page number (default 0)"`
	PageSize int    `long:"pagesize" description:"Transactions per page (default 25)"`
}

func (x *GetHistory) Execute(args []string) error {
	path, err := groupPath(x.Plugin, x.Group)
	if err != nil {
		return err
	}
	path += fmt.Sprintf("/history?page=%d", x.Page)
	if x.PageSize > 0 {
		path += fmt.Sprintf("&page_size=%d", x.PageSize)
	}
	resp, err := httpGet(x.opts, path)
	if err != nil {
		return err
	}
	fmt.Println(resp)
	return nil
}

type Subscribe struct {
	opts   *options
	Plugin string `short:"p" long:"plugin" description:"The plugin name"`
	Group  string `short:"g" long:"group" description:"The group (hex encoded)"`
}

func (x *Subscribe) Execute(args []string) error {
	if _, err := hex.DecodeString(x.Group); err != nil {
		return fmt.Errorf("group must be hex encoded: %s", err)
	}

	wsAddr := strings.TrimSuffix(x.opts.ServerAddr, "/")
	wsAddr = strings.Replace(wsAddr, "http://", "ws://", 1)
	wsAddr = strings.Replace(wsAddr, "https://", "wss://", 1)

	conn, _, err := websocket.DefaultDialer.Dial(wsAddr+"/api/v1/ws", nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]string{"op": "subscribe", "plugin": x.Plugin, "group": x.Group}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-interrupt
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		fmt.Println(string(msg))
	}
}
