// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tagdex/tagdexd/indexer"
	"github.com/tagdex/tagdexd/plugin"
	"github.com/tagdex/tagdexd/types"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// APIServer serves the plugin index over HTTP: JSON queries plus a
// websocket endpoint for group subscriptions.
type APIServer struct {
	idx      *indexer.PluginIndex
	registry *plugin.Registry
	srv      *http.Server
	engine   *gin.Engine
}

// NewAPIServer builds the server around an index. Call Start to begin
// listening on listenAddr.
func NewAPIServer(idx *indexer.PluginIndex, registry *plugin.Registry, listenAddr string) *APIServer {
	gin.SetMode(gin.ReleaseMode)

	s := &APIServer{
		idx:      idx,
		registry: registry,
		engine:   gin.New(),
	}
	s.engine.Use(requestLogger(), recovery())

	s.engine.GET("/health", s.handleHealth)
	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/plugins", s.handlePlugins)
		v1.GET("/tx/:txid", s.handleTx)
		v1.GET("/ws", s.handleWs)

		group := v1.Group("/plugin/:plugin")
		{
			group.GET("/groups", s.handleGroups)
			group.GET("/group/:group/utxos", s.handleUtxos)
			group.GET("/group/:group/unconfirmed-txs", s.handleUnconfirmedTxs)
			group.GET("/group/:group/confirmed-txs", s.handleConfirmedTxs)
			group.GET("/group/:group/history", s.handleHistory)
		}
	}

	s.srv = &http.Server{
		Addr:    listenAddr,
		Handler: s.engine,
	}
	return s
}

// Start begins serving. It blocks until Close is called or the
// listener fails.
func (s *APIServer) Start() error {
	log.Infof("API server listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close shuts the server down, waiting briefly for in-flight requests.
func (s *APIServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *APIServer) handleHealth(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if s.idx.Halted() {
		status = "halted"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status})
}

func (s *APIServer) handlePlugins(c *gin.Context) {
	names := s.registry.Names()
	plugins := make([]PluginJSON, 0, len(names))
	for _, name := range names {
		p := s.registry.Plugin(name)
		plugins = append(plugins, PluginJSON{
			Name:    name,
			LokadID: hex.EncodeToString(p.LokadID()),
			Version: p.Version(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"plugins": plugins})
}

func (s *APIServer) handleTx(c *gin.Context) {
	txid, err := types.NewIDFromString(c.Param("txid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid txid"})
		return
	}
	tx, err := s.idx.Tx(txid)
	if err != nil {
		if errors.Is(err, indexer.ErrTxNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, txJSON(tx))
}

func (s *APIServer) handleGroups(c *gin.Context) {
	prefix, err := hex.DecodeString(c.Query("prefix"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group prefix"})
		return
	}
	groups, err := s.idx.Groups(c.Param("plugin"), prefix)
	if err != nil {
		abortQueryErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": hexStrings(groups)})
}

func (s *APIServer) handleUtxos(c *gin.Context) {
	group, ok := groupParam(c)
	if !ok {
		return
	}
	utxos, err := s.idx.Utxos(c.Param("plugin"), group)
	if err != nil {
		abortQueryErr(c, err)
		return
	}
	out := make([]UTXOJSON, len(utxos))
	for i, utxo := range utxos {
		out[i] = utxoJSON(utxo)
	}
	c.JSON(http.StatusOK, gin.H{"utxos": out})
}

func (s *APIServer) handleUnconfirmedTxs(c *gin.Context) {
	group, ok := groupParam(c)
	if !ok {
		return
	}
	txs, err := s.idx.UnconfirmedTxs(c.Param("plugin"), group)
	if err != nil {
		abortQueryErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"txs": txsJSON(txs)})
}

func (s *APIServer) handleConfirmedTxs(c *gin.Context) {
	group, ok := groupParam(c)
	if !ok {
		return
	}
	txs, err := s.idx.ConfirmedTxs(c.Param("plugin"), group)
	if err != nil {
		abortQueryErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"txs": txsJSON(txs)})
}

func (s *APIServer) handleHistory(c *gin.Context) {
	group, ok := groupParam(c)
	if !ok {
		return
	}
	page, pageSize, ok := pageParams(c)
	if !ok {
		return
	}
	txs, err := s.idx.History(c.Param("plugin"), group)
	if err != nil {
		abortQueryErr(c, err)
		return
	}

	numPages := (len(txs) + pageSize - 1) / pageSize
	start := page * pageSize
	if start > len(txs) {
		start = len(txs)
	}
	end := start + pageSize
	if end > len(txs) {
		end = len(txs)
	}
	c.JSON(http.StatusOK, gin.H{
		"txs":       txsJSON(txs[start:end]),
		"num_pages": numPages,
	})
}

func groupParam(c *gin.Context) ([]byte, bool) {
	group, err := hex.DecodeString(c.Param("group"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group"})
		return nil, false
	}
	return group, true
}

func pageParams(c *gin.Context) (page, pageSize int, ok bool) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return 0, 0, false
	}
	pageSize, err = strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if err != nil || pageSize < 1 || pageSize > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page_size"})
		return 0, 0, false
	}
	return page, pageSize, true
}

func abortQueryErr(c *gin.Context, err error) {
	if errors.Is(err, indexer.ErrUnknownPlugin) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown plugin"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugf("%s %s %d %s", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start))
	}
}

func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Panic in handler for %s: %v", c.Request.URL.Path, r)
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
