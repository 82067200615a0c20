// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package main

import (
	"context"

	"github.com/tagdex/tagdexd/indexer"
	"github.com/tagdex/tagdexd/plugin"
	"github.com/tagdex/tagdexd/plugin/builtin"
	"github.com/tagdex/tagdexd/repo"
	ds "github.com/tagdex/tagdexd/repo/datastore"
	"github.com/tagdex/tagdexd/rpc"
	"go.uber.org/zap"
)

var log = zap.S()

// Server brings the constituent parts together into the full daemon:
// the badger datastore, the plugin registry, the plugin index and the
// HTTP/websocket API.
type Server struct {
	config   *repo.Config
	ds       repo.Datastore
	registry *plugin.Registry
	index    *indexer.PluginIndex
	api      *rpc.APIServer
}

// BuildServer is the constructor for the server. We pass in the config file here
// and use it to configure all the various parts of the Server.
func BuildServer(config *repo.Config) (*Server, error) {
	// Logging
	if err := setupLogging(config.LogDir, config.LogLevel, config.Testnet); err != nil {
		return nil, err
	}
	log.Infof("tagdexd version %s", repo.VersionString())

	// Datastore
	datastore, err := ds.NewTagdexDatastore(config.DataDir)
	if err != nil {
		return nil, err
	}

	// Plugins
	registry := plugin.NewRegistry()
	if err := builtin.Register(registry); err != nil {
		return nil, err
	}

	ctx := context.Background()
	if config.DropIndex {
		log.Info("Dropping plugin index")
		if err := indexer.DropIndex(ctx, datastore); err != nil {
			return nil, err
		}
	}

	// Index
	index, err := indexer.NewPluginIndex(
		indexer.Datastore(datastore),
		indexer.Registry(registry),
		indexer.NotificationBuffer(config.APIOpts.NotificationBuffer),
	)
	if err != nil {
		return nil, err
	}
	if err := index.Reload(ctx); err != nil {
		return nil, err
	}

	s := &Server{
		config:   config,
		ds:       datastore,
		registry: registry,
		index:    index,
	}

	// API
	if !config.APIOpts.DisableAPI {
		s.api = rpc.NewAPIServer(index, registry, config.APIOpts.APIListener)
		go func() {
			if err := s.api.Start(); err != nil {
				log.Errorf("API server error: %s", err)
			}
		}()
	}

	return s, nil
}

// Index returns the plugin index. The chain event feed hangs its
// mempool and block callbacks off of it.
func (s *Server) Index() *indexer.PluginIndex {
	return s.index
}

// Registry returns the plugin registry.
func (s *Server) Registry() *plugin.Registry {
	return s.registry
}

// Close shuts down the API and releases the datastore.
func (s *Server) Close() error {
	if s.api != nil {
		if err := s.api.Close(); err != nil {
			log.Errorf("Error shutting down API server: %s", err)
		}
	}
	return s.ds.Close()
}
