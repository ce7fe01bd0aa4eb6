// Package server wires the engine together: stores, cache, recorder, query
// service, auditor and the thin ops endpoints. The dashboard's real API
// surface lives elsewhere; this is the engine's own boundary.
package server

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/docuflow/statsengine/pkg/cache"
	"github.com/docuflow/statsengine/pkg/config"
	"github.com/docuflow/statsengine/pkg/docstore"
	"github.com/docuflow/statsengine/pkg/ingest"
	"github.com/docuflow/statsengine/pkg/query"
	"github.com/docuflow/statsengine/pkg/reconcile"
	"github.com/docuflow/statsengine/pkg/recorder"
	"github.com/docuflow/statsengine/pkg/stats"
	badgerstore "github.com/docuflow/statsengine/pkg/storage/badger"
)

// Engine bundles every constructed component.
type Engine struct {
	Config config.Config

	DB       *badgerstore.DB
	Docs     *docstore.SQLiteStore
	Cache    *cache.Cache
	Recorder *recorder.Recorder
	Query    *query.Service
	Auditor  *reconcile.Auditor
	Hub      *ingest.StatsHub
	Consumer *ingest.Consumer

	log *slog.Logger
}

// Build constructs the engine from configuration.
func Build(cfg config.Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := badgerstore.Open(badgerstore.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	daily, hourly, audit := db.Daily(), db.Hourly(), db.Audit()

	docs, err := docstore.OpenSQLite(cfg.DocumentsDB)
	if err != nil {
		db.Close()
		return nil, err
	}

	c := cache.New(config.CacheMaxEntries)

	rec := recorder.New(daily, hourly)
	rec.SetCache(c)
	rec.SetLogger(log)

	svc := query.New(daily, hourly)
	svc.SetCache(c)

	auditor := reconcile.New(daily, docs, audit)
	auditor.SetCache(c)
	auditor.SetLogger(log)

	hub := ingest.NewStatsHub()
	rec.SetOnRecorded(func(scope stats.ScopeKey) {
		if !hub.HasClients() {
			return
		}
		if err := hub.Broadcast(map[string]any{"event": "recorded", "scope": scope}); err != nil {
			log.Warn("record broadcast failed", "error", err)
		}
	})

	engine := &Engine{
		Config:   cfg,
		DB:       db,
		Docs:     docs,
		Cache:    c,
		Recorder: rec,
		Query:    svc,
		Auditor:  auditor,
		Hub:      hub,
		log:      log,
	}

	if len(cfg.KafkaBrokers) > 0 {
		engine.Consumer = ingest.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, rec)
		engine.Consumer.SetLogger(log)
		log.Info("kafka ingest enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	return engine, nil
}

// Close shuts the engine's resources down.
func (e *Engine) Close() {
	if e.Consumer != nil {
		if err := e.Consumer.Close(); err != nil {
			e.log.Warn("kafka consumer close failed", "error", err)
		}
	}
	if err := e.Docs.Close(); err != nil {
		e.log.Warn("documents db close failed", "error", err)
	}
	if err := e.DB.Close(); err != nil {
		e.log.Warn("badger close failed", "error", err)
	}
}
