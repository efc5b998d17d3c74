// Package main provides the roller daemon: it preloads collection
// documents from disk and serves the roll API over HTTP.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RolldeoDev/Rolldeo-sub002/internal/config"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/observability"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file; empty = defaults plus ROLLDEO_* env")
	contentDir := flag.String("content", "", "directory of collection documents to preload (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *contentDir != "" {
		cfg.Engine.ContentDir = *contentDir
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	eng := engine.New(
		engine.WithLogger(logger.Named("engine")),
		engine.WithMaxDepth(cfg.Engine.MaxDepth),
	)

	if cfg.Engine.ContentDir != "" {
		loadStart := time.Now()
		n, err := preloadContent(eng, cfg.Engine.ContentDir)
		if err != nil {
			logger.Fatal("preloading content", zap.Error(err))
		}
		logger.Info("content preloaded",
			zap.String("dir", cfg.Engine.ContentDir),
			zap.Int("collections", n),
			zap.Duration("elapsed", time.Since(loadStart)),
		)
	}

	httpSrv := server.NewHTTPServer(cfg.Server, eng, logger.Named("http"))

	sup := server.NewSupervisor(logger)
	sup.Register("http", httpSrv)

	logger.Info("roller daemon starting",
		zap.String("addr", cfg.Server.Addr()),
		zap.Duration("startup", time.Since(start)),
	)
	if err := sup.Serve(context.Background()); err != nil {
		logger.Fatal("runtime failure", zap.Error(err))
	}
}

// preloadContent loads every JSON/YAML document under dir and pins
// import bindings between them by namespace.
func preloadContent(eng *engine.Engine, dir string) (int, error) {
	byNamespace := make(map[string]string)
	count := 0

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".yaml", ".yml":
		default:
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		id, err := eng.LoadCollection(data, "", true)
		if err != nil {
			return err
		}
		count++
		if c, ok := eng.GetCollection(id); ok {
			if ns := c.Namespace(); ns != "" {
				byNamespace[ns] = id
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	eng.ResolveImports(byNamespace)
	return count, nil
}
