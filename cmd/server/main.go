package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // Postgres driver

	"github.com/biowallet/backend/internal/agent"
	"github.com/biowallet/backend/internal/api"
	"github.com/biowallet/backend/internal/bridge"
	"github.com/biowallet/backend/internal/config"
	"github.com/biowallet/backend/internal/dispatch"
	"github.com/biowallet/backend/internal/edge"
	"github.com/biowallet/backend/internal/events"
	"github.com/biowallet/backend/internal/facematch"
	"github.com/biowallet/backend/internal/gallery"
	"github.com/biowallet/backend/internal/history"
	"github.com/biowallet/backend/internal/infra"
	"github.com/biowallet/backend/internal/metrics"
	"github.com/biowallet/backend/internal/speech"
	"github.com/biowallet/backend/internal/wallet"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfgPath := os.Getenv("BIOWALLET_CONFIG")
	var cfg *config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadConfig(cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", cfgPath, err)
		}
	} else {
		cfg = config.Default()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	m := metrics.New()

	// Gallery: in-memory, mirrored to Redis when reachable.
	faces := gallery.New()
	var store *gallery.RedisStore
	if rdb, err := infra.NewGoRedisAdapter(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, 0); err != nil {
		log.Printf("Redis unavailable, gallery is memory-only: %v", err)
	} else {
		defer rdb.Close()
		store = gallery.NewRedisStore(rdb, cfg.Storage.KeyPrefix)
		if persisted, err := store.LoadFaces(ctx); err != nil {
			log.Printf("Failed to load persisted gallery: %v", err)
		} else if len(persisted) > 0 {
			faces.Replace(persisted)
			log.Printf("Loaded %d persisted faces", len(persisted))
		}
	}
	m.GallerySize.Set(float64(faces.Len()))

	var blobs gallery.BlobStore
	if cfg.Storage.BlobPublisher != "" && cfg.Storage.BlobReader != "" {
		blobs = gallery.NewHTTPBlobStore(cfg.Storage.BlobPublisher, cfg.Storage.BlobReader)
	}

	// Face matching against the external detector sidecar.
	var detector facematch.Detector
	if cfg.Face.DetectorURL != "" {
		detector = facematch.NewHTTPDetector(cfg.Face.DetectorURL)
	} else {
		log.Printf("No detector configured, face scans will fail")
		detector = facematch.DetectorFunc(func(context.Context, []byte) ([]facematch.Detection, error) {
			return nil, facematch.ErrNoFacesDetected
		})
	}
	matcher := facematch.NewService(detector, cfg.Face.MatchThreshold)

	// Speech trigger pipeline fed by the frontend.
	transcripts := edge.NewPushTranscriber()
	listener := speech.NewListener(transcripts, cfg.DebounceInterval())
	go listener.Run(ctx)

	frames := edge.NewFrameCache(0)

	// Wallet and bridge clients.
	var provider wallet.Provider
	var transferor *wallet.Transferor
	var bridgeClient *bridge.Client
	if cfg.Wallet.RPCURL != "" {
		rpc := wallet.NewRPCProvider(cfg.Wallet.RPCURL)
		provider = rpc
		transferor = wallet.NewTransferor(rpc, 18)
		bridgeClient = bridge.NewClient(cfg.Bridge.BaseURL, rpc)
	} else {
		log.Printf("No wallet RPC configured, transfers and bridging disabled")
	}

	// Transaction history: local Postgres with remote agent fallback.
	agentClient := agent.NewClient(cfg.Agent.BaseURL)
	hist := &history.Fallback{Remote: agentClient}
	var recorder dispatch.HistoryRecorder
	if cfg.History.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.History.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to open Postgres: %v", err)
		}
		local, err := history.NewStore(ctx, db)
		if err != nil {
			log.Fatalf("Failed to init history store: %v", err)
		}
		defer local.Close()
		hist.Local = local
		recorder = local
	}

	dispatcher := dispatch.New(dispatch.Options{
		Gallery:           faces,
		Matcher:           matcher,
		Agent:             agentClient,
		Bridge:            bridgeClient,
		Transferor:        transferor,
		Provider:          provider,
		Frames:            frames,
		Listener:          listener,
		History:           recorder,
		Emitter:           bus,
		Metrics:           m,
		ChainID:           cfg.Wallet.ChainID,
		AllowSendFallback: cfg.Agent.SendFallbackEnabled(),
		StatusPollEvery:   cfg.StatusPollInterval(),
	})
	go dispatcher.Run(ctx)

	server := api.NewServer(api.Options{
		Gallery:         faces,
		Store:           store,
		Blobs:           blobs,
		ReferenceBlobID: cfg.Storage.ReferenceBlobID,
		Dispatcher:      dispatcher,
		Listener:        listener,
		History:         hist,
		Bus:             bus,
		Metrics:         m,
		Frames:          frames,
		Transcripts:     transcripts,
	})

	log.Printf("Starting BioWallet backend on :%s (chain %d)", cfg.Server.Port, cfg.Wallet.ChainID)
	if err := server.Start(ctx, ":"+cfg.Server.Port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
