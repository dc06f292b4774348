// Market-data trust and decision engine — consumes crypto-derivatives
// market data (trades, order book deltas, liquidations, funding/ticker)
// from either a historical CSV recording or a live exchange WebSocket,
// and continuously decides whether that data is safe to trade on.
//
// Architecture:
//
//	main.go                      — entry point: loads config, wires the engine, waits for SIGINT/SIGTERM
//	internal/engine/engine.go    — orchestrator: drives every event through the pipeline below
//	internal/align               — TimeAligner: watermark-based reordering (C3)
//	internal/sanitize            — Sanitizer: per-field validation and repair (C4)
//	internal/orderbook           — OrderBook + OrderBookReplayer (C1, C2)
//	internal/trust               — DataTrustPolicy: rolling-window anomaly detection (C5)
//	internal/hypothesis          — HypothesisPolicy: cross-source consensus (C6)
//	internal/decision            — DecisionMachine: pure ALLOWED/RESTRICTED/HALTED reducer (C7)
//	internal/stats               — DwellTracker + EngineStats (C8)
//	internal/adapter/historical  — CSV(.gz) replay adapter
//	internal/adapter/live        — Binance-futures WebSocket adapter
//	internal/runner              — tick loop + ingest loop with reconnect
//	internal/output              — JSONL + summary.json writer
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"marketdata-trust-engine/internal/adapter"
	"marketdata-trust-engine/internal/adapter/historical"
	"marketdata-trust-engine/internal/adapter/live"
	"marketdata-trust-engine/internal/config"
	"marketdata-trust-engine/internal/engine"
	"marketdata-trust-engine/internal/hypothesis"
	"marketdata-trust-engine/internal/output"
	"marketdata-trust-engine/internal/runner"
	"marketdata-trust-engine/internal/sanitize"
	"marketdata-trust-engine/internal/trust"
	"marketdata-trust-engine/pkg/types"
)

func main() {
	if len(os.Args) < 2 || (os.Args[1] != "historical" && os.Args[1] != "realtime") {
		fmt.Fprintln(os.Stderr, "usage: engine <historical|realtime>")
		os.Exit(1)
	}
	mode := os.Args[1]

	cfgDir := "configs"
	if p := os.Getenv("MDTE_CONFIG_DIR"); p != "" {
		cfgDir = p
	}

	cfg, err := config.Load(mode, cfgDir)
	if err != nil {
		slog.Error("failed to load config", "error", err, "dir", cfgDir)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging, mode)

	outDir := filepath.Join(cfg.Paths.OutputRoot, mode)
	writer, err := output.New(outDir)
	if err != nil {
		logger.Error("failed to create output writer", "error", err)
		os.Exit(1)
	}

	eng := engine.New(toEngineConfig(cfg), writer, logger)

	var a adapter.Adapter
	switch mode {
	case "historical":
		a, err = historical.New(cfg.Paths.DataRoot, historical.Config{
			ReplaySpeed:    cfg.Adapters.CSV.ReplaySpeed,
			MaxReplaySleep: cfg.Adapters.CSV.MaxReplaySleep,
		})
	case "realtime":
		if cfg.Exchange != "binance-futures" {
			err = fmt.Errorf("unsupported exchange %q for realtime mode", cfg.Exchange)
			break
		}
		a = live.New(live.Config{
			Symbol:             cfg.Symbol,
			BaseURL:            cfg.Adapters.WS.BaseURL,
			RestBaseURL:        cfg.Adapters.WS.RestBaseURL,
			ReconnectDelay:     cfg.Adapters.WS.ReconnectDelay,
			MaxReconnectDelay:  cfg.Adapters.WS.MaxReconnectDelay,
			OpenInterestPoll:   cfg.Adapters.WS.OpenInterestPoll,
			SnapshotDepthLimit: cfg.Adapters.WS.SnapshotDepthLimit,
		}, logger)
	}
	if err != nil {
		logger.Error("failed to build adapter", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runner.TickLoop(ctx, eng, cfg.Engine.TickInterval, logger)
	}()
	go func() {
		defer wg.Done()
		runner.Run(ctx, a, eng, mode == "realtime", cfg.Adapters.WS.ReconnectDelay, logger)
	}()

	logger.Info("engine started", "mode", mode, "exchange", cfg.Exchange, "symbol", cfg.Symbol)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	wg.Wait()
	if err := eng.Shutdown(); err != nil {
		logger.Error("engine shutdown error", "error", err)
	}
	if err := writer.Finalize(); err != nil {
		logger.Error("output writer finalize error", "error", err)
	}
}

func toEngineConfig(cfg *config.Config) engine.Config {
	stall := make(engine.StallThresholds, len(cfg.Engine.StallThresholds))
	for k, v := range cfg.Engine.StallThresholds {
		stall[types.Stream(k)] = v.Microseconds()
	}

	return engine.Config{
		AllowedLatenessUs: cfg.Align.AllowedLateness.Microseconds(),
		MaxBufferUs:       cfg.Align.MaxBuffer.Microseconds(),
		DepthLimit:        cfg.Engine.DepthLimit,
		Sanitize: sanitize.Config{
			DefaultExchange: cfg.Sanitize.DefaultExchange,
			DefaultSymbol:   cfg.Sanitize.DefaultSymbol,
		},
		Trust: trust.Thresholds{
			WindowEvents:            cfg.Trust.WindowEvents,
			QuarantineUntrustedRate: cfg.Trust.QuarantineUntrustedRate,
			LateDegradedRate:        cfg.Trust.LateDegradedRate,
			LateUntrustedRate:       cfg.Trust.LateUntrustedRate,
			ForcedDegradedRate:      cfg.Trust.ForcedDegradedRate,
			ForcedUntrustedRate:     cfg.Trust.ForcedUntrustedRate,
			BufferLenDegraded:       cfg.Trust.BufferLenDegraded,
			BufferLenUntrusted:      cfg.Trust.BufferLenUntrusted,
			SpreadExplodeBps:        cfg.Trust.SpreadExplodeBps,
			FatFingerDegradedBps:    cfg.Trust.FatFingerDegradedBps,
			FatFingerUntrustedBps:   cfg.Trust.FatFingerUntrustedBps,
			TradeJumpDegradedBps:    cfg.Trust.TradeJumpDegradedBps,
		},
		Hypothesis: hypothesis.Thresholds{
			WeakPriceDivergeBps:    cfg.Hyp.WeakPriceDivergeBps,
			InvalidPriceDivergeBps: cfg.Hyp.InvalidPriceDivergeBps,
			StableMinDurationUs:    cfg.Hyp.StableMinDuration.Microseconds(),
		},
		StallThresholds: stall,
	}
}

func newLogger(cfg config.LoggingConfig, mode string) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("mode", mode)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
