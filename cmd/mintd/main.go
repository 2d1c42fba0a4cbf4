// main.go - Mint daemon entry point.
//
// mintd runs one issuance node: it serves the gossip endpoint, accumulates
// service receipts, mints token batches at each epoch boundary under the
// collateral throttle, and persists filter snapshots so restarts resume the
// double-spend set instead of forgetting it.
//
// Usage:
//   mintd -config mintd.json
//   mintd -init             (writes a default config and exits)

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"veilmint/internal/merkle"
	"veilmint/internal/mint"
	"veilmint/internal/nullifier"
	"veilmint/internal/proofbind"
	"veilmint/internal/store"
	"veilmint/internal/throttle"
	"veilmint/internal/token"
	"veilmint/internal/voprf"
	"veilmint/p2p"
)

const version = "0.3.0"

// receiptPayload is the wire form of a service receipt submission.
type receiptPayload struct {
	Provider string `json:"provider"` // hex, 32 bytes
	Amount   uint64 `json:"amount"`
	Epoch    uint64 `json:"epoch"`
}

// daemon holds the wired components and the receipt intake buffer.
type daemon struct {
	cfg     *Config
	logger  zerolog.Logger
	db      *store.Store
	node    *p2p.Node
	orch    *mint.Orchestrator
	refunds *merkle.RefundTree
	metrics *MetricsCollector
	health  *HealthChecker

	pendingMu sync.Mutex
	pending   []token.Receipt
}

func main() {
	configPath := flag.String("config", "mintd.json", "path to the configuration file")
	initConfig := flag.Bool("init", false, "write the default configuration and exit")
	flag.Parse()

	if *initConfig {
		if err := SaveConfig(DefaultConfig(), *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote default configuration to %s\n", *configPath)
		return
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("mintd exited with error")
	}
}

func run(cfg *Config, logger zerolog.Logger) error {
	logger.Info().Str("node_id", cfg.NodeID).Str("listen", cfg.ListenAddr).
		Int("peers", len(cfg.Peers)).Msg("starting mintd")

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		return errors.Wrap(err, "opening store")
	}
	defer db.Close()

	// Resume the double-spend filter from the most recent snapshot.
	set, snapEpoch, err := db.LatestFilterSnapshot()
	switch {
	case err == nil:
		logger.Info().Uint64("epoch", snapEpoch).Uint64("insertions", set.Count()).
			Msg("resumed filter from snapshot")
	case errors.Is(err, store.ErrNotFound):
		set = nullifier.NewSet()
		logger.Info().Msg("no filter snapshot, starting with an empty set")
	default:
		return errors.Wrap(err, "loading filter snapshot")
	}

	sk, err := loadOrGenerateEvaluatorKey(cfg.EvaluatorKey, logger)
	if err != nil {
		return err
	}

	bindKey, err := loadOrGenerateBindingKey(cfg.ProvingKeyPath, logger)
	if err != nil {
		return err
	}
	binder, err := proofbind.NewCommitmentBinder(bindKey)
	if err != nil {
		return errors.Wrap(err, "creating proof binder")
	}

	epochFn := func() uint64 {
		return uint64(time.Now().Unix()) / uint64(cfg.EpochSeconds)
	}

	var wg sync.WaitGroup
	node := p2p.NewNode(cfg.NodeID, cfg.ListenAddr, cfg.Peers, set, epochFn, logger, &wg)
	peerLimiter := NewPeerRateLimiter(cfg.GossipBurst, cfg.GossipRefillRate, time.Second)
	node.SetRateLimiter(peerLimiter.Allow)

	d := &daemon{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		node:    node,
		orch:    mint.NewOrchestrator(binder, &mint.LocalEvaluator{Key: sk}, set, node.SenderID(), node.PublishNullifiers),
		refunds: merkle.NewRefundTree(),
		metrics: NewMetricsCollector(),
		health:  NewHealthChecker(version),
	}

	node.RegisterHandler("service_receipt", d.handleReceipt)

	d.health.RegisterComponent("filter", FilterSaturationCheck(set, cfg.MaxFalsePositiveRate))
	d.health.RegisterComponent("store", func() error {
		_, err := db.TotalMinted()
		return err
	})
	d.health.RegisterComponent("peers", func() error {
		node.HealthCheck()
		for id := range cfg.Peers {
			if !node.PeerHealthy(id) {
				return fmt.Errorf("peer %s unreachable", id)
			}
		}
		return nil
	})

	ready := make(chan struct{}, 1)
	if err := node.StartServer(ready); err != nil {
		return errors.Wrap(err, "starting gossip server")
	}
	<-ready
	logger.Info().Msg("gossip endpoint up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg.Add(1)
	go d.epochLoop(ctx, &wg, epochFn)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	cancel()
	if err := node.Stop(); err != nil {
		logger.Warn().Err(err).Msg("error stopping gossip server")
	}
	wg.Wait()

	// Final snapshot so the filter survives the restart.
	if err := db.SaveFilterSnapshot(epochFn(), set); err != nil {
		logger.Error().Err(err).Msg("failed to save final filter snapshot")
	}
	logger.Info().Msg("mintd stopped")
	return nil
}

// handleReceipt buffers an inbound service receipt for the next epoch mint.
func (d *daemon) handleReceipt(_ *p2p.Node, msg p2p.Message) {
	var payload receiptPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		d.logger.Warn().Err(err).Str("sender", msg.SenderID).Msg("malformed receipt payload")
		return
	}
	providerBytes, err := hex.DecodeString(payload.Provider)
	if err != nil || len(providerBytes) != 32 {
		d.logger.Warn().Str("sender", msg.SenderID).Msg("receipt with invalid provider id")
		return
	}
	if payload.Amount == 0 {
		d.logger.Warn().Str("sender", msg.SenderID).Msg("receipt with zero amount")
		return
	}
	var provider [32]byte
	copy(provider[:], providerBytes)

	receipt, err := token.NewReceipt(provider, payload.Amount, payload.Epoch)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to create receipt")
		return
	}

	d.pendingMu.Lock()
	d.pending = append(d.pending, receipt)
	n := len(d.pending)
	d.pendingMu.Unlock()

	d.metrics.IncrementCounter("receipts_accepted", nil)
	d.logger.Debug().Uint64("amount", payload.Amount).Int("pending", n).Msg("receipt accepted")
}

// takePending drains the receipt buffer for one mint attempt.
func (d *daemon) takePending() []token.Receipt {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	receipts := d.pending
	d.pending = nil
	return receipts
}

// epochLoop drives per-epoch maintenance: minting accumulated receipts,
// pruning expired refund entries, snapshotting the filter, and health checks.
func (d *daemon) epochLoop(ctx context.Context, wg *sync.WaitGroup, epochFn func() uint64) {
	defer wg.Done()

	interval := time.Duration(d.cfg.EpochSeconds) * time.Second
	if interval > time.Minute {
		interval = time.Minute // poll for the boundary rather than sleeping a whole epoch
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastEpoch := epochFn()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			epoch := epochFn()
			if epoch == lastEpoch {
				continue
			}
			lastEpoch = epoch
			d.rollEpoch(ctx, epoch)
		}
	}
}

// rollEpoch performs the work due at an epoch boundary.
func (d *daemon) rollEpoch(ctx context.Context, epoch uint64) {
	log := d.logger.With().Uint64("epoch", epoch).Logger()
	log.Info().Msg("epoch boundary")

	if receipts := d.takePending(); len(receipts) > 0 {
		d.mintBatch(ctx, epoch, receipts, log)
	}

	// Refund commitments older than the retention window are claimable no
	// longer; drop them so tree size tracks the live window.
	if epoch > d.cfg.RetentionEpochs {
		expired := epoch - d.cfg.RetentionEpochs - 1
		if removed := d.refunds.PruneEpoch(expired); removed > 0 {
			log.Info().Uint64("pruned_epoch", expired).Int("removed", removed).Msg("pruned refund entries")
		}
	}

	if err := d.db.SaveFilterSnapshot(epoch, d.node.Set()); err != nil {
		log.Error().Err(err).Msg("failed to snapshot filter")
	}

	fpRate := d.node.Set().FalsePositiveRate()
	d.metrics.RecordFilterState(fpRate, d.node.Set().Count())
	log.Info().Float64("fp_rate", fpRate).Uint64("insertions", d.node.Set().Count()).Msg("filter state")

	health := d.health.CheckHealth()
	if health.OverallStatus != Healthy {
		log.Warn().Str("status", string(health.OverallStatus)).Msg("health degraded")
	}
}

// mintBatch runs one throttled mint over the accumulated receipts.
func (d *daemon) mintBatch(ctx context.Context, epoch uint64, receipts []token.Receipt, log zerolog.Logger) {
	totalMinted, err := d.db.TotalMinted()
	if err != nil {
		log.Error().Err(err).Msg("failed to read minted total, skipping mint")
		return
	}
	cr := throttle.ComputeCR(totalMinted, d.cfg.TotalInfraValue)

	batch, err := d.orch.NewBatch(receipts, epoch)
	if err != nil {
		log.Error().Err(err).Msg("failed to build mint batch")
		return
	}

	record, err := d.orch.Mint(ctx, batch, cr, d.cfg.TokensPerBatch)
	if err != nil {
		var throttled *throttle.ThrottledError
		if errors.As(err, &throttled) {
			d.metrics.RecordThrottleRejection()
			log.Warn().Uint64("requested", throttled.Requested).
				Uint64("max_allowed", throttled.MaxAllowed).
				Str("collateral_ratio", cr.String()).
				Msg("mint throttled")
			return
		}
		log.Error().Err(err).Msg("mint failed")
		return
	}

	if err := d.db.SaveIssuance(record); err != nil {
		log.Error().Err(err).Msg("failed to persist issuance record")
		return
	}
	for _, r := range receipts {
		d.refunds.Add(r.Commitment(), epoch)
	}

	d.metrics.RecordMintCommitted(record.Amount, record.TokenCount)
	log.Info().Uint64("amount", record.Amount).Int("tokens", record.TokenCount).
		Str("collateral_ratio", cr.String()).Msg("mint committed")
}

// loadOrGenerateEvaluatorKey loads the VOPRF evaluation key, generating and
// persisting a fresh one on first run.
func loadOrGenerateEvaluatorKey(path string, logger zerolog.Logger) (*voprf.PrivateKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		sk, err := voprf.PrivateKeyFromBytes(data)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing evaluator key %s", path)
		}
		logger.Info().Str("path", path).Msg("loaded evaluator key")
		return sk, nil
	}

	sk, err := voprf.KeyGen()
	if err != nil {
		return nil, errors.Wrap(err, "generating evaluator key")
	}
	if err := writeKeyFile(path, sk.Bytes()); err != nil {
		return nil, errors.Wrapf(err, "saving evaluator key %s", path)
	}
	logger.Info().Str("path", path).Msg("generated new evaluator key")
	return sk, nil
}

// loadOrGenerateBindingKey loads the proof binder key, generating one on
// first run.
func loadOrGenerateBindingKey(path string, logger zerolog.Logger) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		logger.Info().Str("path", path).Msg("loaded binding key")
		return data, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "generating binding key")
	}
	if err := writeKeyFile(path, key); err != nil {
		return nil, errors.Wrapf(err, "saving binding key %s", path)
	}
	logger.Info().Str("path", path).Msg("generated new binding key")
	return key, nil
}

func writeKeyFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}
