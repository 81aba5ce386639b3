package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/term"
	"gopkg.in/urfave/cli.v1"

	"shieldwallet/internal/chain"
	"shieldwallet/internal/config"
	"shieldwallet/internal/health"
	"shieldwallet/internal/logging"
	"shieldwallet/internal/metrics"
	"shieldwallet/internal/prover"
	"shieldwallet/internal/signer"
	"shieldwallet/internal/store"
	"shieldwallet/internal/syncer"
	"shieldwallet/internal/wallet"
)

// maxSyncLag is how many blocks the wallet may trail the chain before status
// reports it as degraded.
const maxSyncLag = 100

// runtime holds everything one command invocation needs.
type runtime struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   *store.LevelDB
	ledger  *chain.Ledger
	metrics *metrics.Collector
	wallet  *wallet.Wallet
	syncer  *syncer.Syncer
	health  *health.Checker
}

func openRuntime(ctx *cli.Context, createSigner bool) (_ *runtime, err error) {
	cfg, err := config.LoadConfig(ctx.GlobalString(configFlag.Name))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	auditPath := ""
	if cfg.EnableAudit {
		auditPath = cfg.Resolve(cfg.AuditLogPath)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Resolve(cfg.LogFile), auditPath)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, metrics: metrics.NewCollector()}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	hasher, err := cfg.Hasher()
	if err != nil {
		return nil, err
	}
	ledgerPath := cfg.Resolve(cfg.LedgerPath)
	if _, statErr := os.Stat(ledgerPath); statErr == nil {
		if rt.ledger, err = chain.LoadLedgerFromFile(ledgerPath, hasher); err != nil {
			return nil, err
		}
	} else {
		rt.ledger = chain.NewLedger(hasher)
	}
	rt.ledger.MaxBlockRange = cfg.MaxBlockRange

	if rt.store, err = store.OpenLevelDB(cfg.Resolve(cfg.StorePath)); err != nil {
		return nil, err
	}
	sg, err := loadSigner(cfg, createSigner)
	if err != nil {
		return nil, err
	}
	passphrase := []byte(cfg.Passphrase)
	if ctx.GlobalBool(promptFlag.Name) {
		if passphrase, err = promptPassphrase(); err != nil {
			return nil, err
		}
	}

	rt.wallet = wallet.New(rt.ledger, prover.NewDev(hasher), rt.store, wallet.Options{
		Hasher:     hasher,
		Nonce:      cfg.Nonce(),
		Passphrase: passphrase,
		Scrypt:     cfg.Scrypt(),
		Metrics:    rt.metrics,
	})
	err = rt.wallet.Initialize(context.Background(), sg)
	clear(passphrase)
	if err != nil {
		return nil, err
	}
	rt.syncer = syncer.New(rt.wallet, rt.ledger, rt.metrics)
	rt.health = newHealth(rt)
	return rt, nil
}

func newHealth(rt *runtime) *health.Checker {
	h := health.NewChecker(version)
	h.RegisterComponent("store", func(context.Context) error {
		_, _, err := rt.store.Get(wallet.KeyLastSyncedBlock)
		return err
	})
	h.RegisterComponent("chain", func(ctx context.Context) error {
		_, _, err := rt.ledger.GetNewCommitmentEvents(ctx, rt.ledger.BlockNumber()+1)
		return err
	})
	h.RegisterComponent("sync_lag", func(context.Context) error {
		head, mark := rt.ledger.BlockNumber(), rt.wallet.LastSyncedBlock()
		if head > mark+maxSyncLag {
			return &health.DegradedError{Reason: fmt.Sprintf("wallet at block %d, chain at %d", mark, head)}
		}
		return nil
	})
	return h
}

// watchSync adds a check that fails on the last sync error and degrades when
// syncs stop succeeding. Only meaningful for long-running processes.
func (rt *runtime) watchSync() {
	stale := health.Staleness("sync", time.Duration(rt.cfg.SyncStaleAfterSecs)*time.Second, rt.syncer.LastSuccess)
	rt.health.RegisterComponent("sync", func(ctx context.Context) error {
		if err := rt.syncer.LastError(); err != nil {
			return err
		}
		return stale(ctx)
	})
}

// Close persists the ledger and releases files.
func (rt *runtime) Close() {
	if rt.ledger != nil {
		if err := rt.ledger.SaveToFile(rt.cfg.Resolve(rt.cfg.LedgerPath)); err != nil {
			log.Error("Failed to save ledger", "err", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			log.Error("Failed to close store", "err", err)
		}
	}
	if rt.logger != nil {
		rt.logger.Close()
	}
}

// loadSigner prefers SHIELDD_SIGNER_KEY, then the key file. With create set a
// missing key file is generated.
func loadSigner(cfg *config.Config, create bool) (*signer.Local, error) {
	if cfg.SignerKey != "" {
		return signer.FromHex(cfg.SignerKey)
	}
	path := cfg.Resolve(cfg.SignerKeyFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return signer.FromHex(strings.TrimSpace(string(data)))
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read signer key: %w", err)
	case !create:
		return nil, fmt.Errorf("no signer key at %s: run `shieldd init` or set %s_SIGNER_KEY", path, config.EnvPrefix)
	}
	s, err := signer.Generate()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(s.Hex()+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write signer key: %w", err)
	}
	log.Info("Generated signer key", "path", path)
	return s, nil
}

// promptPassphrase reads the passphrase without echo.
func promptPassphrase() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("stdin is not a terminal: set %s_PASSPHRASE instead", config.EnvPrefix)
	}
	fmt.Fprint(os.Stderr, "Wallet passphrase: ")
	defer fmt.Fprintln(os.Stderr)

	raw, err := term.ReadPassword(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("passphrase cannot be empty")
	}
	return raw, nil
}

// syncJob skips a tick while the previous one is still running.
type syncJob struct {
	running int32
	run     func()
}

func (j *syncJob) Run() {
	if !atomic.CompareAndSwapInt32(&j.running, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&j.running, 0)
	j.run()
}
