// main.go - Confidential lockup daemon.
//
// Boots the full stack: homomorphic engine, input-proof circuit keys,
// confidential token ledger, stream registry, and the reencryption gateway
// served over HTTP with rate limiting. On startup it runs a short
// demonstration scenario (mint, approve, create, cancel) so a fresh
// deployment can be verified end to end.
//
// Usage:
//   go run . -config lockupd.json

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/ethereum/go-ethereum/common"

	"lockup/internal/accounts"
	"lockup/internal/fhe"
	"lockup/internal/gateway"
	"lockup/internal/lockup"
	"lockup/internal/token"
)

const version = "0.1.0"

var (
	tokenAddress  = common.HexToAddress("0x000000000000000000000000000000000070ce17")
	lockupAddress = common.HexToAddress("0x00000000000000000000000000000000006c0c55")
)

func main() {
	configPath := flag.String("config", "lockupd.json", "path to config file")
	flag.Parse()

	config, err := LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}
	if err := config.Validate(); err != nil {
		panic(err)
	}

	auditPath := ""
	if config.EnableAudit {
		auditPath = config.AuditLogPath
	}
	logger, err := NewLogger(config.LogLevel, config.LogFile, auditPath)
	if err != nil {
		panic(err)
	}
	defer logger.Close()

	metrics := NewMetricsCollector()
	logger.Info("lockupd %s starting", version)

	// Engine and input-proof keys
	engine, err := fhe.NewEngine()
	if err != nil {
		logger.Fatal("engine setup failed: %v", err)
	}
	logger.Info("compiling input circuit")
	start := time.Now()
	ccs, err := fhe.CompileInputCircuit()
	if err != nil {
		logger.Fatal("circuit compilation failed: %v", err)
	}
	pk, vk, err := fhe.SetupOrLoadKeys(ccs, config.ProvingKeyPath, config.VerifyingKeyPath)
	if err != nil {
		logger.Fatal("Groth16 key setup failed: %v", err)
	}
	metrics.RecordHistogram("circuit_setup_seconds", time.Since(start).Seconds(), nil)
	logger.Info("input circuit ready (%s)", time.Since(start))

	// Ledger, registry, gateway
	tok := token.New(engine, tokenAddress, fhe.NewInputVerifier(engine, tokenAddress, vk))
	registry := lockup.NewRegistry(engine, tok, fhe.NewInputVerifier(engine, lockupAddress, vk), lockupAddress)
	gw, err := gateway.New(engine)
	if err != nil {
		logger.Fatal("gateway setup failed: %v", err)
	}
	defer gw.Close()

	health := NewHealthChecker(version)
	health.RegisterComponent("engine", func() error {
		_, err := engine.Decrypt(engine.TrivialEncrypt(0).Handle())
		return err
	})
	health.RegisterComponent("registry", func() error { registry.Count(); return nil })

	if err := runScenario(logger, metrics, engine, tok, registry, ccs, pk); err != nil {
		logger.Fatal("scenario failed: %v", err)
	}

	report := health.CheckHealth()
	logger.Info("health: %s (uptime %s)", report.OverallStatus, report.Uptime)

	// Serve the reencryption gateway until interrupted
	limiter := NewRateLimiter(config.RateLimitTokens, config.RateLimitRefill, time.Second)
	server := gateway.NewServer(gw)
	logger.Info("gateway listening on %s", config.ListenAddress)
	go func() {
		if err := server.Start(config.ListenAddress, limiter.Limit(server.Handler())); err != nil {
			logger.Error("gateway server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(config.TimeoutSeconds)*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("gateway shutdown: %v", err)
	}
}

// runScenario exercises the full confidential lockup flow against the live
// stack: Alice funds the ledger, opens a stream for Bob, and cancels a
// second stream before it vests.
func runScenario(logger *Logger, metrics *MetricsCollector, engine *fhe.Engine, tok *token.ConfidentialToken, registry *lockup.Registry, ccs constraint.ConstraintSystem, pk groth16.ProvingKey) error {
	set, err := accounts.NewSet("alice", "bob")
	if err != nil {
		return err
	}
	alice, bob := set["alice"], set["bob"]
	logger.Info("scenario accounts: alice=%s bob=%s", alice.Address.Hex(), bob.Address.Hex())

	tok.Mint(alice.Address, 100000)
	metrics.IncrementCounter("mints", nil)

	// Alice allows the lockup engine to escrow up to 100000
	approveEnc := fhe.NewEncryptor(engine.PublicKey(), tokenAddress, alice.Address, ccs, pk)
	approval, err := approveEnc.Encrypt(100000)
	if err != nil {
		return err
	}
	if err := tok.Approve(alice.Address, lockupAddress, approval); err != nil {
		return err
	}

	createEnc := fhe.NewEncryptor(engine.PublicKey(), lockupAddress, alice.Address, ccs, pk)

	// Stream 1: 1000 vesting over 1000s with a 100s cliff
	start := time.Now()
	deposit, err := createEnc.Encrypt(1000)
	if err != nil {
		return err
	}
	metrics.RecordHistogram("proof_seconds", time.Since(start).Seconds(), nil)
	id, err := registry.CreateWithDurations(alice.Address, bob.Address, 100, 1000, deposit)
	if err != nil {
		return err
	}
	metrics.IncrementCounter("streams_created", nil)
	logger.Info("created stream %d (alice -> bob, cliff 100s, total 1000s)", id)
	logger.AuditStreamCreated(id, alice.Address.Hex(), bob.Address.Hex())

	// Stream 2: created and canceled before any vesting
	deposit2, err := createEnc.Encrypt(500)
	if err != nil {
		return err
	}
	id2, err := registry.CreateWithDurations(alice.Address, bob.Address, 0, 600, deposit2)
	if err != nil {
		return err
	}
	metrics.IncrementCounter("streams_created", nil)
	if err := registry.Cancel(alice.Address, id2); err != nil {
		return err
	}
	metrics.IncrementCounter("streams_canceled", nil)
	logger.Info("created and canceled stream %d, unvested deposit refunded", id2)
	logger.AuditStreamCanceled(id2, alice.Address.Hex())

	logger.Info("scenario complete: %d streams registered", registry.Count())
	return nil
}
