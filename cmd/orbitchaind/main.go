// Command orbitchaind runs a single-node proof-of-authority orbitchain
// validator: it opens (or initializes) the ledger, starts the block
// producer, and serves the JSON RPC shell.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"orbitchain/core"
	"orbitchain/pkg/config"
	"orbitchain/pkg/utils"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{Use: "orbitchaind"}
	root.AddCommand(startCmd())
	root.AddCommand(keygenCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the orbitchain node",
		RunE:  runStart,
	}
	cmd.Flags().String("data-dir", "", "ledger data directory (empty = use the configured node.data_dir)")
	cmd.Flags().String("rpc-addr", "", "RPC listen address, e.g. :8080")
	cmd.Flags().Uint64("chain-id", 0, "override chain id")
	cmd.Flags().Uint64("block-time-ms", 0, "override block production interval in milliseconds")
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "generate a validator keypair and print its seed and address",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := core.GenerateKeypair()
			if err != nil {
				return utils.Wrap(err, "generate keypair")
			}
			fmt.Printf("address: %s\n", kp.Address().Hex())
			fmt.Printf("seed (hex, keep secret): %s\n", hex.EncodeToString(kp.Seed()))
			return nil
		},
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return utils.Wrap(err, "load config")
	}
	applyFlagOverrides(cmd, cfg)

	logger := log.StandardLogger()
	if lvl, err := log.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(lvl)
	}

	chainCfg := core.ChainConfig{
		ChainID:       cfg.Chain.ChainID,
		Name:          cfg.Chain.Name,
		Symbol:        cfg.Chain.Symbol,
		Decimals:      cfg.Chain.Decimals,
		BlockTimeMS:   cfg.Chain.BlockTimeMS,
		MaxBlockSize:  cfg.Chain.MaxBlockSize,
		MaxTxPerBlock: cfg.Chain.MaxTxPerBlock,
	}

	seedHex := utils.EnvOrDefault(cfg.Node.ValidatorKeyEnv, "")
	var keypair *core.Keypair
	if seedHex != "" {
		seed, err := hex.DecodeString(seedHex)
		if err != nil {
			return utils.Wrap(err, "decode validator key")
		}
		keypair, err = core.NewKeypairFromSeed(seed)
		if err != nil {
			return utils.Wrap(err, "parse validator key")
		}
	} else {
		keypair, err = core.GenerateKeypair()
		if err != nil {
			return utils.Wrap(err, "generate ephemeral validator key")
		}
		logger.Warn("no validator key configured; generated an ephemeral one for this run")
	}
	chainCfg.GenesisValidators = []core.Address{keypair.Address()}

	var ledger *core.Ledger
	if cfg.Node.InMemory || cfg.Node.DataDir == "" {
		ledger, err = core.OpenInMemoryLedger()
	} else {
		ledger, err = core.OpenLedger(cfg.Node.DataDir)
	}
	if err != nil {
		return utils.Wrap(err, "open ledger")
	}
	defer ledger.Close()

	const genesisValidatorMint = 10_000_000_000_000_000 // 10^16 base units: 0.01 token at the default 18 decimals
	if err := core.Bootstrap(ledger, chainCfg, genesisValidatorMint); err != nil {
		return utils.Wrap(err, "bootstrap genesis")
	}

	consensus := core.NewConsensus(chainCfg, ledger, keypair)
	consensus.AddValidator(keypair.Address(), keypair.PublicKey())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producer := core.NewProducer(consensus, time.Duration(chainCfg.BlockTimeMS)*time.Millisecond)
	go producer.Run(ctx)

	server := &http.Server{Addr: cfg.Node.RPCListenAddr, Handler: newRouter(ledger, consensus, chainCfg)}
	go func() {
		logger.WithFields(log.Fields{"addr": cfg.Node.RPCListenAddr}).Info("rpc server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("rpc server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.Node.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("rpc-addr"); v != "" {
		cfg.Node.RPCListenAddr = v
	}
	if v, _ := cmd.Flags().GetUint64("chain-id"); v != 0 {
		cfg.Chain.ChainID = v
	}
	if v, _ := cmd.Flags().GetUint64("block-time-ms"); v != 0 {
		cfg.Chain.BlockTimeMS = v
	}
}
