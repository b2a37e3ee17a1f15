// Command chainvc-server serves credential verification, retrieval and
// provenance over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/pilacorp/go-credential-chain/chain"
	"github.com/pilacorp/go-credential-chain/commitment"
	"github.com/pilacorp/go-credential-chain/config"
	"github.com/pilacorp/go-credential-chain/prover"
	"github.com/pilacorp/go-credential-chain/server"
	"github.com/pilacorp/go-credential-chain/store"
	"github.com/pilacorp/go-credential-chain/verifier"
)

func main() {
	var opts []config.Option
	listen := flag.String("listen", "", "listen address (overrides "+config.EnvListenAddr+")")
	local := flag.Bool("local-prover", false, "serve commitments from the in-process prover")
	flag.Parse()
	if *listen != "" {
		opts = append(opts, config.WithListenAddr(*listen))
	}
	if *local {
		opts = append(opts, config.WithLocalProver(true))
	}

	cfg := config.Load(opts...)
	if err := config.SetupLogger(os.Stderr, cfg.LogLevel, true); err != nil {
		log.Crit("Invalid logger configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Crit("Server failed", "err", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var p commitment.Prover
	serverOpts := []server.Option{}
	if cfg.LocalProver {
		local := prover.NewLocal()
		p = local
		serverOpts = append(serverOpts, server.WithProver(local))
		log.Info("Using in-process prover")
	} else {
		p = prover.NewClient(cfg.ProverURL, prover.WithTimeout(cfg.HTTPTimeout))
		log.Info("Using remote prover", "url", cfg.ProverURL)
	}

	ipfsOpts := []store.IPFSOption{store.WithIPFSTimeout(cfg.HTTPTimeout)}
	if cfg.PinataJWT != "" {
		ipfsOpts = append(ipfsOpts, store.WithPinning(cfg.PinataURL, cfg.PinataJWT))
	}
	content := store.NewIPFSStore(cfg.IPFSGateway, ipfsOpts...)

	verifierOpts := []verifier.Option{
		verifier.WithContentGetter(content),
		verifier.WithChainID(cfg.ChainID),
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
	escrows, err := chain.Dial(dialCtx, cfg.RPC)
	cancel()
	if err != nil {
		log.Warn("Chain unavailable, on-chain checks disabled", "rpc", cfg.RPC, "err", err)
	} else {
		defer escrows.Close()
		verifierOpts = append(verifierOpts, verifier.WithEscrowReader(escrows))
	}

	v := verifier.New(commitment.NewEngine(p), verifierOpts...)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(v, content, serverOpts...).Handler(),
		ReadHeaderTimeout: cfg.HTTPTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
