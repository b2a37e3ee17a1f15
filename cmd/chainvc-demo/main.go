// Command chainvc-demo walks a product through listing, order confirmation
// and delivery, then verifies every stage.
//
// It runs fully in-process by default. Set CHAINVC_PINATA_JWT to publish to
// IPFS and CHAINVC_LOCAL_PROVER=false to use the remote prover.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/pilacorp/go-credential-chain/commitment"
	"github.com/pilacorp/go-credential-chain/config"
	"github.com/pilacorp/go-credential-chain/credential/common/dto"
	"github.com/pilacorp/go-credential-chain/credential/vc"
	"github.com/pilacorp/go-credential-chain/prover"
	"github.com/pilacorp/go-credential-chain/signer"
	"github.com/pilacorp/go-credential-chain/store"
	"github.com/pilacorp/go-credential-chain/verifier"
)

// Hardhat development accounts.
const (
	sellerKey  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	buyerKey   = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	escrowAddr = "0x5fbdb2315678afecb367f032d93f642f64180aa3"
	purchaseTx = "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"
	deliveryTx = "0xfedcba0987654321fedcba0987654321fedcba0987654321fedcba0987654321"
)

func main() {
	cfg := config.Load(config.WithChainID(1337), config.WithLocalProver(os.Getenv(config.EnvLocalProver) != "false"))
	if err := config.SetupLogger(os.Stderr, cfg.LogLevel, true); err != nil {
		log.Crit("Invalid logger configuration", "err", err)
	}
	if err := run(context.Background(), cfg); err != nil {
		log.Crit("Demo failed", "err", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var p commitment.Prover = prover.NewLocal()
	if !cfg.LocalProver {
		p = prover.NewClient(cfg.ProverURL, prover.WithTimeout(cfg.HTTPTimeout))
	}
	var s store.Store = store.NewMemoryStore()
	if cfg.PinataJWT != "" {
		s = store.NewIPFSStore(cfg.IPFSGateway, store.WithPinning(cfg.PinataURL, cfg.PinataJWT), store.WithIPFSTimeout(cfg.HTTPTimeout))
	}

	seller, err := signer.NewDefaultProvider(sellerKey)
	if err != nil {
		return err
	}
	buyer, err := signer.NewDefaultProvider(buyerKey)
	if err != nil {
		return err
	}
	engine := commitment.NewEngine(p)
	b := vc.NewBuilder(engine, vc.WithChainID(cfg.ChainID), vc.WithContentGetter(s))
	domain := signer.NewDomain(cfg.ChainID, escrowAddr)

	fmt.Println("-- Stage 0: listing --")
	listing, err := b.BuildListing(ctx, vc.ListingInput{
		SellerAddr:  seller.GetAddress(),
		EscrowAddr:  escrowAddr,
		ProductID:   "1",
		ProductName: "Battery pack",
		Batch:       "B-2025-05",
		Quantity:    10,
		Price:       1_000_000_000_000_000,
	})
	if err != nil {
		return err
	}
	if err := signer.SignAndAppend(ctx, listing, dto.RoleIssuer, seller, domain); err != nil {
		return err
	}
	listingCID, err := vc.Publish(ctx, s, listing)
	if err != nil {
		return err
	}
	fmt.Printf("Listing published: %s\n", listingCID)

	fmt.Println("-- Stage 1: order confirmation --")
	order, err := b.BuildOrderConfirmation(ctx, listing, listingCID, vc.OrderInput{
		BuyerAddr:      buyer.GetAddress(),
		PurchaseTxHash: purchaseTx,
	})
	if err != nil {
		return err
	}
	if err := signer.SignAndAppend(ctx, order, dto.RoleIssuer, seller, domain); err != nil {
		return err
	}
	orderCID, err := vc.Publish(ctx, s, order)
	if err != nil {
		return err
	}
	fmt.Printf("Order confirmation published: %s\n", orderCID)

	fmt.Println("-- Stage 2: delivery --")
	draft, err := b.BuildDeliveryDraft(ctx, order, orderCID, vc.DeliveryInput{
		Price:           1_000_000_000_000_000,
		TransporterAddr: "0x70997970c51812dc3a010c7d01b50e0d17dc79c8",
	})
	if err != nil {
		return err
	}
	delivery := draft.Credential
	if err := signer.SignAndAppend(ctx, delivery, dto.RoleHolder, buyer, domain); err != nil {
		return err
	}
	if err := signer.SignAndAppend(ctx, delivery, dto.RoleIssuer, seller, domain); err != nil {
		return err
	}
	if err := b.CommitDeliveryTx(ctx, delivery, deliveryTx); err != nil {
		return err
	}
	deliveryCID, err := vc.Publish(ctx, s, delivery)
	if err != nil {
		return err
	}
	fmt.Printf("Delivery published: %s\n", deliveryCID)

	v := verifier.New(engine, verifier.WithContentGetter(s), verifier.WithChainID(cfg.ChainID))
	report := v.VerifyAll(ctx, delivery, verifier.VerifyOptions{ContentID: deliveryCID, ContractAddress: escrowAddr})
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	fmt.Println(string(out))

	if failed := report.FailedChecks(); len(failed) > 0 {
		return fmt.Errorf("verification failed: %v", failed)
	}
	fmt.Println("✓ Credential chain verified")
	return nil
}
