// Package execution builds, signs, and submits transactions against a
// pinned blockhash, retrying transient failures with classified-error
// awareness. Grounded on the teacher's client-order-ID tracking and
// chain tracker, generalized from Binance order placement to
// transaction bundling.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tokensentinel/internal/cache"
	"tokensentinel/internal/domain"
	"tokensentinel/internal/logging"
	"tokensentinel/internal/rpc"
	"tokensentinel/internal/wallet"
)

// Submitter is the transport-level seam a live chain client replaces;
// it submits signed transaction bytes and returns a fill price (or an
// error classified per the taxonomy).
type Submitter func(ctx context.Context, signedTx []byte) (fillPrice float64, err error)

// Bundler builds, signs, and submits buy/sell transactions.
type Bundler struct {
	rpcClient *rpc.Client
	blockhash *cache.BlockhashCache
	signer    wallet.Signer
	submit    Submitter

	maxRetries int
	log        *logging.Logger
}

// New creates a Bundler.
func New(rpcClient *rpc.Client, blockhash *cache.BlockhashCache, signer wallet.Signer, submit Submitter) *Bundler {
	return &Bundler{
		rpcClient:  rpcClient,
		blockhash:  blockhash,
		signer:     signer,
		submit:     submit,
		maxRetries: 3,
		log:        logging.WithComponent("execution"),
	}
}

// SubmitEntry builds and submits a BUY transaction for a trade intent.
func (b *Bundler) SubmitEntry(ctx context.Context, intent *domain.TradeIntent) (fillPrice float64, clientOrderID string, err error) {
	clientOrderID = uuid.NewString()
	fillPrice, err = b.submitWithRetry(ctx, intent.MintAddress, "buy", intent.Slippage)
	return fillPrice, clientOrderID, err
}

// SubmitExit implements position.Executor, building and submitting the
// exit transaction for pos at the given slippage tolerance.
func (b *Bundler) SubmitExit(ctx context.Context, pos *domain.Position, slippage float64) (float64, error) {
	return b.submitWithRetry(ctx, pos.MintAddress, "sell", slippage)
}

func (b *Bundler) submitWithRetry(ctx context.Context, mint, action string, slippage float64) (float64, error) {
	log := logging.ExecutionContext(mint, action)

	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		hash, slot, err := b.rpcClient.LatestBlockhash(ctx, b.blockhash)
		if err != nil {
			lastErr = err
			continue
		}

		msg := buildMessage(mint, action, slippage, hash, slot)
		sig, err := b.signer.Sign(ctx, msg)
		if err != nil {
			return 0, domain.Classify(domain.KindPolicyReject, "execution.submitWithRetry", fmt.Errorf("sign: %w", err))
		}

		signedTx := append(msg, sig...)
		fillPrice, err := b.submit(ctx, signedTx)
		if err == nil {
			return fillPrice, nil
		}

		lastErr = err
		kind, _ := domain.KindOf(err)
		if kind == domain.KindDefinitiveTransport || kind == domain.KindInvariantViolation {
			return 0, err
		}
		if kind == domain.KindStaleState {
			// blockhash expired mid-flight: force a refresh next loop
			// by invalidating via a zero Set, then retry immediately.
			b.blockhash.Set("", 0)
			log.Warn("stale blockhash, refetching and retrying", "attempt", attempt, "error", err)
			continue
		}

		log.Warn("submission attempt failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 200 * time.Millisecond):
		}
	}

	return 0, domain.Classify(domain.KindTransportExhausted, "execution.submitWithRetry", lastErr)
}

func buildMessage(mint, action string, slippage float64, blockhash string, slot uint64) []byte {
	return []byte(fmt.Sprintf("mint=%s;action=%s;slippage=%.4f;blockhash=%s;slot=%d", mint, action, slippage, blockhash, slot))
}
