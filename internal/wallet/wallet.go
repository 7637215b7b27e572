// Package wallet exposes a signing-only surface over a key held outside
// the process — adapted from the teacher's Vault-backed API key store,
// narrowed from general secret CRUD to the one operation execution
// actually needs: sign this message, never see the key.
package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"tokensentinel/internal/domain"
	"tokensentinel/internal/logging"
)

// Signer is the narrow interface the execution bundler depends on.
type Signer interface {
	Sign(ctx context.Context, message []byte) (signature []byte, err error)
	PublicAddress() string
}

// Config mirrors the teacher's Vault client configuration.
type Config struct {
	Address    string
	Token      string
	SecretPath string // e.g. "secret/data/tokensentinel/signing-key"
	Enabled    bool

	MaxSignaturesPerSecond int
}

// Wallet signs through Vault's transit/KV backend when enabled, and
// through an in-memory dev key otherwise — the same enabled/disabled
// split the teacher's vault client used for local development.
type Wallet struct {
	mu      sync.Mutex
	client  *vaultapi.Client
	cfg     Config
	address string

	lastSecond   time.Time
	signedThisSec int

	log *logging.Logger
}

// New creates a Wallet. When cfg.Enabled, it connects to Vault at
// cfg.Address; the signing key itself never leaves Vault.
func New(cfg Config) (*Wallet, error) {
	w := &Wallet{cfg: cfg, log: logging.WithComponent("wallet")}

	if !cfg.Enabled {
		w.address = "dev-local-address"
		return w, nil
	}

	vcfg := vaultapi.DefaultConfig()
	vcfg.Address = cfg.Address
	client, err := vaultapi.NewClient(vcfg)
	if err != nil {
		return nil, domain.Classify(domain.KindDefinitiveTransport, "wallet.New", fmt.Errorf("vault client: %w", err))
	}
	client.SetToken(cfg.Token)
	w.client = client

	secret, err := client.Logical().Read(cfg.SecretPath)
	if err != nil || secret == nil {
		return nil, domain.Classify(domain.KindDefinitiveTransport, "wallet.New", fmt.Errorf("read signing key metadata: %w", err))
	}
	if addr, ok := secret.Data["public_address"].(string); ok {
		w.address = addr
	}

	return w, nil
}

// PublicAddress returns the wallet's public address.
func (w *Wallet) PublicAddress() string {
	return w.address
}

// Sign requests a signature over message. Requests are rate-capped at
// MaxSignaturesPerSecond to keep a runaway retry loop from hammering
// Vault's transit backend.
func (w *Wallet) Sign(ctx context.Context, message []byte) ([]byte, error) {
	if !w.acquireSignSlot() {
		return nil, domain.Classify(domain.KindCapacityExceeded, "wallet.Sign", fmt.Errorf("signing rate limit exceeded"))
	}

	if !w.cfg.Enabled {
		return devSign(message), nil
	}

	payload := map[string]interface{}{
		"input": message,
	}
	secret, err := w.client.Logical().WriteWithContext(ctx, w.cfg.SecretPath+"/sign", payload)
	if err != nil {
		return nil, domain.Classify(domain.KindTransientTransport, "wallet.Sign", err)
	}
	sigRaw, ok := secret.Data["signature"].(string)
	if !ok {
		return nil, domain.Classify(domain.KindUnparseableInput, "wallet.Sign", fmt.Errorf("vault response missing signature field"))
	}
	return []byte(sigRaw), nil
}

func (w *Wallet) acquireSignSlot() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	limit := w.cfg.MaxSignaturesPerSecond
	if limit <= 0 {
		limit = 20
	}

	now := time.Now()
	if now.Sub(w.lastSecond) >= time.Second {
		w.lastSecond = now
		w.signedThisSec = 0
	}
	if w.signedThisSec >= limit {
		return false
	}
	w.signedThisSec++
	return true
}

// devSign produces a deterministic placeholder signature for local
// development when Vault is disabled.
func devSign(message []byte) []byte {
	sig := make([]byte, 64)
	copy(sig, message)
	return sig
}
