package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TrackedWallet is a monitored address whose trades are ingested and
// reconciled. SyncedThrough is the per-wallet ingestion watermark: the
// execution timestamp of the newest trade known to be fully persisted.
type TrackedWallet struct {
	Address       string
	Alias         string
	SyncedThrough time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NormalizeAddress validates a hex wallet address and returns its
// EIP-55 checksummed form, which is the canonical key used everywhere in
// the ledger.
func NormalizeAddress(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidWallet, addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}
