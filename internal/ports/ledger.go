package ports

import "context"

// SigningCredential is an opaque capability that can sign a transaction payload.
// The lifecycle manager never inspects its internal kind (passkey, raw key,
// custodial signer); it only passes the credential through to the ledger.
type SigningCredential interface {
	// Sign produces a signature over the given payload.
	Sign(payload []byte) ([]byte, error)
}

// Ledger executes collateral deposits and profit payouts as on-chain token
// movements. Amounts are denominated in the settlement asset's native unit;
// adapters are responsible for micro-unit conversion.
type Ledger interface {
	// Transfer moves tokens directly from one address to another, signed by
	// the given credential. This is the primary settlement path.
	Transfer(ctx context.Context, amount float64, from, to string, cred SigningCredential) (txID string, err error)

	// ContractDeposit posts collateral through the DEX contract on behalf of
	// the sender. Used as the fallback path when a direct transfer fails.
	ContractDeposit(ctx context.Context, amount float64, sender string, cred SigningCredential) (txID string, err error)

	// ContractPayout releases profit to a recipient through the DEX contract.
	// Used as the fallback path when a direct treasury transfer fails.
	ContractPayout(ctx context.Context, amount float64, recipient string, cred SigningCredential) (txID string, err error)

	// BalanceOf retrieves the spendable balance of an address in the
	// settlement asset's native unit.
	BalanceOf(ctx context.Context, address string) (float64, error)
}
