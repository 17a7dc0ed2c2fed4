package gateway

import (
	"strconv"

	"github.com/x402gw/gateway/internal/catalog"
	"github.com/x402gw/gateway/pkg/x402"
)

// TokenInfo carries the EIP-712 domain metadata a signer needs, read once
// at startup from the configured token contract (name, symbol, decimals)
// rather than re-queried per challenge.
type TokenInfo struct {
	Address  string
	Name     string
	Symbol   string
	Decimals int
}

// ChallengeBuilder constructs the 402 body of spec §4.2 from a service
// record. Each challenge is stateless — the signature itself carries all
// replay-relevant state, so nothing is recorded server-side here.
type ChallengeBuilder struct {
	EscrowAddress string
	ChainID       int64
	Token         TokenInfo
}

// Build produces the payment requirements block for svc. The payTo field
// is always the escrow contract address — never the provider's wallet —
// so a signature that echoes a tampered payTo is caught by the verifier's
// destination check before any chain submission.
func (b *ChallengeBuilder) Build(svc *catalog.ServiceRecord) x402.PaymentRequirement {
	return x402.PaymentRequirement{
		Scheme:            x402.SchemeGasless,
		Network:           b.network(),
		MaxAmountRequired: svc.PriceBaseUnits,
		Resource:          "/gateway/" + svc.ServiceID,
		Description:       svc.Name,
		PayTo:             b.EscrowAddress,
		MaxTimeoutSeconds: DefaultMaxTimeoutSeconds,
		Asset:             b.Token.Address,
		Extra: x402.Extra{
			Symbol:    b.Token.Symbol,
			Decimals:  b.Token.Decimals,
			TokenName: b.Token.Name,
		},
	}
}

// Challenge wraps Build's requirement in the canonical 402 envelope.
func (b *ChallengeBuilder) Challenge(svc *catalog.ServiceRecord) x402.Challenge {
	return x402.NewChallenge(b.Build(svc))
}

func (b *ChallengeBuilder) network() string {
	return "eip155:" + strconv.FormatInt(b.ChainID, 10)
}
