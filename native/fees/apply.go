package fees

import "math/big"

// MaxBps is the denominator used for basis-point fee math.
const MaxBps = 10_000

// Split divides a gross amount into the fee owed to the treasury and the net
// payout. A nil or non-positive gross yields zero for both legs; a fee that
// would round to the full amount consumes it entirely. The two return values
// always sum to the (non-negative) gross.
func Split(gross *big.Int, feeBps uint32) (fee, net *big.Int) {
	fee = big.NewInt(0)
	if gross == nil || gross.Sign() <= 0 {
		return fee, big.NewInt(0)
	}
	net = new(big.Int).Set(gross)
	if feeBps == 0 {
		return fee, net
	}
	if feeBps > MaxBps {
		feeBps = MaxBps
	}
	fee = new(big.Int).Mul(net, new(big.Int).SetUint64(uint64(feeBps)))
	fee.Div(fee, big.NewInt(MaxBps))
	if fee.Sign() <= 0 {
		return big.NewInt(0), net
	}
	if fee.Cmp(net) >= 0 {
		return net, big.NewInt(0)
	}
	return fee, new(big.Int).Sub(net, fee)
}

// Policy captures the release-fee configuration injected from node config.
type Policy struct {
	FeeBps   uint32
	Treasury [20]byte
}

// Enabled reports whether the policy routes any fee at all.
func (p Policy) Enabled() bool {
	return p.FeeBps > 0 && p.Treasury != ([20]byte{})
}
