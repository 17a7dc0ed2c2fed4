package chaincontracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// The three contracts consumed here are part of the system under
// specification (see the contract-trio design in the spec's component
// design section) but are deployed and compiled separately; the gateway
// only needs their call surface, so the ABIs below are minimal — only the
// functions this codebase actually invokes.

const serviceRegistryABI = `[
	{"inputs":[{"name":"serviceIdHash","type":"bytes32"},{"name":"provider","type":"address"},{"name":"priceBaseUnits","type":"uint256"},{"name":"name","type":"string"},{"name":"endpoint","type":"string"}],"name":"register","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"serviceIdHash","type":"bytes32"},{"name":"priceBaseUnits","type":"uint256"}],"name":"updatePrice","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"serviceIdHash","type":"bytes32"}],"name":"deactivate","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"serviceIdHash","type":"bytes32"}],"name":"reactivate","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"serviceIdHash","type":"bytes32"}],"name":"services","outputs":[{"name":"provider","type":"address"},{"name":"priceBaseUnits","type":"uint256"},{"name":"name","type":"string"},{"name":"endpoint","type":"string"},{"name":"active","type":"bool"},{"name":"createdAt","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const escrowABI = `[
	{"inputs":[{"name":"provider","type":"address"},{"name":"payer","type":"address"},{"name":"amount","type":"uint256"}],"name":"receivePayment","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"claim","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"provider","type":"address"},{"name":"amount","type":"uint256"}],"name":"withdraw","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"provider","type":"address"}],"name":"providerBalances","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"platformFeePercent","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"owner","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const paymentProcessorABI = `[
	{"inputs":[
		{"name":"serviceIdHash","type":"bytes32"},
		{"name":"from","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"validAfter","type":"uint256"},
		{"name":"validBefore","type":"uint256"},
		{"name":"nonce","type":"bytes32"},
		{"name":"v","type":"uint8"},
		{"name":"r","type":"bytes32"},
		{"name":"s","type":"bytes32"}
	],"name":"processPayment","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"","type":"address"},{"name":"","type":"bytes32"}],"name":"usedNonces","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`

const erc3009TokenABI = `[
	{"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[
		{"name":"from","type":"address"},
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"validAfter","type":"uint256"},
		{"name":"validBefore","type":"uint256"},
		{"name":"nonce","type":"bytes32"},
		{"name":"v","type":"uint8"},
		{"name":"r","type":"bytes32"},
		{"name":"s","type":"bytes32"}
	],"name":"receiveWithAuthorization","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chaincontracts: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

var (
	registryContractABI  = mustParseABI(serviceRegistryABI)
	escrowContractABI    = mustParseABI(escrowABI)
	processorContractABI = mustParseABI(paymentProcessorABI)
	tokenContractABI     = mustParseABI(erc3009TokenABI)
)
