package protocol

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const swapABIJSON = `[
  {"inputs": [], "name": "getDepegTresholdBps", "outputs": [{"name": "depegThresholdBps", "type": "uint256"}, {"name": "maximalDepegThresholdBps", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "_vault", "type": "address"}, {"name": "_from", "type": "address"}, {"name": "_to", "type": "address"}, {"name": "_amountIn", "type": "uint256"}], "name": "previewSwap", "outputs": [{"name": "amountOut", "type": "uint256"}, {"name": "ious", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "_receiver", "type": "address"}, {"name": "_vault", "type": "address"}, {"name": "_from", "type": "address"}, {"name": "_to", "type": "address"}, {"name": "_amountIn", "type": "uint256"}, {"name": "_minAmountOut", "type": "uint256"}, {"name": "_receiveIOU", "type": "bool"}], "name": "swap", "outputs": [{"name": "amountOut", "type": "uint256"}, {"name": "ious", "type": "uint256"}], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [], "name": "paused", "outputs": [{"name": "", "type": "bool"}], "stateMutability": "view", "type": "function"}
]`

const vaultABIJSON = `[
  {
    "inputs": [],
    "name": "details",
    "outputs": [
      {"name": "iouFeeBps", "type": "uint256"},
      {"name": "maximumRebalanceBpsSpread", "type": "uint256"},
      {"name": "desiredExposureMaximalBpsSpread", "type": "uint256"},
      {"name": "totalAssets", "type": "uint256"},
      {
        "name": "tokens",
        "type": "tuple[]",
        "components": [
          {"name": "addr", "type": "address"},
          {"name": "iou", "type": "address"},
          {"name": "iouCurvePool", "type": "address"},
          {"name": "adapter", "type": "address"},
          {"name": "maxExposureBps", "type": "uint256"},
          {"name": "desiredExposureBps", "type": "uint256"},
          {"name": "emitedIou", "type": "uint256"},
          {"name": "balance", "type": "uint256"},
          {"name": "exposure", "type": "uint256"},
          {"name": "decimals", "type": "uint8"}
        ]
      }
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {"inputs": [], "name": "isBalanced", "outputs": [{"name": "", "type": "bool"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "_token", "type": "address"}, {"name": "_receiver", "type": "address"}, {"name": "_amount", "type": "uint256"}], "name": "wrapIOU", "outputs": [], "stateMutability": "nonpayable", "type": "function"}
]`

const oracleABIJSON = `[
  {"inputs": [{"name": "_asset", "type": "address"}], "name": "getPriceAndRedemptionPrice", "outputs": [{"name": "price", "type": "uint256"}, {"name": "redemptionPrice", "type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

const factoryABIJSON = `[
  {"inputs": [], "name": "vaultsLength", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "", "type": "uint256"}], "name": "vaults", "outputs": [{"name": "", "type": "address"}], "stateMutability": "view", "type": "function"}
]`

const erc20ABIJSON = `[
  {"inputs": [{"name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "owner", "type": "address"}, {"name": "spender", "type": "address"}], "name": "allowance", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "spender", "type": "address"}, {"name": "amount", "type": "uint256"}], "name": "approve", "outputs": [{"name": "", "type": "bool"}], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [], "name": "decimals", "outputs": [{"name": "", "type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"name": "", "type": "string"}], "stateMutability": "view", "type": "function"}
]`

// Some legacy tokens return symbol as bytes32.
const erc20Bytes32SymbolABIJSON = `[
  {"inputs": [], "name": "symbol", "outputs": [{"name": "", "type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`

type lazyABI struct {
	json   string
	once   sync.Once
	parsed abi.ABI
	err    error
}

func (l *lazyABI) get() (abi.ABI, error) {
	l.once.Do(func() {
		l.parsed, l.err = abi.JSON(strings.NewReader(l.json))
	})
	return l.parsed, l.err
}

var (
	swapABI        = &lazyABI{json: swapABIJSON}
	vaultABI       = &lazyABI{json: vaultABIJSON}
	oracleABI      = &lazyABI{json: oracleABIJSON}
	factoryABI     = &lazyABI{json: factoryABIJSON}
	erc20ABI       = &lazyABI{json: erc20ABIJSON}
	erc20SymbolABI = &lazyABI{json: erc20Bytes32SymbolABIJSON}
)

// SwapABI returns the parsed swap router ABI.
func SwapABI() (abi.ABI, error) { return swapABI.get() }

// VaultABI returns the parsed vault ABI.
func VaultABI() (abi.ABI, error) { return vaultABI.get() }

// OracleABI returns the parsed oracle ABI.
func OracleABI() (abi.ABI, error) { return oracleABI.get() }

// FactoryABI returns the parsed factory ABI.
func FactoryABI() (abi.ABI, error) { return factoryABI.get() }

// ERC20ABI returns the parsed ERC20 subset used by the client.
func ERC20ABI() (abi.ABI, error) { return erc20ABI.get() }
