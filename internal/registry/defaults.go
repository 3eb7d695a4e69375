package registry

import "bridge-etl/internal/rpc"

// DefaultMaxBlocks is the eth_getLogs window for chains without a specific
// limit.
const DefaultMaxBlocks uint64 = 5000

// maxBlocks are provider window limits per chain.
var maxBlocks = map[string]uint64{
	"harmony":   1024,
	"bsc":       1024,
	"ethereum":  1024,
	"moonriver": 1024,
	"aurora":    1024,
	"moonbeam":  1024,
	"dfk":       1024,
	"cronos":    2000,
	"boba":      512,
	"polygon":   2048,
	"avalanche": 2048,
}

// Pool keys used in configuration and in the start block table.
const (
	PoolNUSD  = "nusd"
	PoolNETH  = "neth"
	Pool3Pool = "3pool"
)

// poolStartBlocks is the deployment block of every known pool.
var poolStartBlocks = map[string]map[string]uint64{
	"ethereum":  {PoolNUSD: 13033711},
	"avalanche": {PoolNUSD: 6619002, PoolNETH: 7378400},
	"bsc":       {PoolNUSD: 12431591},
	"polygon":   {PoolNUSD: 21071348},
	"arbitrum":  {PoolNUSD: 2876718, PoolNETH: 762758, Pool3Pool: 5152261},
	"fantom":    {PoolNUSD: 21297076, PoolNETH: 28288390, Pool3Pool: 29236172},
	"harmony":   {PoolNUSD: 19163634},
	"boba":      {PoolNUSD: 16221, PoolNETH: 49329},
	"optimism":  {PoolNETH: 30819, PoolNUSD: 6045403},
	"aurora":    {PoolNUSD: 56441515},
	"metis":     {PoolNUSD: 1251758, PoolNETH: 1698938},
	"cronos":    {PoolNUSD: 2511054},
	"klaytn":    {PoolNUSD: 94136612},
	"canto":     {PoolNUSD: 1060258},
}

// MaxBlocks returns the default eth_getLogs window for chain.
func MaxBlocks(chain string) uint64 {
	if n, ok := maxBlocks[chain]; ok {
		return n
	}
	return DefaultMaxBlocks
}

// PoolStartBlock returns the known deployment block of a pool. Unknown pools
// start at block 0.
func PoolStartBlock(chain, pool string) uint64 {
	return poolStartBlocks[chain][pool]
}

// GasModel returns how gas is priced on chain.
func GasModel(chain string) rpc.GasModel {
	switch chain {
	case "arbitrum":
		return rpc.GasArbitrum
	case "optimism", "boba":
		return rpc.GasL1Fee
	default:
		return rpc.GasStandard
	}
}
