// Package abi holds the parsed contract interfaces of the BTB hunt game,
// its ERC-721 and ERC-20 collateral, the staking pool and the swap desk.
package abi

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	GameABI    = mustParse("game", gameJSON)
	ERC721ABI  = mustParse("erc721", erc721JSON)
	ERC20ABI   = mustParse("erc20", erc20JSON)
	StakingABI = mustParse("staking", stakingJSON)
	SwapABI    = mustParse("swap", swapJSON)
)

func mustParse(name, raw string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("abi: failed to parse " + name + " interface: " + err.Error())
	}
	return &parsed
}

const transferEventJSON = `{"type":"event","name":"Transfer","anonymous":false,"inputs":[
	{"name":"from","type":"address","indexed":true},
	{"name":"to","type":"address","indexed":true},
	{"name":"tokenId","type":"uint256","indexed":true}]}`

const gameJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokenOfOwnerByIndex","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getHunterStats","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],
	 "outputs":[
		{"name":"creationTime","type":"uint256"},
		{"name":"lastFeedTime","type":"uint256"},
		{"name":"lastHuntTime","type":"uint256"},
		{"name":"power","type":"uint256"},
		{"name":"missedFeedings","type":"uint256"},
		{"name":"inHibernation","type":"bool"},
		{"name":"recoveryStartTime","type":"uint256"},
		{"name":"totalHunted","type":"uint256"},
		{"name":"daysRemaining","type":"uint256"}]},
	{"type":"function","name":"canFeed","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"},{"name":"reason","type":"string"}]},
	{"type":"function","name":"canHunt","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"},{"name":"reason","type":"string"}]},
	{"type":"function","name":"isHunterActive","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"feedCost","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"redemptionPrice","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"depositBears","stateMutability":"nonpayable",
	 "inputs":[{"name":"bearIds","type":"uint256[]"}],"outputs":[]},
	{"type":"function","name":"depositBears","stateMutability":"nonpayable",
	 "inputs":[{"name":"bearIds","type":"uint256[]"},{"name":"recipient","type":"address"}],"outputs":[]},
	{"type":"function","name":"feedHunters","stateMutability":"nonpayable",
	 "inputs":[{"name":"hunterIds","type":"uint256[]"}],"outputs":[]},
	{"type":"function","name":"hunt","stateMutability":"nonpayable",
	 "inputs":[{"name":"hunterIds","type":"uint256[]"}],"outputs":[]},
	{"type":"function","name":"redeemBears","stateMutability":"nonpayable",
	 "inputs":[{"name":"count","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"processDailyBatch","stateMutability":"nonpayable",
	 "inputs":[],"outputs":[]},
	` + transferEventJSON + `
]`

const erc721JSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokenOfOwnerByIndex","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"isApprovedForAll","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"setApprovalForAll","stateMutability":"nonpayable",
	 "inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
	` + transferEventJSON + `
]`

const erc20JSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"decimals","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]}
]`

const stakingJSON = `[
	{"type":"function","name":"stake","stateMutability":"nonpayable",
	 "inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"unstake","stateMutability":"nonpayable",
	 "inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"totalStaked","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"rewardRate","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"stakedBalance","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

const swapJSON = `[
	{"type":"function","name":"swapRate","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"swapFeeBps","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getAmountOut","stateMutability":"view",
	 "inputs":[{"name":"amountIn","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"swapBTBForMiMo","stateMutability":"nonpayable",
	 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"minAmountOut","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"swap","stateMutability":"nonpayable",
	 "inputs":[{"name":"amountIn","type":"uint256"}],"outputs":[]}
]`
