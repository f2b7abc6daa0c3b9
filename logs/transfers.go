package logs

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Transfer is one decoded ERC-721 Transfer.
type Transfer struct {
	Collection common.Address
	From       common.Address
	To         common.Address
	TokenID    *big.Int
}

// Transfers decodes the ERC-721 Transfer events emitted by collection, in
// log order.
func Transfers(logs []*types.Log, collection common.Address) []Transfer {
	var out []Transfer
	for _, log := range logs {
		if log == nil || log.Address != collection {
			continue
		}
		// ERC-721 indexes all three arguments. ERC-20 Transfers share the
		// topic but carry the amount in Data, so they only have three topics.
		if len(log.Topics) != 4 || log.Topics[0] != TransferEvent {
			continue
		}
		out = append(out, Transfer{
			Collection: log.Address,
			From:       common.BytesToAddress(log.Topics[1].Bytes()),
			To:         common.BytesToAddress(log.Topics[2].Bytes()),
			TokenID:    new(big.Int).SetBytes(log.Topics[3].Bytes()),
		})
	}
	return out
}

// MintedTokenIDs returns the ids collection minted to recipient, without
// duplicates and in mint order.
func MintedTokenIDs(logs []*types.Log, collection, recipient common.Address) []*big.Int {
	seen := make(map[string]struct{})
	var ids []*big.Int
	for _, tr := range Transfers(logs, collection) {
		if tr.From != (common.Address{}) || tr.To != recipient {
			continue
		}
		key := tr.TokenID.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ids = append(ids, tr.TokenID)
	}
	return ids
}
