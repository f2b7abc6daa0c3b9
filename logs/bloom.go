package logs

import (
	"github.com/ethereum/go-ethereum/core/types"
)

// TransferInBloom reports whether a receipt or block bloom may contain a
// Transfer event. False positives are possible; false negatives are not.
func TransferInBloom(bloom types.Bloom) bool {
	return bloom.Test(TransferEvent.Bytes())
}
