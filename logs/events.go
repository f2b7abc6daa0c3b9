package logs

import btbabi "github.com/btb-finance/btb-chain-client/abi"

var (
	// TransferEvent is the ERC-721 Transfer topic emitted by both the Bear and
	// Hunter collections.
	TransferEvent = btbabi.ERC721ABI.Events["Transfer"].ID
)
