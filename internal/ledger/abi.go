package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const betContractABIJSON = `[
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"user","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"BetPlaced","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"user","type":"address"}],"name":"ProofFailed","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"user","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"RewardClaimed","type":"event"},
{"inputs":[{"internalType":"uint256[24]","name":"proof","type":"uint256[24]"},{"internalType":"uint256[1]","name":"pubSignals","type":"uint256[1]"},{"internalType":"uint256","name":"multiplier","type":"uint256"}],"name":"claimReward","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[],"name":"placeBet","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[{"internalType":"address","name":"","type":"address"}],"name":"hasClaimed","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"","type":"address"}],"name":"userBets","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const (
	methodPlaceBet    = "placeBet"
	methodClaimReward = "claimReward"
	methodHasClaimed  = "hasClaimed"
	methodUserBets    = "userBets"

	EventBetPlaced     = "BetPlaced"
	EventRewardClaimed = "RewardClaimed"
	EventProofFailed   = "ProofFailed"
)

var betContractABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(betContractABIJSON))
	if err != nil {
		panic("failed to parse bet contract ABI: " + err.Error())
	}
	betContractABI = parsed
}
