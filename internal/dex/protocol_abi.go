package dex

import "github.com/ethereum/go-ethereum/accounts/abi"

const gaugeABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "Deposit",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "Withdraw",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "ClaimRewards",
    "type": "event"
  }
]`

// votingEscrowABIJSON covers veAERO lock events. depositType follows the
// contract enum: 0 deposit for, 1 create lock, 2 increase amount, 3 increase unlock time.
const votingEscrowABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "provider", "type": "address"},
      {"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"},
      {"indexed": true, "internalType": "uint8", "name": "depositType", "type": "uint8"},
      {"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "locktime", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "ts", "type": "uint256"}
    ],
    "name": "Deposit",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "provider", "type": "address"},
      {"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "ts", "type": "uint256"}
    ],
    "name": "Withdraw",
    "type": "event"
  }
]`

// rewardABIJSON covers fee and bribe voting reward contracts.
const rewardABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "reward", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "ClaimRewards",
    "type": "event"
  }
]`

// Lock deposit types emitted by the voting escrow.
const (
	DepositForType         uint8 = 0
	CreateLockType         uint8 = 1
	IncreaseLockAmountType uint8 = 2
	IncreaseUnlockTimeType uint8 = 3
)

var (
	gauge        = &lazyABI{def: gaugeABIJSON}
	votingEscrow = &lazyABI{def: votingEscrowABIJSON}
	reward       = &lazyABI{def: rewardABIJSON}
)

// GaugeABI returns the parsed gauge ABI.
func GaugeABI() (abi.ABI, error) {
	return gauge.get()
}

// VotingEscrowABI returns the parsed voting escrow ABI.
func VotingEscrowABI() (abi.ABI, error) {
	return votingEscrow.get()
}

// RewardABI returns the parsed voting reward ABI.
func RewardABI() (abi.ABI, error) {
	return reward.get()
}
