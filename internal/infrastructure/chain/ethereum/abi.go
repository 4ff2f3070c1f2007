package ethchain

// Subset of the rollup processor contract used for deposits.
const rollupProcessorABI = `[
	{"type":"function","name":"depositPendingFunds","stateMutability":"payable",
	 "inputs":[{"name":"assetId","type":"uint256"},{"name":"amount","type":"uint256"},
	           {"name":"owner","type":"address"},{"name":"proofHash","type":"bytes32"}],
	 "outputs":[]},
	{"type":"function","name":"userPendingDeposits","stateMutability":"view",
	 "inputs":[{"name":"assetId","type":"uint256"},{"name":"user","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approveProof","stateMutability":"nonpayable",
	 "inputs":[{"name":"proofHash","type":"bytes32"}],
	 "outputs":[]},
	{"type":"function","name":"depositProofApprovals","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"},{"name":"proofHash","type":"bytes32"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`
