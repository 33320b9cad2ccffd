package errors

type Code string

const (
	// chain / transport
	CodeChainRPC    Code = "CHAIN_RPC_ERROR"
	CodeGasEstimate Code = "GAS_ESTIMATE_ERROR"
	PendingNonceAt  Code = "PENDING_NONCE_AT_ERROR"
	DailChain       Code = "DIAL_CHAIN_ERROR"
	SignerErr       Code = "SIGNER_ERROR"
	SendTxErr       Code = "SEND_TX_ERROR"
	GetchainIDErr   Code = "GET_CHAIN_ID_ERROR"
	CodeEncode      Code = "ENCODE_ERROR"
	CodeOracle      Code = "ORACLE_ERROR"
	CodeCustody     Code = "CUSTODY_ERROR"

	// authorization
	CodeUnauthorized Code = "UNAUTHORIZED"

	// state
	CodeUnsupportedAsset           Code = "UNSUPPORTED_ASSET"
	CodeAssetExists                Code = "ASSET_EXISTS"
	CodeTransactionNotFound        Code = "TRANSACTION_NOT_FOUND"
	CodeTransactionAlreadyComplete Code = "TRANSACTION_ALREADY_COMPLETED"
	CodeDuplicateSequence          Code = "DUPLICATE_SEQUENCE"
	CodeStrategyUnavailable        Code = "STRATEGY_UNAVAILABLE"
	CodeNotActive                  Code = "NOT_ACTIVE"
	CodeAssetMismatch              Code = "ASSET_MISMATCH"
	CodeHarvestTooSoon             Code = "HARVEST_TOO_SOON"
	CodeNoYield                    Code = "NO_YIELD"
	CodeReentrantCall              Code = "REENTRANT_CALL"
	CodeInsufficientLiquidity      Code = "INSUFFICIENT_LIQUIDITY"
	CodeUnknownProtocol            Code = "UNKNOWN_PROTOCOL"

	// arithmetic
	CodeZeroAmount          Code = "ZERO_AMOUNT"
	CodeWeightExceeded      Code = "WEIGHT_EXCEEDED"
	CodeInvalidRatio        Code = "INVALID_RATIO"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientFee     Code = "INSUFFICIENT_FEE"
	CodeInsufficientAllow   Code = "INSUFFICIENT_ALLOWANCE"
	CodeInvalidRate         Code = "INVALID_RATE"
	CodeIndexOutOfRange     Code = "INDEX_OUT_OF_RANGE"
)
