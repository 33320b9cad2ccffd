package utils

/*
BIP-44 path for the operator key that signs outbound cross-chain messages:
m / purpose' / coin_type' / account' / change / address_index

	44'  purpose (BIP-44)
	60'  coin type (Ethereum-compatible signing key)
	0'   account
	0    external chain
	N    operator index
*/
const (
	ETH_DERIVATION_PATH_PREFIX = "m/44'/60'/0'/0/"
	DefaultOperatorPath        = ETH_DERIVATION_PATH_PREFIX + "0"
)

// BasisPoints is 100% expressed in parts-per-10000.
const BasisPoints uint64 = 10_000
