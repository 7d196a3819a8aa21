package constants

const (
	AppName       = "quantumauth-wallet"
	StorageFile   = "storage.json"
	StorageDB     = "storage.ldb"
	KeyringDir    = "keyring"
	KeyringExt    = ".key.json"
	SchemaV1      = 1
	JSONRPCV2     = "2.0"
	HexPrefix0x   = "0x"
	DefaultPort   = "6140"
	DefaultHost   = "127.0.0.1"
	WalletName    = "QuantumAuth Wallet"
	WalletRDNS    = "io.quantumauth.wallet"
	WalletIcon    = "data:image/svg+xml;base64,PHN2ZyB4bWxucz0iaHR0cDovL3d3dy53My5vcmcvMjAwMC9zdmciIHZpZXdCb3g9IjAgMCAzMiAzMiI+PGNpcmNsZSBjeD0iMTYiIGN5PSIxNiIgcj0iMTYiIGZpbGw9IiMxMTE4MjciLz48L3N2Zz4="
	WalletVersion = "1.0.0"

	FilePerm      = 0o600
	DirectoryPerm = 0o700

	// AAD for keyring payload encryption (must match on decrypt).
	KeyringAAD = "quantumauth:wallet:keyring:v1"

	// MessagePrefix namespaces every envelope tag on the shared buses.
	MessagePrefix = "quantumauth_wallet:"
)

// Durable storage keys.
const (
	StorageKeyAccounts       = "accounts"
	StorageKeyCurrentAccount = "currentAccountAddress"
	StorageKeyNetworks       = "networks"
	StorageKeyCurrentChainID = "currentChainId"
)

// Discovery events.
const (
	EventRequestProvider  = "eip6963:requestProvider"
	EventAnnounceProvider = "eip6963:announceProvider"
)
