package networks

// knownExplorers fills the explorer of well-known chains added without one.
var knownExplorers = map[uint64]string{
	// Ethereum
	1:        "https://etherscan.io",
	11155111: "https://sepolia.etherscan.io",
	17000:    "https://holesky.etherscan.io",

	// Layer 2s
	42161:  "https://arbiscan.io",
	421614: "https://sepolia.arbiscan.io",

	10:       "https://optimistic.etherscan.io",
	11155420: "https://sepolia-optimistic.etherscan.io",

	8453:  "https://basescan.org",
	84532: "https://sepolia.basescan.org",

	137: "https://polygonscan.com",

	534352: "https://scrollscan.com",
	534351: "https://sepolia.scrollscan.com",
}

func enrich(c Chain) Chain {
	if c.ExplorerURL == "" {
		c.ExplorerURL = knownExplorers[c.ID]
	}
	return c
}
