package domain

// Transaction is the subset of a chain transaction needed to attribute a sender.
type Transaction struct {
	Hash        string
	From        string
	To          string
	BlockNumber uint64
}
