package domain

import "strings"

// Rule names the extraction rule that produced a finding.
type Rule string

const (
	RuleBlockTransactions Rule = "block_transactions"
	RuleRawTransaction    Rule = "raw_transaction"
	RuleTransactionLookup Rule = "transaction_lookup"
	RuleReceiptLookup     Rule = "receipt_lookup"
	RuleParamFrom         Rule = "param_from"
	RuleCallFrom          Rule = "call_from"
)

// Finding is a normalized sender address discovered by one rule.
type Finding struct {
	Address string
	Rule    Rule
}

// NormalizeAddress case-folds an address. No checksum validation is done.
func NormalizeAddress(raw string) string {
	return strings.ToLower(raw)
}
