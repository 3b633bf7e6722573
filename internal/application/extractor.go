package application

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"addrscan/internal/domain"
)

const (
	MethodGetBlockByNumber      = "eth_getBlockByNumber"
	MethodGetBlockByHash        = "eth_getBlockByHash"
	MethodSendRawTransaction    = "eth_sendRawTransaction"
	MethodGetTransactionByHash  = "eth_getTransactionByHash"
	MethodGetTransactionReceipt = "eth_getTransactionReceipt"
	MethodCall                  = "eth_call"
	MethodEstimateGas           = "eth_estimateGas"
)

const defaultResolveTimeout = 10 * time.Second

// TransactionResolver looks up a transaction by hash on one chain.
type TransactionResolver interface {
	TransactionByHash(ctx context.Context, hash string) (domain.Transaction, error)
}

// ResolverFunc adapts a function to TransactionResolver.
type ResolverFunc func(ctx context.Context, hash string) (domain.Transaction, error)

func (f ResolverFunc) TransactionByHash(ctx context.Context, hash string) (domain.Transaction, error) {
	return f(ctx, hash)
}

type ExtractorConfig struct {
	// ResolveTimeout bounds each resolver call. Zero selects the default,
	// a negative value disables the bound.
	ResolveTimeout time.Duration
}

// Extractor finds sender addresses in captured RPC records. It never fails:
// malformed shapes and resolver errors only reduce the findings.
type Extractor struct {
	cfg ExtractorConfig
}

func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.ResolveTimeout == 0 {
		cfg.ResolveTimeout = defaultResolveTimeout
	}
	return &Extractor{cfg: cfg}
}

type extractRule func(ctx context.Context, record domain.Record, resolver TransactionResolver) []domain.Finding

// Extract evaluates every rule against the record. Findings are lower-cased
// and duplicates are kept, so one record may count an address more than once.
func (e *Extractor) Extract(ctx context.Context, record domain.Record, resolver TransactionResolver) []domain.Finding {
	var findings []domain.Finding
	if rule, name, ok := e.methodRule(record.Method); ok {
		findings = append(findings, e.apply(ctx, name, rule, record, resolver)...)
	}
	findings = append(findings, e.apply(ctx, domain.RuleParamFrom, e.paramFrom, record, resolver)...)
	findings = append(findings, e.apply(ctx, domain.RuleCallFrom, e.callFrom, record, resolver)...)
	return findings
}

func (e *Extractor) methodRule(method string) (extractRule, domain.Rule, bool) {
	switch method {
	case MethodGetBlockByNumber, MethodGetBlockByHash:
		return e.blockTransactions, domain.RuleBlockTransactions, true
	case MethodSendRawTransaction:
		return e.rawTransaction, domain.RuleRawTransaction, true
	case MethodGetTransactionByHash:
		return e.transactionLookup, domain.RuleTransactionLookup, true
	case MethodGetTransactionReceipt:
		return e.receiptLookup, domain.RuleReceiptLookup, true
	default:
		return nil, "", false
	}
}

// apply contains a panicking rule to that rule; its partial findings are dropped.
func (e *Extractor) apply(ctx context.Context, name domain.Rule, rule extractRule, record domain.Record, resolver TransactionResolver) (findings []domain.Finding) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("extraction rule failed",
				"rule", name,
				"record", record.ID,
				"method", record.Method,
				"panic", r,
			)
			findings = nil
		}
	}()
	return rule(ctx, record, resolver)
}

func (e *Extractor) blockTransactions(ctx context.Context, record domain.Record, resolver TransactionResolver) []domain.Finding {
	field, ok := objectField(record.Result, "transactions")
	if !ok || jsonKind(field) != '[' {
		return nil
	}
	var transactions []json.RawMessage
	if err := json.Unmarshal(field, &transactions); err != nil {
		return nil
	}

	var findings []domain.Finding
	for _, raw := range transactions {
		switch jsonKind(raw) {
		case '{':
			if from, ok := fromOf(raw); ok {
				findings = append(findings, newFinding(from, domain.RuleBlockTransactions))
			}
		case '"':
			hash, ok := decodeString(raw)
			if !ok {
				continue
			}
			if from, ok := e.resolveSender(ctx, resolver, hash); ok {
				findings = append(findings, newFinding(from, domain.RuleBlockTransactions))
			}
		}
	}
	return findings
}

func (e *Extractor) rawTransaction(ctx context.Context, record domain.Record, resolver TransactionResolver) []domain.Finding {
	hash, ok := decodeString(record.Result)
	if !ok {
		return nil
	}
	from, ok := e.resolveSender(ctx, resolver, hash)
	if !ok {
		return nil
	}
	return []domain.Finding{newFinding(from, domain.RuleRawTransaction)}
}

func (e *Extractor) transactionLookup(_ context.Context, record domain.Record, _ TransactionResolver) []domain.Finding {
	from, ok := fromOf(record.Result)
	if !ok {
		return nil
	}
	return []domain.Finding{newFinding(from, domain.RuleTransactionLookup)}
}

func (e *Extractor) receiptLookup(ctx context.Context, record domain.Record, resolver TransactionResolver) []domain.Finding {
	raw, ok := record.Param(0)
	if !ok {
		return nil
	}
	hash, ok := decodeString(raw)
	if !ok {
		return nil
	}
	from, ok := e.resolveSender(ctx, resolver, hash)
	if !ok {
		return nil
	}
	return []domain.Finding{newFinding(from, domain.RuleReceiptLookup)}
}

func (e *Extractor) paramFrom(_ context.Context, record domain.Record, _ TransactionResolver) []domain.Finding {
	var findings []domain.Finding
	for _, raw := range record.Params {
		if from, ok := fromOf(raw); ok {
			findings = append(findings, newFinding(from, domain.RuleParamFrom))
		}
	}
	return findings
}

// callFrom repeats the params[0].from finding of paramFrom for call and
// estimate records. The double count is kept as observed behaviour.
func (e *Extractor) callFrom(_ context.Context, record domain.Record, _ TransactionResolver) []domain.Finding {
	if record.Method != MethodCall && record.Method != MethodEstimateGas {
		return nil
	}
	raw, ok := record.Param(0)
	if !ok {
		return nil
	}
	from, ok := fromOf(raw)
	if !ok {
		return nil
	}
	return []domain.Finding{newFinding(from, domain.RuleCallFrom)}
}

// resolveSender is the only place resolver errors are swallowed.
func (e *Extractor) resolveSender(ctx context.Context, resolver TransactionResolver, hash string) (from string, ok bool) {
	if resolver == nil || hash == "" {
		return "", false
	}
	if e.cfg.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ResolveTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("transaction resolve panicked", "hash", hash, "panic", r)
			from, ok = "", false
		}
	}()

	tx, err := resolver.TransactionByHash(ctx, hash)
	if err != nil {
		slog.Debug("transaction resolve failed", "hash", hash, "err", err)
		return "", false
	}
	if tx.From == "" {
		return "", false
	}
	return tx.From, true
}

func newFinding(raw string, rule domain.Rule) domain.Finding {
	return domain.Finding{Address: domain.NormalizeAddress(raw), Rule: rule}
}

func fromOf(raw json.RawMessage) (string, bool) {
	field, ok := objectField(raw, "from")
	if !ok {
		return "", false
	}
	return decodeString(field)
}

// objectField returns the value stored under exactly key. Struct tags would
// also accept "From" or "FROM", which are different fields on the wire.
func objectField(raw json.RawMessage, key string) (json.RawMessage, bool) {
	if jsonKind(raw) != '{' {
		return nil, false
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(raw, &object); err != nil {
		return nil, false
	}
	value, ok := object[key]
	return value, ok
}

func decodeString(raw json.RawMessage) (string, bool) {
	if jsonKind(raw) != '"' {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil || value == "" {
		return "", false
	}
	return value, true
}

// jsonKind returns the first significant byte of a JSON value, or 0 when empty.
func jsonKind(raw json.RawMessage) byte {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}
