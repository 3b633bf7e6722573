package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"addrscan/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hashOne = "0x1111111111111111111111111111111111111111111111111111111111111111"
	hashTwo = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

type stubResolver struct {
	mu    sync.Mutex
	txs   map[string]domain.Transaction
	calls []string
}

func (s *stubResolver) TransactionByHash(ctx context.Context, hash string) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, hash)
	tx, ok := s.txs[hash]
	if !ok {
		return domain.Transaction{}, errors.New("transaction not found")
	}
	return tx, nil
}

func newRecord(t *testing.T, method string, params []any, result any) domain.Record {
	t.Helper()
	record := domain.Record{ID: "rec", Chain: "test", Method: method}
	for _, param := range params {
		raw, err := json.Marshal(param)
		require.NoError(t, err)
		record.Params = append(record.Params, raw)
	}
	if result != nil {
		raw, err := json.Marshal(result)
		require.NoError(t, err)
		record.Result = raw
	}
	return record
}

func addresses(findings []domain.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, finding := range findings {
		out = append(out, finding.Address)
	}
	return out
}

func TestExtract_TransactionLookupLowercases(t *testing.T) {
	extractor := NewExtractor(ExtractorConfig{})
	record := newRecord(t, MethodGetTransactionByHash, []any{hashOne}, map[string]any{
		"hash": hashOne,
		"from": "0xABCDEF0123",
	})

	findings := extractor.Extract(context.Background(), record, nil)

	require.Len(t, findings, 1)
	assert.Equal(t, "0xabcdef0123", findings[0].Address)
	assert.Equal(t, domain.RuleTransactionLookup, findings[0].Rule)
}

func TestExtract_NoMatchingRule(t *testing.T) {
	extractor := NewExtractor(ExtractorConfig{})
	resolver := &stubResolver{}

	cases := []domain.Record{
		{},
		newRecord(t, "eth_blockNumber", nil, "0x10"),
		newRecord(t, "eth_getBalance", []any{"0xabc", "latest"}, "0x0"),
		newRecord(t, MethodGetTransactionByHash, []any{hashOne}, nil),
		newRecord(t, MethodGetTransactionByHash, []any{hashOne}, map[string]any{"from": nil}),
		newRecord(t, MethodGetTransactionByHash, []any{hashOne}, map[string]any{"from": 42}),
		newRecord(t, MethodGetBlockByNumber, []any{"latest", true}, map[string]any{"transactions": "0x5"}),
		newRecord(t, MethodGetBlockByNumber, []any{"latest", true}, "not a block"),
		newRecord(t, MethodCall, []any{"not an object"}, "0x"),
	}
	for _, record := range cases {
		assert.NotPanics(t, func() {
			assert.Empty(t, extractor.Extract(context.Background(), record, resolver))
		})
	}
	assert.Empty(t, resolver.calls)
}

func TestExtract_BlockWithTransactionObjectsKeepsDuplicates(t *testing.T) {
	extractor := NewExtractor(ExtractorConfig{})
	record := newRecord(t, MethodGetBlockByNumber, []any{"0x10", true}, map[string]any{
		"number": "0x10",
		"transactions": []any{
			map[string]any{"hash": hashOne, "from": "0xA"},
			map[string]any{"hash": hashTwo, "from": "0xB"},
			map[string]any{"hash": hashOne, "from": "0xA"},
			map[string]any{"hash": hashTwo},
		},
	})

	findings := extractor.Extract(context.Background(), record, nil)
	assert.Equal(t, []string{"0xa", "0xb", "0xa"}, addresses(findings))

	agg := NewAggregator()
	agg.AddFindings(findings)
	list, counts := agg.Snapshot()
	assert.ElementsMatch(t, []string{"0xa", "0xb"}, list)
	assert.Equal(t, map[string]uint64{"0xa": 2, "0xb": 1}, counts)
}

func TestExtract_BlockWithHashesSkipsFailedResolution(t *testing.T) {
	extractor := NewExtractor(ExtractorConfig{})
	resolver := &stubResolver{txs: map[string]domain.Transaction{
		hashOne: {Hash: hashOne, From: "0xC"},
	}}

	for _, method := range []string{MethodGetBlockByNumber, MethodGetBlockByHash} {
		record := newRecord(t, method, []any{"0x10", false}, map[string]any{
			"transactions": []any{hashOne, hashTwo},
		})
		var findings []domain.Finding
		require.NotPanics(t, func() {
			findings = extractor.Extract(context.Background(), record, resolver)
		})
		assert.Equal(t, []string{"0xc"}, addresses(findings), method)
	}
	assert.Equal(t, []string{hashOne, hashTwo, hashOne, hashTwo}, resolver.calls)
}

func TestExtract_RawTransactionSubmission(t *testing.T) {
	extractor := NewExtractor(ExtractorConfig{})
	resolver := &stubResolver{txs: map[string]domain.Transaction{
		hashOne: {Hash: hashOne, From: "0xDeAd"},
	}}

	found := extractor.Extract(context.Background(), newRecord(t, MethodSendRawTransaction, []any{"0xf86c"}, hashOne), resolver)
	require.Len(t, found, 1)
	assert.Equal(t, domain.Finding{Address: "0xdead", Rule: domain.RuleRawTransaction}, found[0])

	missing := extractor.Extract(context.Background(), newRecord(t, MethodSendRawTransaction, []any{"0xf86c"}, hashTwo), resolver)
	assert.Empty(t, missing)

	noResult := extractor.Extract(context.Background(), newRecord(t, MethodSendRawTransaction, []any{"0xf86c"}, nil), resolver)
	assert.Empty(t, noResult)
	assert.Equal(t, []string{hashOne, hashTwo}, resolver.calls)
}

func TestExtract_ReceiptLookupResolvesFirstParam(t *testing.T) {
	extractor := NewExtractor(ExtractorConfig{})
	resolver := &stubResolver{txs: map[string]domain.Transaction{
		hashOne: {Hash: hashOne, From: "0xBEEF"},
	}}

	found := extractor.Extract(context.Background(), newRecord(t, MethodGetTransactionReceipt, []any{hashOne}, map[string]any{"status": "0x1"}), resolver)
	assert.Equal(t, []string{"0xbeef"}, addresses(found))

	assert.Empty(t, extractor.Extract(context.Background(), newRecord(t, MethodGetTransactionReceipt, nil, nil), resolver))
	assert.Empty(t, extractor.Extract(context.Background(), newRecord(t, MethodGetTransactionReceipt, []any{hashTwo}, nil), resolver))
	assert.Equal(t, []string{hashOne, hashTwo}, resolver.calls)
}

func TestExtract_CallCountsParamFromTwice(t *testing.T) {
	extractor := NewExtractor(ExtractorConfig{})

	for _, method := range []string{MethodCall, MethodEstimateGas} {
		record := newRecord(t, method, []any{
			map[string]any{"from": "0xAbC", "to": "0xdef", "data": "0x"},
			"latest",
		}, "0x")

		findings := extractor.Extract(context.Background(), record, nil)
		require.Len(t, findings, 2, method)
		assert.Equal(t, domain.Finding{Address: "0xabc", Rule: domain.RuleParamFrom}, findings[0])
		assert.Equal(t, domain.Finding{Address: "0xabc", Rule: domain.RuleCallFrom}, findings[1])

		agg := NewAggregator()
		agg.AddFindings(findings)
		assert.Equal(t, uint64(2), agg.Counts().Get("0xabc"))
		assert.Equal(t, 1, agg.UniqueSet().Len())
	}
}

func TestExtract_ParamFromAppliesToAnyMethod(t *testing.T) {
	extractor := NewExtractor(ExtractorConfig{})
	record := newRecord(t, "eth_sendTransaction", []any{
		map[string]any{"from": "0x01"},
		map[string]any{"to": "0x02"},
		map[string]any{"from": "0x03"},
	}, hashOne)

	findings := extractor.Extract(context.Background(), record, nil)
	assert.Equal(t, []string{"0x01", "0x03"}, addresses(findings))
	for _, finding := range findings {
		assert.Equal(t, domain.RuleParamFrom, finding.Rule)
	}
}

func TestExtract_MethodRuleAndParamRuleAreAdditive(t *testing.T) {
	extractor := NewExtractor(ExtractorConfig{})
	record := newRecord(t, MethodGetBlockByHash, []any{hashOne, map[string]any{"from": "0xF00"}}, map[string]any{
		"transactions": []any{map[string]any{"from": "0xBAA"}},
	})

	findings := extractor.Extract(context.Background(), record, nil)
	assert.Equal(t, []string{"0xbaa", "0xf00"}, addresses(findings))
}

func TestExtract_ResolverTimeoutIsSkipped(t *testing.T) {
	extractor := NewExtractor(ExtractorConfig{ResolveTimeout: 20 * time.Millisecond})
	resolver := ResolverFunc(func(ctx context.Context, hash string) (domain.Transaction, error) {
		if hash == hashOne {
			<-ctx.Done()
			return domain.Transaction{}, ctx.Err()
		}
		return domain.Transaction{Hash: hash, From: "0xFast"}, nil
	})
	record := newRecord(t, MethodGetBlockByNumber, []any{"0x1", false}, map[string]any{
		"transactions": []any{hashOne, hashTwo},
	})

	findings := extractor.Extract(context.Background(), record, resolver)
	assert.Equal(t, []string{"0xfast"}, addresses(findings))
}

func TestExtract_ResolverPanicOnlySkipsThatElement(t *testing.T) {
	extractor := NewExtractor(ExtractorConfig{})
	resolver := ResolverFunc(func(ctx context.Context, hash string) (domain.Transaction, error) {
		if hash == hashOne {
			panic("boom")
		}
		return domain.Transaction{Hash: hash, From: "0x2"}, nil
	})
	record := newRecord(t, MethodGetBlockByNumber, []any{"0x1", false}, map[string]any{
		"transactions": []any{hashOne, hashTwo},
	})

	var findings []domain.Finding
	require.NotPanics(t, func() {
		findings = extractor.Extract(context.Background(), record, resolver)
	})
	assert.Equal(t, []string{"0x2"}, addresses(findings))
}

func TestExtract_EmptySenderAndNilResolver(t *testing.T) {
	extractor := NewExtractor(ExtractorConfig{})
	resolver := &stubResolver{txs: map[string]domain.Transaction{
		hashOne: {Hash: hashOne},
	}}
	record := newRecord(t, MethodSendRawTransaction, []any{"0xf8"}, hashOne)

	assert.Empty(t, extractor.Extract(context.Background(), record, resolver))
	assert.Empty(t, extractor.Extract(context.Background(), record, nil))
}

func TestExtract_FieldNamesMatchExactly(t *testing.T) {
	extractor := NewExtractor(ExtractorConfig{})

	upper := domain.Record{
		Method: "eth_sendTransaction",
		Params: []json.RawMessage{json.RawMessage(`{"FROM":"0xUpper","From":"0xTitle"}`)},
	}
	assert.Empty(t, extractor.Extract(context.Background(), upper, nil))

	shadowed := domain.Record{
		Method: MethodGetTransactionByHash,
		Params: []json.RawMessage{json.RawMessage(`"` + hashOne + `"`)},
		Result: json.RawMessage(`{"from":"0xReal","From":"0xShadow"}`),
	}
	findings := extractor.Extract(context.Background(), shadowed, nil)
	assert.Equal(t, []string{"0xreal"}, addresses(findings))

	block := domain.Record{
		Method: MethodGetBlockByNumber,
		Result: json.RawMessage(`{"Transactions":[{"from":"0xA"}]}`),
	}
	assert.Empty(t, extractor.Extract(context.Background(), block, nil))
}
