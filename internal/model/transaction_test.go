package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestRawTransactionUnmarshalNormalizes(t *testing.T) {
	raw := `{
		"hash": "0xABCDEF",
		"wallet": " 0x1111111111111111111111111111111111111AAA ",
		"block_number": 20000000,
		"timestamp": 1735689600,
		"from": "0x1111111111111111111111111111111111111AAA",
		"to": "0x2222222222222222222222222222222222222BBB",
		"value": "0",
		"status": 1,
		"logs": [{"address": "0x940181A94A35A4569E4529A3CDFB74E38FD98631", "topics": ["0xDDF252AD"], "data": "0x", "log_index": 3}]
	}`

	var tx RawTransaction
	if err := json.Unmarshal([]byte(raw), &tx); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	want := RawTransaction{
		Hash:        "0xabcdef",
		Wallet:      "0x1111111111111111111111111111111111111aaa",
		BlockNumber: 20000000,
		Timestamp:   1735689600,
		From:        "0x1111111111111111111111111111111111111aaa",
		To:          "0x2222222222222222222222222222222222222bbb",
		Value:       "0",
		Status:      1,
		Logs: []LogEntry{{
			Address:  "0x940181a94a35a4569e4529a3cdfb74e38fd98631",
			Topics:   []string{"0xddf252ad"},
			Data:     "0x",
			LogIndex: 3,
		}},
	}
	if !reflect.DeepEqual(tx, want) {
		t.Fatalf("normalized mismatch: %+v != %+v", tx, want)
	}
	if !tx.Succeeded() {
		t.Fatalf("status 1 should be success")
	}
	if got := tx.Time().Year(); got != 2025 {
		t.Fatalf("year = %d, want 2025", got)
	}
}

func TestParseActionCategory(t *testing.T) {
	got, err := ParseActionCategory("lp_add")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got != CategoryLPAdd {
		t.Fatalf("got %s want %s", got, CategoryLPAdd)
	}
	if _, err := ParseActionCategory("BRIDGE"); err == nil {
		t.Fatalf("expected error for unknown category")
	}
}

func TestFeeWei(t *testing.T) {
	cases := []struct {
		gasUsed uint64
		price   string
		want    string
	}{
		{21000, "1000000000", "21000000000000"},
		{21000, "0x3b9aca00", "21000000000000"},
		{0, "1000000000", ""},
		{21000, "", ""},
	}
	for _, tc := range cases {
		got, err := RawTransaction{GasUsed: tc.gasUsed, EffectiveGasPrice: tc.price}.FeeWei()
		if err != nil {
			t.Fatalf("fee %d/%s: %v", tc.gasUsed, tc.price, err)
		}
		if (got == nil) != (tc.want == "") || (got != nil && got.String() != tc.want) {
			t.Fatalf("fee %d/%s = %v, want %q", tc.gasUsed, tc.price, got, tc.want)
		}
	}
	if _, err := (RawTransaction{GasUsed: 1, EffectiveGasPrice: "-5"}).FeeWei(); err == nil {
		t.Fatalf("expected error for negative gas price")
	}
}
