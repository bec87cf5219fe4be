package tasks

import (
	"encoding/json"
	"testing"
)

func TestDecodeOptions(t *testing.T) {
	t.Parallel()

	var o struct {
		URL string `json:"url"`
	}
	if err := DecodeOptions(nil, &o); err != nil {
		t.Fatalf("nil options: %v", err)
	}
	if err := DecodeOptions(json.RawMessage(`null`), &o); err != nil {
		t.Fatalf("null options: %v", err)
	}
	if err := DecodeOptions(json.RawMessage(`{"url":"https://x"}`), &o); err != nil || o.URL != "https://x" {
		t.Fatalf("decode = %+v, %v", o, err)
	}
	if err := DecodeOptions(json.RawMessage(`{"uri":"https://x"}`), &o); err == nil {
		t.Fatalf("unknown option must fail")
	}
}
