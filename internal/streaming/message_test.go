package streaming

import "testing"

func TestEncodeDecode(t *testing.T) {
	msg := Message{
		Type:         MessageTypeWithdrawal,
		ChainID:      1,
		TxRef:        "0xAB",
		BlockNumber:  42,
		User:         "0xdead",
		Amount:       "10000000",
		Nonce:        7,
		WithdrawalID: "6ef51af0",
	}
	payload, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != msg {
		t.Errorf("round trip mismatch: %+v != %+v", decoded, msg)
	}
}

func TestEncodeRejectsIncomplete(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{"missing type", Message{ChainID: 1, TxRef: "0xAB"}},
		{"missing chain id", Message{Type: MessageTypeTransfer, TxRef: "0xAB"}},
		{"missing tx ref", Message{Type: MessageTypeTransfer, ChainID: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Encode(tc.msg); err == nil {
				t.Error("expected encode error")
			}
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("{not json")); err == nil {
		t.Error("expected decode error")
	}
	if _, err := Decode([]byte(`{"chain_id":1}`)); err == nil {
		t.Error("expected missing type error")
	}
}
