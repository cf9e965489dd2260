package chainrpc

import (
	"strings"
	"testing"

	"rampbridge/internal/domain"
)

const (
	withdrawalTopic = "0xaaaa000000000000000000000000000000000000000000000000000000000001"
	transferTopic   = "0xbbbb000000000000000000000000000000000000000000000000000000000002"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(Config{
		URL:             "http://localhost:8545",
		ContractAddress: "0xContract",
		WithdrawalTopic: withdrawalTopic,
		TransferTopic:   transferTopic,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestDecodeWithdrawalLog(t *testing.T) {
	client := newTestClient(t)

	reference := "00aa11bb22cc33dd44ee55ff66778899"
	log := rpcLog{
		Topics: []string{
			strings.ToUpper(withdrawalTopic), // casing from the node must not matter
			"0x000000000000000000000000a0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9",
			"0x0000000000000000000000000000000000000000000000000000000000000007",
		},
		// amount word then reference word, reference right-aligned
		Data:        "0x000000000000000000000000000000000000000000000000000000003b9aca00" + "00000000000000000000000000000000" + reference,
		BlockNumber: "0x64",
		TxHash:      "0x06ef51af",
		LogIndex:    "0x2",
	}

	event, err := client.decodeLog(log)
	if err != nil {
		t.Fatalf("decodeLog: %v", err)
	}
	if event.Kind != domain.EventWithdrawalInitiated {
		t.Errorf("kind = %s", event.Kind)
	}
	if event.User != "0xa0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9" {
		t.Errorf("user = %s", event.User)
	}
	if event.Nonce != 7 {
		t.Errorf("nonce = %d, want 7", event.Nonce)
	}
	if event.Amount != "1000000000" {
		t.Errorf("amount = %s, want 1000000000", event.Amount)
	}
	if event.WithdrawalID != reference {
		t.Errorf("withdrawal id = %s, want %s", event.WithdrawalID, reference)
	}
	if event.BlockNumber != 100 || event.LogIndex != 2 {
		t.Errorf("position = %d[%d]", event.BlockNumber, event.LogIndex)
	}
	if event.TxRef != "0x06ef51af" {
		t.Errorf("tx ref = %s, want raw hash", event.TxRef)
	}
}

func TestDecodeTransferLog(t *testing.T) {
	client := newTestClient(t)

	log := rpcLog{
		Topics: []string{
			transferTopic,
			"0x0000000000000000000000001111111111111111111111111111111111111111",
			"0x0000000000000000000000002222222222222222222222222222222222222222",
		},
		Data:        "0x0000000000000000000000000000000000000000000000000000000000000064",
		BlockNumber: "0x10",
		TxHash:      "0xc0ffee",
		LogIndex:    "0x0",
	}

	event, err := client.decodeLog(log)
	if err != nil {
		t.Fatalf("decodeLog: %v", err)
	}
	if event.Kind != domain.EventTransfer {
		t.Errorf("kind = %s", event.Kind)
	}
	if event.User != "0x2222222222222222222222222222222222222222" {
		t.Errorf("user = %s, want the recipient", event.User)
	}
	if event.Amount != "100" {
		t.Errorf("amount = %s, want 100", event.Amount)
	}
}

func TestDecodeLogRejections(t *testing.T) {
	client := newTestClient(t)

	tests := []struct {
		name string
		log  rpcLog
	}{
		{
			name: "unknown topic",
			log: rpcLog{
				Topics:      []string{"0xcccc000000000000000000000000000000000000000000000000000000000003"},
				BlockNumber: "0x1", LogIndex: "0x0",
			},
		},
		{
			name: "withdrawal missing indexed topics",
			log: rpcLog{
				Topics:      []string{withdrawalTopic},
				Data:        "0x",
				BlockNumber: "0x1", LogIndex: "0x0",
			},
		},
		{
			name: "misaligned data",
			log: rpcLog{
				Topics: []string{
					withdrawalTopic,
					"0x000000000000000000000000a0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9",
					"0x0000000000000000000000000000000000000000000000000000000000000001",
				},
				Data:        "0xabc",
				BlockNumber: "0x1", LogIndex: "0x0",
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := client.decodeLog(tc.log); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}

func TestSplitDataWords(t *testing.T) {
	words, err := splitDataWords("0x" + strings.Repeat("0", 63) + "1" + strings.Repeat("f", 64))
	if err != nil {
		t.Fatalf("splitDataWords: %v", err)
	}
	if len(words) != 2 {
		t.Fatalf("words = %d, want 2", len(words))
	}
	if words[1] != strings.Repeat("f", 64) {
		t.Errorf("second word = %s", words[1])
	}

	if words, err := splitDataWords("0x"); err != nil || words != nil {
		t.Errorf("empty data: words=%v err=%v", words, err)
	}
}
