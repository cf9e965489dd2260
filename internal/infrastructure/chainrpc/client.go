package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"rampbridge/internal/domain"
)

// Client reads the bridge contract's event stream over JSON-RPC and decodes
// raw logs into domain events. Only the two event signatures the bridge
// cares about are requested; everything else never leaves the node.
type Client struct {
	url             string
	httpClient      *http.Client
	idCounter       uint64
	address         string
	withdrawalTopic string
	transferTopic   string
	chainID         atomic.Uint64
}

type Config struct {
	URL             string
	ContractAddress string
	WithdrawalTopic string
	TransferTopic   string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	if cfg.WithdrawalTopic == "" {
		return nil, errors.New("withdrawal event topic is required")
	}
	return &Client{
		url:             cfg.URL,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		address:         strings.ToLower(cfg.ContractAddress),
		withdrawalTopic: strings.ToLower(cfg.WithdrawalTopic),
		transferTopic:   strings.ToLower(cfg.TransferTopic),
	}, nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	if id := c.chainID.Load(); id != 0 {
		return id, nil
	}
	var result string
	if err := c.call(ctx, "eth_chainId", []any{}, &result); err != nil {
		return 0, err
	}
	id, err := parseHexUint(result)
	if err != nil {
		return 0, err
	}
	c.chainID.Store(id)
	return id, nil
}

// FetchEvents pulls the contract's logs for a block range and decodes them.
// Logs that carry one of the watched topics but fail to decode are reported
// as errors rather than skipped; a silently dropped withdrawal event would
// strand its transaction.
func (c *Client) FetchEvents(ctx context.Context, fromBlock, toBlock uint64) ([]domain.ChainEvent, error) {
	topics := []any{c.withdrawalTopic}
	if c.transferTopic != "" {
		topics = []any{[]string{c.withdrawalTopic, c.transferTopic}}
	}
	filter := map[string]any{
		"fromBlock": formatHexUint(fromBlock),
		"toBlock":   formatHexUint(toBlock),
		"topics":    topics,
	}
	if c.address != "" {
		filter["address"] = c.address
	}

	var result []rpcLog
	if err := c.call(ctx, "eth_getLogs", []any{filter}, &result); err != nil {
		return nil, err
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	events := make([]domain.ChainEvent, 0, len(result))
	for _, log := range result {
		event, err := c.decodeLog(log)
		if err != nil {
			return nil, fmt.Errorf("decode log %s[%s]: %w", log.TxHash, log.LogIndex, err)
		}
		event.ChainID = chainID
		events = append(events, event)
	}
	return events, nil
}

func (c *Client) decodeLog(log rpcLog) (domain.ChainEvent, error) {
	if len(log.Topics) == 0 {
		return domain.ChainEvent{}, errors.New("log has no topics")
	}
	blockNumber, err := parseHexUint(log.BlockNumber)
	if err != nil {
		return domain.ChainEvent{}, err
	}
	logIndex, err := parseHexUint(log.LogIndex)
	if err != nil {
		return domain.ChainEvent{}, err
	}
	event := domain.ChainEvent{
		TxRef:       log.TxHash,
		BlockNumber: blockNumber,
		LogIndex:    logIndex,
	}

	words, err := splitDataWords(log.Data)
	if err != nil {
		return domain.ChainEvent{}, err
	}

	switch strings.ToLower(log.Topics[0]) {
	case c.withdrawalTopic:
		// WithdrawalInitiated(address indexed user, uint256 indexed nonce,
		// uint256 amount, bytes32 reference)
		event.Kind = domain.EventWithdrawalInitiated
		if len(log.Topics) < 3 {
			return domain.ChainEvent{}, errors.New("withdrawal log is missing indexed topics")
		}
		event.User = topicToAddress(log.Topics[1])
		nonce, err := parseHexUint(log.Topics[2])
		if err != nil {
			return domain.ChainEvent{}, fmt.Errorf("parse nonce topic: %w", err)
		}
		event.Nonce = nonce
		if len(words) < 2 {
			return domain.ChainEvent{}, errors.New("withdrawal log data is too short")
		}
		event.Amount = wordToAmount(words[0])
		event.WithdrawalID = wordToReference(words[1])
	case c.transferTopic:
		// Transfer(address indexed from, address indexed to, uint256 amount)
		// with an optional second data word carrying the bridge reference.
		event.Kind = domain.EventTransfer
		if len(log.Topics) >= 3 {
			event.User = topicToAddress(log.Topics[2])
		}
		if len(words) >= 1 {
			event.Amount = wordToAmount(words[0])
		}
		if len(words) >= 2 {
			event.WithdrawalID = wordToReference(words[1])
		}
	default:
		return domain.ChainEvent{}, fmt.Errorf("unexpected topic %s", log.Topics[0])
	}
	return event, nil
}

type rpcLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	LogIndex    string   `json:"logIndex"`
	Removed     bool     `json:"removed"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	id := atomic.AddUint64(&c.idCounter, 1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return err
	}
	if decoded.Error != nil {
		return fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if result == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return errors.New("rpc result is empty")
	}
	return json.Unmarshal(decoded.Result, result)
}

// splitDataWords cuts the log data into 32-byte words as hex strings.
func splitDataWords(data string) ([]string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(data), "0x")
	if trimmed == "" {
		return nil, nil
	}
	if len(trimmed)%64 != 0 {
		return nil, fmt.Errorf("log data length %d is not word aligned", len(trimmed))
	}
	words := make([]string, 0, len(trimmed)/64)
	for i := 0; i < len(trimmed); i += 64 {
		words = append(words, strings.ToLower(trimmed[i:i+64]))
	}
	return words, nil
}

// topicToAddress recovers the 20-byte address from a 32-byte indexed topic.
func topicToAddress(topic string) string {
	trimmed := strings.TrimPrefix(strings.ToLower(topic), "0x")
	if len(trimmed) < 40 {
		return "0x" + trimmed
	}
	return "0x" + trimmed[len(trimmed)-40:]
}

// wordToAmount decodes a uint256 word to its decimal string form.
func wordToAmount(word string) string {
	value, ok := new(big.Int).SetString(word, 16)
	if !ok {
		return "0"
	}
	return value.String()
}

// wordToReference extracts the 16-byte bridge reference from a 32-byte word.
// References are right-aligned, so the candidate is the low half of the word.
func wordToReference(word string) string {
	if len(word) < 32 {
		return word
	}
	return word[len(word)-32:]
}

func parseHexUint(value string) (uint64, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return 0, errors.New("empty hex value")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}

func formatHexUint(value uint64) string {
	return fmt.Sprintf("0x%x", value)
}
