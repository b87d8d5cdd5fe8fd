package evm

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/crossfusion/swapd/internal/core/domain"
	"github.com/crossfusion/swapd/internal/core/ports"
)

// Escrow event signatures. The indexed secret hash is always the first
// topic after the signature; reveal carries the preimage in the data.
var (
	topicSourceLock   = crypto.Keccak256Hash([]byte("SourceLocked(bytes32,uint256)"))
	topicTargetLock   = crypto.Keccak256Hash([]byte("TargetLocked(bytes32,uint256)"))
	topicSecretReveal = crypto.Keccak256Hash([]byte("SecretRevealed(bytes32,bytes32)"))
	topicRefund       = crypto.Keccak256Hash([]byte("Refunded(bytes32)"))
	topicAuctionFill  = crypto.Keccak256Hash([]byte("AuctionFilled(bytes32,uint256)"))
)

var eventTypeByTopic = map[common.Hash]domain.EventType{
	topicSourceLock:   domain.EventTypeSourceLock,
	topicTargetLock:   domain.EventTypeTargetLock,
	topicSecretReveal: domain.EventTypeSecretReveal,
	topicRefund:       domain.EventTypeRefund,
	topicAuctionFill:  domain.EventTypeAuctionFill,
}

type Options struct {
	ChainID       string
	RPCURL        string
	Contract      string
	Confirmations uint64
}

// adapter normalizes escrow contract logs from one EVM chain.
type adapter struct {
	chainID       string
	client        *ethclient.Client
	contract      common.Address
	confirmations uint64
}

func NewAdapter(ctx context.Context, opts Options) (ports.ChainAdapter, error) {
	if opts.ChainID == "" {
		return nil, fmt.Errorf("missing chain id")
	}
	if !common.IsHexAddress(opts.Contract) {
		return nil, fmt.Errorf("invalid escrow contract address %q", opts.Contract)
	}
	client, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s rpc: %w", opts.ChainID, err)
	}
	return &adapter{
		chainID:       opts.ChainID,
		client:        client,
		contract:      common.HexToAddress(opts.Contract),
		confirmations: opts.Confirmations,
	}, nil
}

func (a *adapter) ChainID() string {
	return a.chainID
}

func (a *adapter) ConfirmationsRequired() uint64 {
	return a.confirmations
}

func (a *adapter) CurrentHeight(ctx context.Context) (uint64, error) {
	height, err := a.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ports.ErrRPCUnavailable, err)
	}
	return height, nil
}

func (a *adapter) GetLogs(ctx context.Context, from, to uint64) ([]ports.RawEvent, error) {
	if from > to {
		return nil, fmt.Errorf("%w: from %d after to %d", ports.ErrInvalidRange, from, to)
	}

	logs, err := a.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{a.contract},
	})
	if err != nil {
		if isRangeError(err) {
			return nil, fmt.Errorf("%w: %s", ports.ErrInvalidRange, err)
		}
		return nil, fmt.Errorf("%w: %s", ports.ErrRPCUnavailable, err)
	}

	blockTimes := make(map[uint64]time.Time)
	events := make([]ports.RawEvent, 0, len(logs))
	for _, logEntry := range logs {
		event, ok := a.normalize(logEntry)
		if !ok {
			continue
		}
		blockTime, err := a.blockTime(ctx, logEntry.BlockNumber, blockTimes)
		if err != nil {
			return nil, err
		}
		event.BlockTime = blockTime
		events = append(events, event)
	}
	return events, nil
}

func (a *adapter) normalize(logEntry types.Log) (ports.RawEvent, bool) {
	if len(logEntry.Topics) == 0 {
		return ports.RawEvent{}, false
	}
	eventType, ok := eventTypeByTopic[logEntry.Topics[0]]
	if !ok {
		return ports.RawEvent{}, false
	}

	event := ports.RawEvent{
		ChainID:     a.chainID,
		TxHash:      logEntry.TxHash.Hex(),
		LogIndex:    logEntry.Index,
		BlockNumber: logEntry.BlockNumber,
		Type:        eventType,
		Contract:    logEntry.Address.Hex(),
	}

	if len(logEntry.Topics) > 1 {
		event.SecretHash = strings.TrimPrefix(logEntry.Topics[1].Hex(), "0x")
	}
	switch eventType {
	case domain.EventTypeSourceLock, domain.EventTypeTargetLock, domain.EventTypeAuctionFill:
		if len(logEntry.Data) >= 32 {
			amount := new(big.Int).SetBytes(logEntry.Data[:32])
			event.Amount = decimal.NewFromBigInt(amount, 0)
		}
	case domain.EventTypeSecretReveal:
		if len(logEntry.Data) >= 32 {
			event.Secret = hex.EncodeToString(logEntry.Data[:32])
		}
	}
	return event, true
}

func (a *adapter) blockTime(
	ctx context.Context, blockNumber uint64, cache map[uint64]time.Time,
) (time.Time, error) {
	if t, ok := cache[blockNumber]; ok {
		return t, nil
	}
	header, err := a.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: failed to get header %d: %s", ports.ErrRPCUnavailable, blockNumber, err)
	}
	t := time.Unix(int64(header.Time), 0).UTC()
	cache[blockNumber] = t
	return t, nil
}

// isRangeError matches the node errors returned for unserveable ranges,
// which vary by provider and carry no stable error code.
func isRangeError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"invalid block range",
		"block range",
		"exceed maximum block range",
		"query returned more than",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
