package events

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// LogSource is the thin adapter over the chain RPC the pipeline
// consumes (spec §4.3, §6). It does not decode logs into LogRecord —
// that is the (out-of-scope) ABI registry/decoder's job, injected
// separately as a LogDecoder.
type LogSource interface {
	// GetPastLogs fetches raw logs over the closed interval
	// [fromBlock, toBlock], filtered server-side by topics when
	// topics is non-empty.
	GetPastLogs(ctx context.Context, fromBlock, toBlock uint64, addr common.Address, topics [][]common.Hash) ([]types.Log, error)

	// GetBlock fetches a header by number, or the current head when
	// number is nil ("latest").
	GetBlock(ctx context.Context, number *uint64) (BlockHeader, error)

	// TransactionExists reports whether txHash is still mined at
	// blockNumber, used by Confirmator to detect a dropped
	// transaction once depth reaches the confirmation target (spec
	// §4.5 step 4).
	TransactionExists(ctx context.Context, blockNumber uint64, txHash common.Hash) (bool, error)
}

// LogDecoder turns a raw chain log into the structured shape the
// pipeline buffers and emits. Production code plugs in the generated
// ABI bindings; out of scope here per spec §1.
type LogDecoder interface {
	Decode(log types.Log) (eventName string, payload interface{}, err error)
}

// RPCClient is the subset of go-ethereum's ethclient.Client EthLogSource
// needs. *ethclient.Client satisfies this directly.
type RPCClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthLogSource is the concrete LogSource backed by a go-ethereum RPC
// client (spec component C3).
type EthLogSource struct {
	client RPCClient
}

// NewEthLogSource wraps an RPCClient (e.g. *ethclient.Client) as a
// LogSource.
func NewEthLogSource(client RPCClient) *EthLogSource {
	return &EthLogSource{client: client}
}

func (s *EthLogSource) GetPastLogs(ctx context.Context, fromBlock, toBlock uint64, addr common.Address, topics [][]common.Hash) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{addr},
		Topics:    topics,
	}
	logs, err := s.client.FilterLogs(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "getPastLogs")
	}
	return logs, nil
}

func (s *EthLogSource) GetBlock(ctx context.Context, number *uint64) (BlockHeader, error) {
	var num *big.Int
	if number != nil {
		num = new(big.Int).SetUint64(*number)
	}
	header, err := s.client.HeaderByNumber(ctx, num)
	if err != nil {
		return BlockHeader{}, errors.Wrap(err, "getBlock")
	}
	return BlockHeader{Number: header.Number.Uint64(), Hash: header.Hash()}, nil
}

func (s *EthLogSource) TransactionExists(ctx context.Context, blockNumber uint64, txHash common.Hash) (bool, error) {
	receipt, err := s.client.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "transactionReceipt")
	}
	return receipt.BlockNumber.Uint64() == blockNumber, nil
}
