package events

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// startingBlockKind distinguishes the three ways §6 lets an operator
// spell a starting block.
type startingBlockKind int

const (
	startingBlockNumber startingBlockKind = iota
	startingBlockGenesis
	startingBlockLatest
)

// StartingBlock is the "genesis" / "latest" / literal-number union
// from spec §6.
type StartingBlock struct {
	kind   startingBlockKind
	number uint64
}

// Genesis is the alias for block 0.
func Genesis() StartingBlock { return StartingBlock{kind: startingBlockGenesis} }

// Latest resolves to the current head at the time it's consulted.
func Latest() StartingBlock { return StartingBlock{kind: startingBlockLatest} }

// AtBlock pins the starting block to a literal number.
func AtBlock(n uint64) StartingBlock { return StartingBlock{kind: startingBlockNumber, number: n} }

// Resolve turns the alias into a concrete block number given the
// current head.
func (s StartingBlock) Resolve(currentHead uint64) uint64 {
	switch s.kind {
	case startingBlockGenesis:
		return 0
	case startingBlockLatest:
		return currentHead
	default:
		return s.number
	}
}

// Options configures one EventsEmitter, scoped to a single contract
// address (spec §6, §3 "Ownership").
type Options struct {
	Contract common.Address

	// Topics is the server-side filter handed straight to LogSource;
	// each element is OR'd at that position. Preferred over Events
	// when both are set.
	Topics [][]common.Hash

	// EventSignatures, if set, is hashed with keccak-256 at
	// construction time into the first Topics position.
	EventSignatures []string

	// Events is the client-side event-name filter, applied after
	// fetch when Topics is not set.
	Events []string

	BatchSize       uint64
	Confirmations   uint64
	StartingBlock   StartingBlock
	SerialListeners bool
	SerialProcessing bool
	AutoStart       bool
	PollingInterval time.Duration
}

// DefaultOptions returns the spec §6 defaults.
func DefaultOptions(contract common.Address) Options {
	return Options{
		Contract:        contract,
		BatchSize:       120,
		Confirmations:   0,
		StartingBlock:   Genesis(),
		SerialListeners: false,
		SerialProcessing: false,
		AutoStart:       true,
		PollingInterval: 5 * time.Second,
	}
}

// validate applies the construction-time checks from spec §7: at
// least one of Topics/EventSignatures/Events, a positive batch size,
// and resolves EventSignatures into Topics.
func (o *Options) validate() error {
	if o.BatchSize == 0 {
		return newConfigurationError("batchSize must be positive")
	}
	if len(o.EventSignatures) > 0 {
		hashes := make([]common.Hash, 0, len(o.EventSignatures))
		for _, sig := range o.EventSignatures {
			hashes = append(hashes, crypto.Keccak256Hash([]byte(sig)))
		}
		if len(o.Topics) == 0 {
			o.Topics = [][]common.Hash{hashes}
		}
	}
	if len(o.Topics) == 0 && len(o.Events) == 0 {
		return newConfigurationError("at least one of topics or events must be configured")
	}
	return nil
}

// usesServerSideFilter reports whether Topics should be sent to
// LogSource, vs. Events being applied as a client-side filter after
// fetch (spec §4.4 "Event-name filter").
func (o *Options) usesServerSideFilter() bool {
	return len(o.Topics) > 0
}
