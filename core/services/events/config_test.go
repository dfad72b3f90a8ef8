package events_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgtm-migrator/web3-events/core/services/events"
)

func TestStartingBlock_Resolve(t *testing.T) {
	assert.Equal(t, uint64(0), events.Genesis().Resolve(900))
	assert.Equal(t, uint64(900), events.Latest().Resolve(900))
	assert.Equal(t, uint64(42), events.AtBlock(42).Resolve(900))
}

func TestOptions_DefaultOptions_Validates(t *testing.T) {
	opts := events.DefaultOptions(common.HexToAddress("0x1"))
	opts.Events = []string{"Transfer"}
	_, err := events.NewEventsEmitter(opts, nil, nil, nil, nil, nil)
	assert.NoError(t, err)
}

func TestOptions_Validate_RejectsZeroBatchSize(t *testing.T) {
	opts := events.DefaultOptions(common.HexToAddress("0x1"))
	opts.Events = []string{"Transfer"}
	opts.BatchSize = 0
	_, err := events.NewEventsEmitter(opts, nil, nil, nil, nil, nil)
	require.Error(t, err)
	var cfgErr *events.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestOptions_Validate_RequiresTopicsOrEvents(t *testing.T) {
	opts := events.DefaultOptions(common.HexToAddress("0x1"))
	_, err := events.NewEventsEmitter(opts, nil, nil, nil, nil, nil)
	require.Error(t, err)
	var cfgErr *events.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

