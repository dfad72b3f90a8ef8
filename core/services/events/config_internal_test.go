package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_validate_HashesEventSignaturesIntoTopics(t *testing.T) {
	opts := DefaultOptions(common.HexToAddress("0x1"))
	opts.EventSignatures = []string{"Transfer(address,address,uint256)"}

	require.NoError(t, opts.validate())

	want := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	require.Len(t, opts.Topics, 1)
	assert.Equal(t, want, opts.Topics[0][0])
}

func TestOptions_validate_ExplicitTopicsWinOverEventSignatures(t *testing.T) {
	opts := DefaultOptions(common.HexToAddress("0x1"))
	explicit := common.HexToHash("0xdead")
	opts.Topics = [][]common.Hash{{explicit}}
	opts.EventSignatures = []string{"Transfer(address,address,uint256)"}

	require.NoError(t, opts.validate())

	require.Len(t, opts.Topics, 1)
	assert.Equal(t, explicit, opts.Topics[0][0])
}

func TestOptions_usesServerSideFilter(t *testing.T) {
	opts := DefaultOptions(common.HexToAddress("0x1"))
	opts.Events = []string{"Transfer"}
	assert.False(t, opts.usesServerSideFilter())

	opts.Topics = [][]common.Hash{{common.HexToHash("0x1")}}
	assert.True(t, opts.usesServerSideFilter())
}
