package options

import (
	"testing"

	"github.com/stretchr/testify/require"

	kverrors "github.com/embedkv/ignite/pkg/errors"
)

func validOptions() Options {
	o := NewDefaultOptions()
	return o
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validOptions().Validate())
}

func TestValidateRejectsPoolSizeNotExceedingHeader(t *testing.T) {
	o := validOptions()
	o.Pool.AllocateOffsetHeader = int(o.Pool.Size)

	err := o.Validate()
	require.Error(t, err)
	ve, ok := kverrors.AsValidationError(err)
	require.True(t, ok)
	require.Equal(t, "pool.size", ve.Field())
}

func TestValidateRejectsNonPositiveBlockHeaderLength(t *testing.T) {
	o := validOptions()
	o.Manager.BlockHeaderLength = 0

	err := o.Validate()
	require.Error(t, err)
	ve, ok := kverrors.AsValidationError(err)
	require.True(t, ok)
	require.Equal(t, "manager.blockHeaderLength", ve.Field())
}

func TestValidateRejectsBTreeRankBelowThree(t *testing.T) {
	o := validOptions()
	o.BTreeIndex.Rank = 2

	err := o.Validate()
	require.Error(t, err)
	ve, ok := kverrors.AsValidationError(err)
	require.True(t, ok)
	require.Equal(t, "btreeIndex.rank", ve.Field())
}
