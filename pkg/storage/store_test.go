package storage

import (
	"context"
	"errors"
	"testing"

	"datasafe/pkg/checksum"
	"datasafe/pkg/format"
	"datasafe/pkg/loi"
	"datasafe/pkg/manifest"
	"datasafe/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateChecks(t *testing.T) {
	id := loi.MustParse("42.1001/ds/exp/sa/1/cwepr/1")
	reg, err := manifest.Create(id, types.SHA256)
	require.NoError(t, err)
	pop, err := reg.Populate(context.Background(), checksum.MustNew(types.SHA256), format.Default(),
		types.FileSet{Files: []types.File{{Name: "a.dta", Data: []byte("x")}}})
	require.NoError(t, err)

	assert.ErrorIs(t, CheckStore(id, nil), ErrNotReserved)
	assert.NoError(t, CheckStore(id, reg))
	assert.ErrorIs(t, CheckStore(id, pop), ErrAlreadyPopulated)

	assert.ErrorIs(t, CheckReplace(id, nil), ErrNotFound)
	assert.ErrorIs(t, CheckReplace(id, reg), ErrNotFound)
	assert.NoError(t, CheckReplace(id, pop))
}

func TestApplyMutation(t *testing.T) {
	id := loi.MustParse("42.1001/ds/exp/sa/1/cwepr/1")
	reg, err := manifest.Create(id, types.SHA256)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = ApplyMutation(id, reg, func(*manifest.Manifest) (*manifest.Manifest, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	// 没有推进 revision
	_, err = ApplyMutation(id, reg, func(cur *manifest.Manifest) (*manifest.Manifest, error) { return cur.Clone(), nil })
	assert.Error(t, err)

	other, err := manifest.Create(loi.MustParse("42.1001/ds/exp/sa/1/cwepr/2"), types.SHA256)
	require.NoError(t, err)
	_, err = ApplyMutation(id, reg, func(*manifest.Manifest) (*manifest.Manifest, error) {
		c := other.Clone()
		c.Revision = 1
		return c, nil
	})
	assert.Error(t, err)

	assert.Equal(t, "rev-3", RevisionDir(3))
}
