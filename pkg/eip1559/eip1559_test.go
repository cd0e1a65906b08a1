package eip1559

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	tip     *big.Int
	baseFee *big.Int
	err     error
}

func (f *fakeSource) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return f.tip, f.err
}

func (f *fakeSource) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: f.baseFee}, nil
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func TestSuggestFeeAppliesBufferAndBaseFee(t *testing.T) {
	src := &fakeSource{tip: gwei(10), baseFee: gwei(30)}

	maxFee, tip, err := SuggestFee(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, "11300000000", tip.String())
	assert.Equal(t, new(big.Int).Add(gwei(60), tip).String(), maxFee.String())
}

func TestSuggestFeeFloors(t *testing.T) {
	src := &fakeSource{tip: big.NewInt(1), baseFee: big.NewInt(1)}

	maxFee, tip, err := SuggestFee(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, DefaultMinTip.String(), tip.String())
	assert.Equal(t, DefaultMinMaxFee.String(), maxFee.String())

	maxFee, tip, err = NewOracle(src).WithFloors(nil, nil).SuggestFee(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", tip.String())
	assert.Equal(t, "3", maxFee.String())
}

func TestSuggestFeeLegacyChain(t *testing.T) {
	src := &fakeSource{tip: gwei(5)}

	maxFee, tip, err := SuggestFee(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, tip.String(), maxFee.String())
}

func TestSuggestFeeError(t *testing.T) {
	_, _, err := SuggestFee(context.Background(), &fakeSource{err: errors.New("boom")})
	assert.EqualError(t, err, "boom")
}
