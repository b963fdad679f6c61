// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlosim

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/spmdopt/pkg/hlo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSum(m *hlo.Module) *hlo.Computation {
	sum := m.NewComputation("sum")
	a := sum.Parameter(0, hlo.ScalarShape(dtypes.Float32), "a")
	b := sum.Parameter(1, hlo.ScalarShape(dtypes.Float32), "b")
	sum.SetRoot(sum.Add(a, b))
	return sum
}

// deviceParams returns one f32[shape] parameter per device, with values starting at 100*globalID.
func deviceParams(numDevices int, shape hlo.Shape) [][]*Value {
	params := make([][]*Value, numDevices)
	for ii := range params {
		params[ii] = []*Value{Iota(shape, float64(100*ii))}
	}
	return params
}

func TestAllReduceAndReduceScatter(t *testing.T) {
	m := hlo.NewModule("collectives", hlo.Config{ReplicaCount: 4, NumPartitions: 1})
	sum := newSum(m)
	entry := m.NewEntryComputation("main")
	shape := hlo.MakeShape(dtypes.Float32, 4, 2)
	x := entry.Parameter(0, shape, "x")
	groups := [][]int{{1, 0}, {2, 3}}
	ar := entry.AllReduce([]*hlo.Instruction{x}, hlo.CollectiveAttrs{ToApply: sum, ReplicaGroups: groups})
	entry.SetRoot(ar)

	params := deviceParams(4, shape)
	results, err := Run(m, params)
	require.NoError(t, err)
	require.Len(t, results, 4)
	// Replicas 0 and 1 share the sum of their inputs: element i is (0+i) + (100+i).
	assert.Equal(t, []float64{100, 102, 104, 106, 108, 110, 112, 114}, results[0].Flat)
	assert.True(t, results[0].Equal(results[1]))
	assert.Equal(t, 500.0, results[2].Flat[0])
	assert.True(t, results[2].Equal(results[3]))

	// Reduce-scatter: replica 1 has rank 0 in its group, so it gets the first shard.
	rs := entry.ReduceScatter(hlo.MakeShape(dtypes.Float32, 2, 2), []*hlo.Instruction{x},
		hlo.CollectiveAttrs{ToApply: sum, ReplicaGroups: groups}, 0)
	entry.SetRoot(rs)
	results, err = Run(m, params)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 102, 104, 106}, results[1].Flat)
	assert.Equal(t, []float64{108, 110, 112, 114}, results[0].Flat)
	assert.Equal(t, []float64{500, 502, 504, 506}, results[2].Flat)
}

func TestLocalOps(t *testing.T) {
	m := hlo.NewModule("local", hlo.Config{ReplicaCount: 2, NumPartitions: 2})
	entry := m.NewEntryComputation("main")
	x := entry.Parameter(0, hlo.MakeShape(dtypes.Float32, 4, 3), "x")
	globalID := entry.Add(
		entry.Multiply(entry.ReplicaID(), entry.Constant(hlo.ScalarLiteral(uint32(2)))),
		entry.PartitionID())
	// Start index 3 is clamped to 2, so the 2 last rows are taken.
	clamped := entry.Clamp(entry.Constant(hlo.ScalarLiteral(int32(0))), entry.Convert(globalID, dtypes.Int32),
		entry.Constant(hlo.ScalarLiteral(int32(3))))
	zero := entry.Constant(hlo.ScalarLiteral(int32(0)))
	ds := entry.DynamicSlice(x, []*hlo.Instruction{clamped, zero}, []int{2, 3})
	entry.SetRoot(entry.Reshape(hlo.MakeShape(dtypes.Float32, 6), ds))

	params := deviceParams(4, hlo.MakeShape(dtypes.Float32, 4, 3))
	results, err := Run(m, params)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, results[0].Flat)
	assert.Equal(t, []float64{103, 104, 105, 106, 107, 108}, results[1].Flat)
	assert.Equal(t, []float64{206, 207, 208, 209, 210, 211}, results[2].Flat)
	assert.Equal(t, []float64{306, 307, 308, 309, 310, 311}, results[3].Flat)
}

func TestIotaAndTables(t *testing.T) {
	m := hlo.NewModule("tables", hlo.Config{ReplicaCount: 4, NumPartitions: 1})
	entry := m.NewEntryComputation("main")
	table := entry.Constant(hlo.NewLiteral([]int32{30, 20, 10, 0}))
	lookup := entry.DynamicSlice(table, []*hlo.Instruction{entry.ReplicaID()}, []int{1})
	iota := entry.Iota(hlo.MakeShape(dtypes.Int32, 2, 3), 1)
	_ = entry.Copy(iota)
	entry.SetRoot(entry.Reshape(hlo.ScalarShape(dtypes.Int32), lookup))

	results, err := Run(m, make([][]*Value, 4))
	require.NoError(t, err)
	for replica, want := range []float64{30, 20, 10, 0} {
		assert.Equal(t, []float64{want}, results[replica].Flat)
	}

	entry.SetRoot(iota)
	results, err = Run(m, make([][]*Value, 4))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 0, 1, 2}, results[0].Flat)
}

func TestIntegerWraparound(t *testing.T) {
	m := hlo.NewModule("wraparound", hlo.Config{ReplicaCount: 4, NumPartitions: 1})
	entry := m.NewEntryComputation("main")
	table := entry.Constant(hlo.NewLiteral([]int8{0, 1, 2, 3}))
	lookup := entry.DynamicSlice(table, []*hlo.Instruction{entry.ReplicaID()}, []int{1})
	rank := entry.Reshape(hlo.ScalarShape(dtypes.Int8), lookup)
	entry.SetRoot(entry.Multiply(rank, entry.Constant(hlo.ScalarLiteral(int8(64)))))

	results, err := Run(m, make([][]*Value, 4))
	require.NoError(t, err)
	for replica, want := range []float64{0, 64, -128, -64} {
		assert.Equal(t, []float64{want}, results[replica].Flat, "replica %d", replica)
	}

	entry.SetRoot(entry.Convert(entry.Constant(hlo.NewLiteral([]int32{300, -1})), dtypes.Uint8))
	results, err = Run(m, make([][]*Value, 4))
	require.NoError(t, err)
	assert.Equal(t, []float64{44, 255}, results[0].Flat)
}

func TestRunErrors(t *testing.T) {
	m := hlo.NewModule("errors", hlo.Config{ReplicaCount: 2})
	_, err := Run(m, nil)
	require.Error(t, err, "no entry computation")

	entry := m.NewEntryComputation("main")
	x := entry.Parameter(0, hlo.MakeShape(dtypes.Float32, 2), "x")
	entry.SetRoot(x)
	_, err = Run(m, make([][]*Value, 1))
	require.Error(t, err, "wrong number of devices")

	params := [][]*Value{
		{Iota(hlo.MakeShape(dtypes.Float32, 2), 0)},
		{Iota(hlo.MakeShape(dtypes.Float32, 3), 0)},
	}
	_, err = Run(m, params)
	require.Error(t, err, "wrong parameter shape")
}
