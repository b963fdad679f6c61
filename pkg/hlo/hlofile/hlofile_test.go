// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlofile

import (
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/spmdopt/pkg/hlo"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func buildModule() *hlo.Module {
	m := hlo.NewModule("everything", hlo.Config{ReplicaCount: 2, NumPartitions: 4, UseSPMDPartitioning: true})
	sum := m.NewComputation("sum")
	a := sum.Parameter(0, hlo.ScalarShape(dtypes.Float32), "a")
	b := sum.Parameter(1, hlo.ScalarShape(dtypes.Float32), "b")
	sum.SetRoot(sum.Add(a, b))

	fused := m.NewFusionComputation("fused")
	x := fused.Parameter(0, hlo.MakeShape(dtypes.Float32, 8), "x")
	fused.SetRoot(fused.Multiply(x, x))

	entry := m.NewEntryComputation("main")
	lhs := entry.Parameter(0, hlo.MakeShape(dtypes.Float32, 32, 8).WithLayout(0, 1), "lhs")
	rhs := entry.Parameter(1, hlo.MakeShape(dtypes.Float32, 8), "rhs")
	ar := entry.AllReduce([]*hlo.Instruction{lhs}, hlo.CollectiveAttrs{
		ToApply:            sum,
		ReplicaGroups:      [][]int{{1, 3, 2, 0}, {4, 5, 6, 7}},
		ChannelID:          3,
		UseGlobalDeviceIDs: true,
		ConstrainLayout:    true,
	})
	table := entry.Constant(hlo.NewLiteral([]int32{3, 0, 2, 1}))
	lookup := entry.DynamicSlice(table, []*hlo.Instruction{entry.PartitionID()}, []int{1})
	offset := entry.Multiply(entry.Reshape(hlo.ScalarShape(dtypes.Int32), lookup),
		entry.Constant(hlo.ScalarLiteral(int32(8))))
	zero := entry.Constant(hlo.ScalarLiteral(int32(0)))
	ds := entry.DynamicSlice(ar, []*hlo.Instruction{offset, zero}, []int{8, 8})
	_ = entry.ReduceScatter(hlo.MakeShape(dtypes.Float32, 8, 8), []*hlo.Instruction{lhs},
		hlo.CollectiveAttrs{ToApply: sum}, 0)
	_ = entry.AllReduce([]*hlo.Instruction{lhs, rhs}, hlo.CollectiveAttrs{ToApply: sum})
	_ = entry.Constant(hlo.NewLiteral([]float16.Float16{float16.Fromfloat32(0.5), float16.Fromfloat32(-2)}))
	_ = entry.Constant(hlo.NewLiteral([]bool{true, false, true}, 3, 1))
	_ = entry.Constant(hlo.ScalarLiteral(uint64(1) << 63))
	_ = entry.Iota(hlo.MakeShape(dtypes.Int64, 2, 3), 1)
	_ = entry.Fusion(hlo.MakeShape(dtypes.Float32, 8), []*hlo.Instruction{rhs}, fused)
	entry.SetRoot(entry.Convert(ds, dtypes.Float64))
	return m
}

func TestRoundTrip(t *testing.T) {
	m := buildModule()
	data, err := Marshal(m)
	require.NoError(t, err)
	m2, err := Unmarshal(data)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(m.String(), m2.String()))
	assert.Equal(t, m.Config(), m2.Config())
	assert.NotEqual(t, m.ID(), m2.ID())

	ar := m2.Entry().Root().Operand(0).Operand(0)
	attrs, ok := ar.AllReduce()
	require.True(t, ok)
	assert.Same(t, m2.ComputationByName("sum"), attrs.ToApply)
	assert.Equal(t, int64(3), attrs.ChannelID)
	assert.True(t, attrs.ConstrainLayout)
	assert.Equal(t, []int{0, 1}, ar.Operand(0).Shape().Layout)

	// Writing it again gives the same document.
	data2, err := Marshal(m2)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(string(data), string(data2)))
}

func TestFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "module.yaml")
	m := buildModule()
	require.NoError(t, WriteFile(path, m))
	m2, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, m.String(), m2.String())

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestUnmarshalJSON(t *testing.T) {
	doc := `{
  "name": "from_json",
  "replica_count": 4,
  "num_partitions": 1,
  "entry": "main",
  "computations": [
    {"name": "max", "root": "maximum", "instructions": [
      {"name": "a", "opcode": "parameter", "shape": {"dtype": "s32", "dimensions": []}, "parameter_number": 0},
      {"name": "b", "opcode": "parameter", "shape": {"dtype": "s32", "dimensions": []}, "parameter_number": 1},
      {"name": "maximum", "opcode": "maximum", "shape": {"dtype": "s32", "dimensions": []}, "operands": ["a", "b"]}
    ]},
    {"name": "main", "root": "all-reduce", "instructions": [
      {"name": "p1", "opcode": "parameter", "shape": {"dtype": "s32", "dimensions": [4]}, "parameter_number": 1},
      {"name": "p0", "opcode": "parameter", "shape": {"dtype": "s32", "dimensions": [4]}, "parameter_number": 0},
      {"name": "all-reduce", "opcode": "all-reduce", "shape": {"dtype": "s32", "dimensions": [4]},
       "operands": ["p0"], "to_apply": "max", "replica_groups": [[0, 1], [2, 3]]}
    ]}
  ]
}`
	m, err := Unmarshal([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "from_json", m.Name())
	assert.Equal(t, 4, m.Config().ReplicaCount)
	entry := m.Entry()
	require.NotNil(t, entry)
	require.Len(t, entry.Parameters(), 2)
	assert.Equal(t, "p0", entry.Parameters()[0].Name())
	assert.Equal(t, "p1", entry.Parameters()[1].Name())
	attrs, ok := entry.Root().AllReduce()
	require.True(t, ok)
	assert.Equal(t, [][]int{{0, 1}, {2, 3}}, attrs.ReplicaGroups)
	assert.Same(t, entry.Parameters()[0], entry.Root().Operand(0))
}

func TestUnmarshalErrors(t *testing.T) {
	const header = "name: bad\nreplica_count: 1\nnum_partitions: 1\n"
	testCases := []struct {
		name, doc, wantErr string
	}{
		{"UnknownField", header + "replicas: 2\n", "replicas"},
		{"UnknownOpCode", header + `computations:
  - name: main
    instructions:
      - {name: x, opcode: sqrt, shape: {dtype: f32, dimensions: []}}
`, "unknown op code"},
		{"UndefinedOperand", header + `computations:
  - name: main
    instructions:
      - {name: x, opcode: copy, shape: {dtype: f32, dimensions: []}, operands: [y]}
`, "not defined before its use"},
		{"UnknownDType", header + `computations:
  - name: main
    instructions:
      - {name: x, opcode: parameter, shape: {dtype: f31, dimensions: []}, parameter_number: 0}
`, "unknown dtype"},
		{"MissingParameterNumber", header + `computations:
  - name: main
    instructions:
      - {name: x, opcode: parameter, shape: {dtype: f32, dimensions: []}, parameter_number: 1}
`, "parameters must be created in order"},
		{"BadEntry", header + `entry: other
computations:
  - name: main
    instructions: []
`, "entry computation"},
		{"BadRoot", header + `computations:
  - name: main
    root: y
    instructions:
      - {name: x, opcode: parameter, shape: {dtype: f32, dimensions: []}, parameter_number: 0}
`, "root"},
		{"WrongConstantSize", header + `computations:
  - name: main
    instructions:
      - {name: c, opcode: constant, shape: {dtype: s32, dimensions: [3]}, ints: [1, 2]}
`, "requires 3 values"},
		{"UnknownReduction", header + `computations:
  - name: main
    instructions:
      - {name: x, opcode: parameter, shape: {dtype: f32, dimensions: [2]}, parameter_number: 0}
      - {name: ar, opcode: all-reduce, shape: {dtype: f32, dimensions: [2]}, operands: [x], to_apply: sum}
`, "unknown reduction computation"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tc.doc))
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}
