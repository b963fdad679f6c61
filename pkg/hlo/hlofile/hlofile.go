// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hlofile reads and writes hlo modules as YAML documents.
//
// Since YAML is a superset of JSON, modules can also be given in JSON, with the same field names.
// A module document looks like:
//
//	name: all_reduce_slice
//	replica_count: 8
//	num_partitions: 1
//	entry: main
//	computations:
//	  - name: sum
//	    root: add
//	    instructions:
//	      - {name: a, opcode: parameter, shape: {dtype: f32, dimensions: []}, parameter_number: 0}
//	      - {name: b, opcode: parameter, shape: {dtype: f32, dimensions: []}, parameter_number: 1}
//	      - {name: add, opcode: add, shape: {dtype: f32, dimensions: []}, operands: [a, b]}
//	  - name: main
//	    root: dynamic-slice
//	    instructions:
//	      - {name: param, opcode: parameter, shape: {dtype: f32, dimensions: [32, 8, 128]}, parameter_number: 0}
//	      - {name: all-reduce, opcode: all-reduce, shape: {dtype: f32, dimensions: [32, 8, 128]},
//	         operands: [param], to_apply: sum}
//	      ...
//
// Instructions must be listed after their operands, which is the order Marshal writes them in (post-order).
package hlofile

import (
	"bytes"
	"os"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/spmdopt/pkg/hlo"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
	"gopkg.in/yaml.v3"
)

type moduleDoc struct {
	Name                string           `yaml:"name"`
	ReplicaCount        int              `yaml:"replica_count"`
	NumPartitions       int              `yaml:"num_partitions"`
	UseSPMDPartitioning bool             `yaml:"use_spmd_partitioning,omitempty"`
	Entry               string           `yaml:"entry"`
	Computations        []computationDoc `yaml:"computations"`
}

type computationDoc struct {
	Name         string           `yaml:"name"`
	Fusion       bool             `yaml:"fusion,omitempty"`
	Root         string           `yaml:"root"`
	Instructions []instructionDoc `yaml:"instructions"`
}

type shapeDoc struct {
	DType      string     `yaml:"dtype,omitempty"`
	Dimensions []int      `yaml:"dimensions,flow"`
	Layout     []int      `yaml:"layout,omitempty,flow"`
	Tuple      []shapeDoc `yaml:"tuple,omitempty"`
}

type instructionDoc struct {
	Name     string   `yaml:"name"`
	OpCode   string   `yaml:"opcode"`
	Shape    shapeDoc `yaml:"shape"`
	Operands []string `yaml:"operands,omitempty,flow"`

	ParameterNumber *int `yaml:"parameter_number,omitempty"`

	// Constant values: integer dtypes use Ints, the others Floats (booleans as 0 or 1).
	Ints   []int64   `yaml:"ints,omitempty,flow"`
	Floats []float64 `yaml:"floats,omitempty,flow"`

	IotaDimension *int  `yaml:"iota_dimension,omitempty"`
	SliceSizes    []int `yaml:"dynamic_slice_sizes,omitempty,flow"`

	ToApply            string  `yaml:"to_apply,omitempty"`
	ReplicaGroups      [][]int `yaml:"replica_groups,omitempty,flow"`
	ChannelID          int64   `yaml:"channel_id,omitempty"`
	UseGlobalDeviceIDs bool    `yaml:"use_global_device_ids,omitempty"`
	ConstrainLayout    bool    `yaml:"constrain_layout,omitempty"`
	ScatterDimension   *int    `yaml:"scatter_dimension,omitempty"`

	Calls string `yaml:"calls,omitempty"`
}

// Marshal encodes the module as a YAML document.
func Marshal(module *hlo.Module) ([]byte, error) {
	config := module.Config()
	doc := moduleDoc{
		Name:                module.Name(),
		ReplicaCount:        config.ReplicaCount,
		NumPartitions:       config.NumPartitions,
		UseSPMDPartitioning: config.UseSPMDPartitioning,
	}
	if module.Entry() != nil {
		doc.Entry = module.Entry().Name()
	}
	for _, c := range module.Computations() {
		cDoc := computationDoc{Name: c.Name(), Fusion: c.IsFusion()}
		if c.Root() != nil {
			cDoc.Root = c.Root().Name()
		}
		for _, inst := range c.MakeInstructionPostOrder() {
			instDoc, err := encodeInstruction(inst)
			if err != nil {
				return nil, errors.WithMessagef(err, "encoding computation %q of module %q", c.Name(), module.Name())
			}
			cDoc.Instructions = append(cDoc.Instructions, instDoc)
		}
		doc.Computations = append(doc.Computations, cDoc)
	}
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return nil, errors.Wrapf(err, "encoding module %q", module.Name())
	}
	if err := encoder.Close(); err != nil {
		return nil, errors.Wrapf(err, "encoding module %q", module.Name())
	}
	return buf.Bytes(), nil
}

func encodeShape(shape hlo.Shape) shapeDoc {
	if shape.IsTuple() {
		doc := shapeDoc{Tuple: make([]shapeDoc, len(shape.TupleShapes))}
		for ii, element := range shape.TupleShapes {
			doc.Tuple[ii] = encodeShape(element)
		}
		return doc
	}
	dims := shape.Dimensions
	if dims == nil {
		dims = []int{}
	}
	return shapeDoc{DType: hlo.DTypeName(shape.DType), Dimensions: dims, Layout: shape.Layout}
}

func encodeInstruction(inst *hlo.Instruction) (instructionDoc, error) {
	doc := instructionDoc{
		Name:   inst.Name(),
		OpCode: inst.OpCode().String(),
		Shape:  encodeShape(inst.Shape()),
	}
	for _, operand := range inst.Operands() {
		doc.Operands = append(doc.Operands, operand.Name())
	}
	switch attrs := inst.Attrs().(type) {
	case *hlo.ParameterAttrs:
		doc.ParameterNumber = &attrs.Number
	case *hlo.ConstantAttrs:
		if err := encodeLiteral(&doc, attrs.Value); err != nil {
			return doc, errors.WithMessagef(err, "constant %%%s", inst.Name())
		}
	case *hlo.IotaAttrs:
		doc.IotaDimension = &attrs.Dimension
	case *hlo.DynamicSliceAttrs:
		doc.SliceSizes = attrs.SliceSizes
	case *hlo.AllReduceAttrs:
		encodeCollective(&doc, &attrs.CollectiveAttrs)
	case *hlo.ReduceScatterAttrs:
		encodeCollective(&doc, &attrs.CollectiveAttrs)
		doc.ScatterDimension = &attrs.ScatterDimension
	case *hlo.FusionAttrs:
		doc.Calls = attrs.Called.Name()
	}
	return doc, nil
}

func encodeCollective(doc *instructionDoc, attrs *hlo.CollectiveAttrs) {
	doc.ToApply = attrs.ToApply.Name()
	doc.ReplicaGroups = attrs.ReplicaGroups
	doc.ChannelID = attrs.ChannelID
	doc.UseGlobalDeviceIDs = attrs.UseGlobalDeviceIDs
	doc.ConstrainLayout = attrs.ConstrainLayout
}

func encodeLiteral(doc *instructionDoc, literal *hlo.Literal) error {
	dtype := literal.Shape().DType
	for idx := range literal.Size() {
		if dtype.IsInt() {
			v, _ := literal.Int64At(idx)
			doc.Ints = append(doc.Ints, v)
			continue
		}
		v, ok := literal.Float64At(idx)
		if !ok {
			return errors.Errorf("literal of dtype %s cannot be encoded", dtype)
		}
		doc.Floats = append(doc.Floats, v)
	}
	return nil
}

// Unmarshal decodes a module from a YAML (or JSON) document. Unknown fields are an error.
func Unmarshal(data []byte) (module *hlo.Module, err error) {
	var doc moduleDoc
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err = decoder.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "parsing module document")
	}
	// The hlo constructors panic on invalid graphs.
	var decodeErr error
	err = exceptions.TryCatch[error](func() {
		module, decodeErr = decodeModule(&doc)
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "decoding module %q", doc.Name)
	}
	return module, nil
}

func decodeModule(doc *moduleDoc) (*hlo.Module, error) {
	module := hlo.NewModule(doc.Name, hlo.Config{
		ReplicaCount:        doc.ReplicaCount,
		NumPartitions:       doc.NumPartitions,
		UseSPMDPartitioning: doc.UseSPMDPartitioning,
	})
	computations := make([]*hlo.Computation, len(doc.Computations))
	for ii, cDoc := range doc.Computations {
		if cDoc.Fusion {
			computations[ii] = module.NewFusionComputation(cDoc.Name)
		} else {
			computations[ii] = module.NewComputation(cDoc.Name)
		}
	}
	for ii, cDoc := range doc.Computations {
		if err := decodeComputation(computations[ii], &cDoc); err != nil {
			return nil, errors.WithMessagef(err, "computation %q", cDoc.Name)
		}
	}
	if doc.Entry != "" {
		entry := module.ComputationByName(doc.Entry)
		if entry == nil || entry.IsFusion() {
			return nil, errors.Errorf("entry computation %q is not a non-fusion computation of the module", doc.Entry)
		}
		module.SetEntry(entry)
	}
	return module, nil
}

func decodeComputation(c *hlo.Computation, doc *computationDoc) error {
	byName := make(map[string]*hlo.Instruction, len(doc.Instructions))

	// Parameters are created first, in order of their numbers.
	var params []instructionDoc
	for _, instDoc := range doc.Instructions {
		if instDoc.OpCode == hlo.OpCodeParameter.String() {
			if instDoc.ParameterNumber == nil {
				return errors.Errorf("parameter %q has no parameter_number", instDoc.Name)
			}
			params = append(params, instDoc)
		}
	}
	slices.SortFunc(params, func(a, b instructionDoc) int { return *a.ParameterNumber - *b.ParameterNumber })
	for _, instDoc := range params {
		shape, err := decodeShape(instDoc.Shape)
		if err != nil {
			return errors.WithMessagef(err, "parameter %q", instDoc.Name)
		}
		byName[instDoc.Name] = c.Parameter(*instDoc.ParameterNumber, shape, instDoc.Name)
	}

	for _, instDoc := range doc.Instructions {
		if instDoc.OpCode == hlo.OpCodeParameter.String() {
			continue
		}
		if _, found := byName[instDoc.Name]; found {
			return errors.Errorf("instruction name %q used more than once", instDoc.Name)
		}
		inst, err := decodeInstruction(c, byName, &instDoc)
		if err != nil {
			return errors.WithMessagef(err, "instruction %q", instDoc.Name)
		}
		byName[instDoc.Name] = inst
	}
	if doc.Root != "" {
		root, found := byName[doc.Root]
		if !found {
			return errors.Errorf("root %q is not an instruction of the computation", doc.Root)
		}
		c.SetRoot(root)
	}
	return nil
}

func decodeShape(doc shapeDoc) (hlo.Shape, error) {
	if len(doc.Tuple) > 0 {
		elements := make([]hlo.Shape, len(doc.Tuple))
		for ii, elementDoc := range doc.Tuple {
			element, err := decodeShape(elementDoc)
			if err != nil {
				return hlo.Shape{}, errors.WithMessagef(err, "tuple element #%d", ii)
			}
			elements[ii] = element
		}
		return hlo.MakeTuple(elements...), nil
	}
	dtype, err := hlo.DTypeFromName(doc.DType)
	if err != nil {
		return hlo.Shape{}, err
	}
	shape := hlo.MakeShape(dtype, doc.Dimensions...)
	if doc.Layout != nil {
		shape = shape.WithLayout(doc.Layout...)
	}
	return shape, nil
}

func decodeInstruction(c *hlo.Computation, byName map[string]*hlo.Instruction, doc *instructionDoc) (*hlo.Instruction, error) {
	opCode, err := hlo.OpCodeString(doc.OpCode)
	if err != nil {
		return nil, errors.Errorf("unknown op code %q", doc.OpCode)
	}
	if opCode == hlo.OpCodeInvalid || opCode == hlo.OpCodeLast {
		return nil, errors.Errorf("invalid op code %q", doc.OpCode)
	}
	shape, err := decodeShape(doc.Shape)
	if err != nil {
		return nil, err
	}
	operands := make([]*hlo.Instruction, len(doc.Operands))
	for ii, name := range doc.Operands {
		operand, found := byName[name]
		if !found {
			return nil, errors.Errorf("operand %q is not defined before its use", name)
		}
		operands[ii] = operand
	}

	module := c.Module()
	var attrs hlo.Attrs
	switch opCode {
	case hlo.OpCodeConstant:
		literal, err := decodeLiteral(shape, doc)
		if err != nil {
			return nil, err
		}
		attrs = &hlo.ConstantAttrs{Value: literal}
	case hlo.OpCodeIota:
		if doc.IotaDimension == nil {
			return nil, errors.New("iota requires iota_dimension")
		}
		attrs = &hlo.IotaAttrs{Dimension: *doc.IotaDimension}
	case hlo.OpCodeDynamicSlice:
		if len(doc.SliceSizes) != shape.Rank() {
			return nil, errors.Errorf("dynamic-slice of shape %s requires %d dynamic_slice_sizes, got %d", shape,
				shape.Rank(), len(doc.SliceSizes))
		}
		attrs = &hlo.DynamicSliceAttrs{SliceSizes: doc.SliceSizes}
	case hlo.OpCodeAllReduce, hlo.OpCodeReduceScatter:
		toApply := module.ComputationByName(doc.ToApply)
		if toApply == nil {
			return nil, errors.Errorf("unknown reduction computation %q", doc.ToApply)
		}
		collective := hlo.CollectiveAttrs{
			ToApply:            toApply,
			ReplicaGroups:      doc.ReplicaGroups,
			ChannelID:          doc.ChannelID,
			UseGlobalDeviceIDs: doc.UseGlobalDeviceIDs,
			ConstrainLayout:    doc.ConstrainLayout,
		}
		if collective.UseGlobalDeviceIDs && !collective.HasChannelID() {
			return nil, errors.New("use_global_device_ids requires a channel_id")
		}
		if opCode == hlo.OpCodeAllReduce {
			attrs = &hlo.AllReduceAttrs{CollectiveAttrs: collective}
			break
		}
		if doc.ScatterDimension == nil {
			return nil, errors.New("reduce-scatter requires scatter_dimension")
		}
		attrs = &hlo.ReduceScatterAttrs{CollectiveAttrs: collective, ScatterDimension: *doc.ScatterDimension}
	case hlo.OpCodeFusion:
		called := module.ComputationByName(doc.Calls)
		if called == nil || !called.IsFusion() {
			return nil, errors.Errorf("fusion calls %q, which is not a fusion computation", doc.Calls)
		}
		attrs = &hlo.FusionAttrs{Called: called}
	}
	return c.AddInstruction(doc.Name, opCode, shape, operands, attrs), nil
}

func decodeLiteral(shape hlo.Shape, doc *instructionDoc) (*hlo.Literal, error) {
	if !shape.IsArray() {
		return nil, errors.Errorf("constant must have an array shape, got %s", shape)
	}
	var flat any
	switch shape.DType {
	case dtypes.Int8:
		flat = fromInts[int8](doc.Ints)
	case dtypes.Int16:
		flat = fromInts[int16](doc.Ints)
	case dtypes.Int32:
		flat = fromInts[int32](doc.Ints)
	case dtypes.Int64:
		flat = doc.Ints
	case dtypes.Uint8:
		flat = fromInts[uint8](doc.Ints)
	case dtypes.Uint16:
		flat = fromInts[uint16](doc.Ints)
	case dtypes.Uint32:
		flat = fromInts[uint32](doc.Ints)
	case dtypes.Uint64:
		flat = fromInts[uint64](doc.Ints)
	case dtypes.Float32:
		flat = fromFloats[float32](doc.Floats)
	case dtypes.Float64:
		flat = doc.Floats
	case dtypes.Float16:
		halfs := make([]float16.Float16, len(doc.Floats))
		for ii, v := range doc.Floats {
			halfs[ii] = float16.Fromfloat32(float32(v))
		}
		flat = halfs
	case dtypes.Bool:
		bools := make([]bool, len(doc.Floats))
		for ii, v := range doc.Floats {
			bools[ii] = v != 0
		}
		flat = bools
	default:
		return nil, errors.Errorf("constants of dtype %s are not supported", shape.DType)
	}
	if len(doc.Ints) > 0 && len(doc.Floats) > 0 {
		return nil, errors.Errorf("constant of shape %s has both integer and floating point values", shape)
	}
	return hlo.NewLiteralFromFlat(shape, flat)
}

func fromInts[T constraints.Integer](values []int64) []T {
	flat := make([]T, len(values))
	for ii, v := range values {
		flat[ii] = T(v)
	}
	return flat
}

func fromFloats[T constraints.Float](values []float64) []T {
	flat := make([]T, len(values))
	for ii, v := range values {
		flat[ii] = T(v)
	}
	return flat
}

// ReadFile reads a module from a YAML or JSON file.
func ReadFile(path string) (*hlo.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading module file %q", path)
	}
	module, err := Unmarshal(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "module file %q", path)
	}
	return module, nil
}

// WriteFile writes the module as a YAML file.
func WriteFile(path string, module *hlo.Module) error {
	data, err := Marshal(module)
	if err != nil {
		return err
	}
	if err = os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing module %q to %q", module.Name(), path)
	}
	return nil
}
