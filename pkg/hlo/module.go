// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hlo is a minimal dataflow intermediate representation of distributed (SPMD) numerical programs,
// modeled after XLA's HLO: a Module owns Computations, each an arena of Instructions connected by def-use
// edges.
//
// It provides what optimization passes (see package passes) need: instruction construction with explicit
// shapes, def-use edge maintenance (Computation.ReplaceAllUsesWith), safe removal with dead operand pruning
// (Computation.RemoveInstructionAndUnusedOperands), post-order listing (Computation.MakeInstructionPostOrder)
// and channel id bookkeeping (Module.NextChannelID).
//
// Errors: misuse while building (nil operands, invalid shapes) panics with exceptions.Panicf, since those are
// bugs in the code. Graph mutations that can legitimately fail return errors.
package hlo

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
)

// Config holds the device configuration the module is compiled for.
type Config struct {
	// ReplicaCount is the number of replicas: copies of the program running in data-parallel fashion.
	ReplicaCount int

	// NumPartitions is the number of partitions each replica is split into (model parallelism).
	NumPartitions int

	// UseSPMDPartitioning indicates partitions run the same program (SPMD), which is required to
	// reason about collectives crossing partitions.
	UseSPMDPartitioning bool
}

// NumDevices is the total number of devices, ReplicaCount * NumPartitions.
func (cfg Config) NumDevices() int { return cfg.ReplicaCount * cfg.NumPartitions }

// DefaultConfig returns a configuration for a single device.
func DefaultConfig() Config {
	return Config{ReplicaCount: 1, NumPartitions: 1}
}

// Module is the unit of compilation: a set of computations, one of them being the entry computation.
type Module struct {
	name   string
	id     uuid.UUID
	config Config

	computations []*Computation
	entry        *Computation

	// namesCount is used to make instruction names unique within the module.
	namesCount map[string]int
}

// NewModule creates an empty module with the given name and configuration.
// Non-positive ReplicaCount or NumPartitions are set to 1.
func NewModule(name string, config Config) *Module {
	if config.ReplicaCount <= 0 {
		config.ReplicaCount = 1
	}
	if config.NumPartitions <= 0 {
		config.NumPartitions = 1
	}
	return &Module{
		name:       name,
		id:         uuid.New(),
		config:     config,
		namesCount: make(map[string]int),
	}
}

// Name of the module.
func (m *Module) Name() string { return m.name }

// ID is a unique identifier of the module, generated at creation.
func (m *Module) ID() uuid.UUID { return m.id }

// Config returns the device configuration of the module.
func (m *Module) Config() Config { return m.config }

// NewComputation creates a new empty (non-fusion) computation in the module, e.g. a reduction computation.
func (m *Module) NewComputation(name string) *Computation {
	return m.newComputation(name, false)
}

// NewEntryComputation creates a new computation and sets it as the entry computation of the module.
func (m *Module) NewEntryComputation(name string) *Computation {
	if m.entry != nil {
		exceptions.Panicf("module %q already has an entry computation %q", m.name, m.entry.name)
	}
	c := m.newComputation(name, false)
	m.entry = c
	return c
}

// NewFusionComputation creates a new computation to be used as the body of fusion instructions.
func (m *Module) NewFusionComputation(name string) *Computation {
	return m.newComputation(name, true)
}

func (m *Module) newComputation(name string, isFusion bool) *Computation {
	for _, c := range m.computations {
		if c.name == name {
			exceptions.Panicf("module %q already has a computation named %q", m.name, name)
		}
	}
	c := &Computation{name: name, module: m, isFusion: isFusion}
	m.computations = append(m.computations, c)
	return c
}

// Entry returns the entry computation, or nil if not set.
func (m *Module) Entry() *Computation { return m.entry }

// Computations returns all computations of the module, in creation order.
func (m *Module) Computations() []*Computation { return m.computations }

// ComputationByName returns the computation with the given name, or nil.
func (m *Module) ComputationByName(name string) *Computation {
	for _, c := range m.computations {
		if c.name == name {
			return c
		}
	}
	return nil
}

// NonFusionComputations returns the computations that are not fusion bodies, in creation order.
func (m *Module) NonFusionComputations() []*Computation {
	var computations []*Computation
	for _, c := range m.computations {
		if !c.isFusion {
			computations = append(computations, c)
		}
	}
	return computations
}

// NextChannelID returns a channel id larger than every channel id in use in the module: the current maximum
// plus one, or 1 if no instruction carries a channel id.
func (m *Module) NextChannelID() int64 {
	var maxID int64
	for _, c := range m.computations {
		for _, inst := range c.instructions {
			if inst == nil {
				continue
			}
			if attrs, ok := inst.Collective(); ok && attrs.ChannelID > maxID {
				maxID = attrs.ChannelID
			}
		}
	}
	return maxID + 1
}

// uniqueName returns name, or name with a ".<n>" suffix if name was already used in the module.
func (m *Module) uniqueName(name string) string {
	count, found := m.namesCount[name]
	m.namesCount[name] = count + 1
	if !found {
		return name
	}
	for {
		candidate := fmt.Sprintf("%s.%d", name, count)
		if _, taken := m.namesCount[candidate]; !taken {
			m.namesCount[candidate] = 1
			return candidate
		}
		count++
		m.namesCount[name] = count + 1
	}
}

// Clone returns a deep copy of the module: same name, configuration and graph, with a new ID.
// Removed instructions are not copied, so instruction ids may differ from the original.
func (m *Module) Clone() *Module {
	m2 := NewModule(m.name, m.config)
	mapping := make(map[*Computation]*Computation, len(m.computations))
	for _, c := range m.computations {
		mapping[c] = &Computation{name: c.name, module: m2, isFusion: c.isFusion}
	}
	remap := func(c *Computation) *Computation {
		if c == nil {
			return nil
		}
		return mapping[c]
	}
	for _, c := range m.computations {
		c2 := mapping[c]
		instMapping := make(map[*Instruction]*Instruction, c.NumInstructions())
		for _, param := range c.parameters {
			number := param.attrs.(*ParameterAttrs).Number
			instMapping[param] = c2.Parameter(number, param.shape, param.name)
		}
		for _, inst := range c.MakeInstructionPostOrder() {
			if inst.opCode == OpCodeParameter {
				continue
			}
			operands := make([]*Instruction, len(inst.operands))
			for ii, operand := range inst.operands {
				operands[ii] = instMapping[operand]
			}
			var attrs Attrs
			if inst.attrs != nil {
				attrs = inst.attrs.clone(remap)
			}
			instMapping[inst] = c2.AddInstruction(inst.name, inst.opCode, inst.shape, operands, attrs)
		}
		if c.root != nil {
			c2.root = instMapping[c.root]
		}
		m2.computations = append(m2.computations, c2)
		if m.entry == c {
			m2.entry = c2
		}
	}
	return m2
}

// String prints the module in the HLO text style: non-entry computations first, then the entry computation.
func (m *Module) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "HloModule %s, replica_count=%d, num_partitions=%d\n",
		m.name, m.config.ReplicaCount, m.config.NumPartitions)
	for _, c := range m.computations {
		if c == m.entry {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(c.String())
	}
	if m.entry != nil {
		sb.WriteString("\n")
		sb.WriteString(m.entry.String())
	}
	return sb.String()
}

// SetEntry sets the entry computation of the module. It must be a non-fusion computation of the module.
func (m *Module) SetEntry(c *Computation) {
	if c == nil || c.module != m || c.isFusion {
		exceptions.Panicf("SetEntry: computation must be a non-fusion computation of module %q", m.name)
	}
	m.entry = c
}
