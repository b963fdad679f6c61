// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reducescatter

import (
	"github.com/gomlx/spmdopt/pkg/collectives"
	"github.com/gomlx/spmdopt/pkg/hlo"
	"github.com/pkg/errors"
)

// groupModel describes, for one all-reduce, which devices execute it and the rank of each device in its group.
type groupModel struct {
	mode          collectives.Mode
	groups        [][]int
	replicaCount  int
	numPartitions int

	// groupSize is the number of participants of every group.
	groupSize int

	// devices are all the legal devices, ordered by global id, and ranks their position in their groups.
	devices []collectives.Device
	ranks   map[collectives.Device]int
}

// newGroupModel builds the group model of a collective. An error is returned if the collective's groups
// are not supported, which is not a failure of the pass, just a reason not to match.
func newGroupModel(attrs *hlo.CollectiveAttrs, config hlo.Config) (*groupModel, error) {
	mode, err := collectives.ModeOf(attrs.HasChannelID(), attrs.UseGlobalDeviceIDs)
	if err != nil {
		return nil, err
	}
	m := &groupModel{
		mode:          mode,
		groups:        attrs.ReplicaGroups,
		replicaCount:  config.ReplicaCount,
		numPartitions: config.NumPartitions,
	}
	if mode == collectives.CrossReplicaAndPartition {
		// Only the case where each replica reduces across its partitions has a well-defined rank: the
		// partition id.
		for _, group := range m.groups {
			if len(group) != 1 {
				return nil, errors.Errorf("%s collective with replica groups %s is not supported, only groups of "+
					"one replica are", mode, hlo.FormatReplicaGroups(m.groups))
			}
		}
		if len(m.groups) == 0 && m.replicaCount != 1 {
			return nil, errors.Errorf("%s collective with implicit replica groups requires a single replica, got %d",
				mode, m.replicaCount)
		}
	}
	participants, err := collectives.ParticipantGroups(mode, m.groups, m.replicaCount, m.numPartitions)
	if err != nil {
		return nil, err
	}
	m.groupSize = len(participants[0])
	m.ranks = collectives.Ranks(participants)
	m.devices = collectives.AllDevices(m.replicaCount, m.numPartitions)
	return m, nil
}

// rank returns the rank of a legal device in its group.
func (m *groupModel) rank(device collectives.Device) int64 {
	return int64(m.ranks[device])
}
