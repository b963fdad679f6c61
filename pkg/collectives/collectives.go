// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package collectives models the participants of cross-device collective operations: how replica groups,
// channel ids and global device ids select, for every device, the group it reduces with and its rank
// (position) in that group.
//
// Devices are identified by a (replica, partition) pair; see Device.
package collectives

import (
	"fmt"

	"github.com/gomlx/spmdopt/pkg/support/sets"
	"github.com/pkg/errors"
)

// Device identifies one device running the program: a replica id and a partition id.
type Device struct {
	Replica, Partition int
}

// GlobalID returns the flattened id of the device: Replica*numPartitions + Partition.
func (d Device) GlobalID(numPartitions int) int {
	return d.Replica*numPartitions + d.Partition
}

// DeviceFromGlobalID is the inverse of Device.GlobalID.
func DeviceFromGlobalID(globalID, numPartitions int) Device {
	return Device{Replica: globalID / numPartitions, Partition: globalID % numPartitions}
}

// String implements fmt.Stringer.
func (d Device) String() string {
	return fmt.Sprintf("(replica=%d, partition=%d)", d.Replica, d.Partition)
}

// AllDevices lists every device of a configuration, ordered by global id.
func AllDevices(replicaCount, numPartitions int) []Device {
	devices := make([]Device, 0, replicaCount*numPartitions)
	for replica := range replicaCount {
		for partition := range numPartitions {
			devices = append(devices, Device{Replica: replica, Partition: partition})
		}
	}
	return devices
}

// GroupSizeAndCount returns the number of participants in each group and the number of groups.
//
// An empty list of groups means one implicit group with all numParticipants. It returns an error if the
// groups don't all have the same size, or if a group is empty.
func GroupSizeAndCount(groups [][]int, numParticipants int) (size, count int, err error) {
	if len(groups) == 0 {
		return numParticipants, 1, nil
	}
	size = len(groups[0])
	for ii, group := range groups {
		if len(group) == 0 {
			return 0, 0, errors.Errorf("replica group #%d is empty in %v", ii, groups)
		}
		if len(group) != size {
			return 0, 0, errors.Errorf("replica groups have different sizes (%d and %d) in %v", size, len(group), groups)
		}
	}
	return size, len(groups), nil
}

// RankOf returns the ordinal of the group containing id, and the rank of id in that group (its position in the
// group's listed order).
//
// An empty list of groups means one implicit group listing every participant in order, so the rank is the
// id itself. It returns ok=false if id is negative, if it is not found in exactly one group, or if the groups
// have different sizes.
func RankOf(id int, groups [][]int) (groupOrdinal, rank int, ok bool) {
	if id < 0 {
		return 0, 0, false
	}
	if len(groups) == 0 {
		return 0, id, true
	}
	groupOrdinal, rank = -1, -1
	for ii, group := range groups {
		if len(group) != len(groups[0]) {
			return 0, 0, false
		}
		for position, member := range group {
			if member != id {
				continue
			}
			if groupOrdinal != -1 {
				// Found more than once.
				return 0, 0, false
			}
			groupOrdinal, rank = ii, position
		}
	}
	if groupOrdinal == -1 {
		return 0, 0, false
	}
	return groupOrdinal, rank, true
}

// validateGroups checks that groups partition the ids [0, numIDs): every id is listed exactly once.
func validateGroups(groups [][]int, numIDs int) error {
	if _, _, err := GroupSizeAndCount(groups, numIDs); err != nil {
		return err
	}
	if len(groups) == 0 {
		return nil
	}
	seen := sets.Make[int](numIDs)
	for _, group := range groups {
		for _, id := range group {
			if id < 0 || id >= numIDs {
				return errors.Errorf("id %d in replica groups %v is out of range [0, %d)", id, groups, numIDs)
			}
			if !seen.InsertNew(id) {
				return errors.Errorf("id %d is listed more than once in replica groups %v", id, groups)
			}
		}
	}
	if len(seen) != numIDs {
		return errors.Errorf("replica groups %v don't list ids %v", groups, sets.Sorted(sets.Range(numIDs).Sub(seen)))
	}
	return nil
}

// ParticipantGroups returns the participants of every group of a collective, for the given mode.
// The position of a device in its group's list is its rank.
//
// The interpretation of groups depends on the mode:
//
//   - CrossReplica: groups list replica ids; each group is formed independently within every partition.
//   - CrossReplicaAndPartition: groups list replica ids; a group includes every partition of its replicas,
//     ordered by replica (in the listed order) then by partition.
//   - FlattenedID: groups list global device ids (see Device.GlobalID).
//
// It returns an error if groups don't assign every device of the configuration to exactly one group.
func ParticipantGroups(mode Mode, groups [][]int, replicaCount, numPartitions int) ([][]Device, error) {
	if replicaCount <= 0 || numPartitions <= 0 {
		return nil, errors.Errorf("invalid device configuration with %d replicas and %d partitions",
			replicaCount, numPartitions)
	}
	numIDs := mode.NumParticipantIDs(replicaCount, numPartitions)
	if err := validateGroups(groups, numIDs); err != nil {
		return nil, errors.WithMessagef(err, "invalid replica groups for mode %s", mode)
	}
	if len(groups) == 0 {
		implicit := make([]int, numIDs)
		for ii := range implicit {
			implicit[ii] = ii
		}
		groups = [][]int{implicit}
	}

	var participants [][]Device
	switch mode {
	case CrossReplica:
		for partition := range numPartitions {
			for _, group := range groups {
				devices := make([]Device, len(group))
				for rank, replica := range group {
					devices[rank] = Device{Replica: replica, Partition: partition}
				}
				participants = append(participants, devices)
			}
		}
	case CrossReplicaAndPartition:
		for _, group := range groups {
			devices := make([]Device, 0, len(group)*numPartitions)
			for _, replica := range group {
				for partition := range numPartitions {
					devices = append(devices, Device{Replica: replica, Partition: partition})
				}
			}
			participants = append(participants, devices)
		}
	case FlattenedID:
		for _, group := range groups {
			devices := make([]Device, len(group))
			for rank, globalID := range group {
				devices[rank] = DeviceFromGlobalID(globalID, numPartitions)
			}
			participants = append(participants, devices)
		}
	default:
		return nil, errors.Errorf("unknown collective mode %s", mode)
	}
	return participants, nil
}

// Ranks maps every device to its rank within its group, given the participant groups returned by
// ParticipantGroups.
func Ranks(participants [][]Device) map[Device]int {
	ranks := make(map[Device]int)
	for _, group := range participants {
		for rank, device := range group {
			ranks[device] = rank
		}
	}
	return ranks
}

// IsOrthogonal returns whether groups of global device ids treat every replica the same way: each replica's
// block of global ids [r*numPartitions, (r+1)*numPartitions) induces the same partition to rank mapping.
//
// When that holds, the rank of a device can be computed from its partition id alone.
func IsOrthogonal(groups [][]int, replicaCount, numPartitions int) bool {
	if err := validateGroups(groups, replicaCount*numPartitions); err != nil {
		return false
	}
	for partition := range numPartitions {
		_, want, _ := RankOf(partition, groups)
		for replica := 1; replica < replicaCount; replica++ {
			_, rank, ok := RankOf(Device{Replica: replica, Partition: partition}.GlobalID(numPartitions), groups)
			if !ok || rank != want {
				return false
			}
		}
	}
	return true
}
