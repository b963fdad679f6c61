// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collectives

import (
	"github.com/pkg/errors"
)

// Mode is how the replica groups of a collective are interpreted. It's selected by the presence of a channel id
// and the use_global_device_ids flag, see ModeOf.
type Mode int

//go:generate go tool enumer -type=Mode -output=gen_mode_enumer.go mode.go

const (
	// CrossReplica collectives have no channel id: groups list replica ids, and participants are the
	// replicas of the same partition.
	CrossReplica Mode = iota

	// CrossReplicaAndPartition collectives have a channel id but don't use global device ids: groups list replica
	// ids, and every partition of those replicas participates.
	CrossReplicaAndPartition

	// FlattenedID collectives have a channel id and use global device ids: groups list global device ids
	// (replica*numPartitions + partition).
	FlattenedID
)

// ModeOf returns the Mode of a collective. Using global device ids without a channel id is invalid.
func ModeOf(hasChannelID, useGlobalDeviceIDs bool) (Mode, error) {
	switch {
	case !hasChannelID && useGlobalDeviceIDs:
		return CrossReplica, errors.New("use_global_device_ids requires a channel id")
	case !hasChannelID:
		return CrossReplica, nil
	case useGlobalDeviceIDs:
		return FlattenedID, nil
	default:
		return CrossReplicaAndPartition, nil
	}
}

// NumParticipantIDs returns the number of distinct ids replica groups can list in the given mode:
// the number of replicas, or the total number of devices for FlattenedID.
func (m Mode) NumParticipantIDs(replicaCount, numPartitions int) int {
	if m == FlattenedID {
		return replicaCount * numPartitions
	}
	return replicaCount
}
