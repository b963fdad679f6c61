// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collectives

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupSizeAndCount(t *testing.T) {
	size, count, err := GroupSizeAndCount(nil, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, size)
	assert.Equal(t, 1, count)

	size, count, err = GroupSizeAndCount([][]int{{1, 3, 2, 0}, {4, 5, 6, 7}}, 8)
	require.NoError(t, err)
	assert.Equal(t, 4, size)
	assert.Equal(t, 2, count)

	_, _, err = GroupSizeAndCount([][]int{{0, 1, 2}, {3}}, 4)
	require.Error(t, err)
	_, _, err = GroupSizeAndCount([][]int{{}}, 4)
	require.Error(t, err)
}

func TestRankOf(t *testing.T) {
	groups := [][]int{{1, 3, 2, 0}, {4, 5, 6, 7}}
	testCases := []struct {
		id, group, rank int
		ok              bool
	}{
		{0, 0, 3, true},
		{1, 0, 0, true},
		{3, 0, 1, true},
		{6, 1, 2, true},
		{8, 0, 0, false},
		{-1, 0, 0, false},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("id=%d", tc.id), func(t *testing.T) {
			group, rank, ok := RankOf(tc.id, groups)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.group, group)
				assert.Equal(t, tc.rank, rank)
			}
		})
	}

	_, rank, ok := RankOf(5, nil)
	require.True(t, ok)
	assert.Equal(t, 5, rank, "empty groups: rank is the id itself")

	_, _, ok = RankOf(1, [][]int{{0, 1}, {1, 2}})
	assert.False(t, ok, "id listed in two groups")
	_, _, ok = RankOf(0, [][]int{{0, 1}, {2}})
	assert.False(t, ok, "groups of different sizes")
}

func TestModeOf(t *testing.T) {
	mode, err := ModeOf(false, false)
	require.NoError(t, err)
	assert.Equal(t, CrossReplica, mode)
	mode, err = ModeOf(true, false)
	require.NoError(t, err)
	assert.Equal(t, CrossReplicaAndPartition, mode)
	mode, err = ModeOf(true, true)
	require.NoError(t, err)
	assert.Equal(t, FlattenedID, mode)
	_, err = ModeOf(false, true)
	require.Error(t, err)

	assert.Equal(t, "FlattenedID", FlattenedID.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())
	mode, err = ModeString("CrossReplicaAndPartition")
	require.NoError(t, err)
	assert.Equal(t, CrossReplicaAndPartition, mode)
	assert.Len(t, ModeValues(), 3)
	assert.Equal(t, 8, FlattenedID.NumParticipantIDs(2, 4))
	assert.Equal(t, 2, CrossReplica.NumParticipantIDs(2, 4))
}

func TestParticipantGroups(t *testing.T) {
	t.Run("CrossReplica", func(t *testing.T) {
		participants, err := ParticipantGroups(CrossReplica, [][]int{{1, 0}}, 2, 2)
		require.NoError(t, err)
		want := [][]Device{
			{{Replica: 1, Partition: 0}, {Replica: 0, Partition: 0}},
			{{Replica: 1, Partition: 1}, {Replica: 0, Partition: 1}},
		}
		assert.Equal(t, want, participants)
	})

	t.Run("CrossReplica-implicit", func(t *testing.T) {
		participants, err := ParticipantGroups(CrossReplica, nil, 4, 1)
		require.NoError(t, err)
		require.Len(t, participants, 1)
		ranks := Ranks(participants)
		for replica := range 4 {
			assert.Equal(t, replica, ranks[Device{Replica: replica}])
		}
	})

	t.Run("CrossReplicaAndPartition", func(t *testing.T) {
		participants, err := ParticipantGroups(CrossReplicaAndPartition, [][]int{{0}, {1}}, 2, 3)
		require.NoError(t, err)
		require.Len(t, participants, 2)
		ranks := Ranks(participants)
		for _, device := range AllDevices(2, 3) {
			assert.Equal(t, device.Partition, ranks[device], "device %s", device)
		}
	})

	t.Run("FlattenedID", func(t *testing.T) {
		participants, err := ParticipantGroups(FlattenedID, [][]int{{1, 3, 2, 0}, {4, 5, 6, 7}}, 2, 4)
		require.NoError(t, err)
		require.Len(t, participants, 2)
		assert.Equal(t, []Device{{0, 1}, {0, 3}, {0, 2}, {0, 0}}, participants[0])
		assert.Equal(t, []Device{{1, 0}, {1, 1}, {1, 2}, {1, 3}}, participants[1])
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := ParticipantGroups(CrossReplica, [][]int{{0, 1}, {1, 2}}, 4, 1)
		assert.Error(t, err, "duplicate id")
		_, err = ParticipantGroups(CrossReplica, [][]int{{0, 1}}, 4, 1)
		assert.Error(t, err, "ids 2 and 3 are not listed")
		_, err = ParticipantGroups(CrossReplica, [][]int{{0, 4}, {1, 2}}, 4, 1)
		assert.Error(t, err, "id out of range")
		_, err = ParticipantGroups(FlattenedID, [][]int{{0, 1}, {2, 3}}, 2, 4)
		assert.Error(t, err, "global ids 4 to 7 missing")
		_, err = ParticipantGroups(CrossReplica, nil, 0, 1)
		assert.Error(t, err)
	})
}

func TestIsOrthogonal(t *testing.T) {
	assert.True(t, IsOrthogonal([][]int{{1, 3, 2, 0}, {5, 7, 6, 4}}, 2, 4))
	assert.False(t, IsOrthogonal([][]int{{1, 3, 2, 0}, {7, 5, 6, 4}}, 2, 4))
	assert.False(t, IsOrthogonal([][]int{{0, 4}, {1, 5}, {2, 6}, {3, 7}}, 2, 4))
	assert.False(t, IsOrthogonal(nil, 2, 4), "a single group over all devices: rank depends on the replica")
	assert.True(t, IsOrthogonal(nil, 1, 4))
	assert.False(t, IsOrthogonal([][]int{{0, 1}}, 2, 4), "groups don't cover all devices")
}

func TestDevice(t *testing.T) {
	d := Device{Replica: 1, Partition: 3}
	assert.Equal(t, 7, d.GlobalID(4))
	assert.Equal(t, d, DeviceFromGlobalID(7, 4))
	assert.Equal(t, "(replica=1, partition=3)", d.String())
	assert.Len(t, AllDevices(2, 4), 8)
}
