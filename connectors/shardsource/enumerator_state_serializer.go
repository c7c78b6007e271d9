package shardsource

import (
	"encoding/binary"
	"fmt"
	"slices"
	"time"
)

// EnumeratorState is the checkpointable snapshot of the enumerator: every
// known split with its assignment status, plus the timestamp anchoring
// LATEST starting positions.
type EnumeratorState struct {
	KnownSplits    []SplitWithStatus
	StartTimestamp time.Time
}

// EnumeratorStateSerializer encodes EnumeratorState. Layout:
//
//	i64 start timestamp (epoch millis)
//	i32 split serializer version
//	i32 split count
//	per split: length-prefixed split payload, i32 status
//
// Readers of version N accept state written by versions <= N.
type EnumeratorStateSerializer struct {
	splits SplitSerializer
}

const enumeratorStateSerializerVersion = 1

var enumeratorStateCompatibleVersions = []int{0, 1}

func (s EnumeratorStateSerializer) Version() int {
	return enumeratorStateSerializerVersion
}

func (s EnumeratorStateSerializer) Serialize(state EnumeratorState) ([]byte, error) {
	var w wireWriter

	w.writeInt64(state.StartTimestamp.UnixMilli())
	w.writeInt32(int32(s.splits.Version()))
	w.writeInt32(int32(len(state.KnownSplits)))
	for _, sws := range state.KnownSplits {
		splitBytes, err := s.splits.Serialize(sws.Split)
		if err != nil {
			return nil, fmt.Errorf("serialize split %s: %w", sws.Split.SplitID(), err)
		}
		w.writeBytes(splitBytes)
		w.writeInt32(int32(sws.Status))
	}

	return w.bytes(), nil
}

func (s EnumeratorStateSerializer) Deserialize(version int, data []byte) (EnumeratorState, error) {
	if !slices.Contains(enumeratorStateCompatibleVersions, version) {
		return EnumeratorState{}, &VersionMismatchError{Got: version, Current: enumeratorStateSerializerVersion}
	}
	r := &wireReader{data: data}

	startMillis, err := r.readInt64()
	if err != nil {
		return EnumeratorState{}, err
	}
	splitVersion, err := r.readInt32()
	if err != nil {
		return EnumeratorState{}, err
	}
	count, err := r.readInt32()
	if err != nil {
		return EnumeratorState{}, err
	}
	if count < 0 {
		return EnumeratorState{}, fmt.Errorf("negative split count %d", count)
	}

	state := EnumeratorState{StartTimestamp: time.UnixMilli(startMillis)}
	for range count {
		splitBytes, err := r.readBytes()
		if err != nil {
			return EnumeratorState{}, err
		}
		split, err := s.splits.Deserialize(int(splitVersion), splitBytes)
		if err != nil {
			return EnumeratorState{}, err
		}
		status, err := r.readInt32()
		if err != nil {
			return EnumeratorState{}, err
		}
		state.KnownSplits = append(state.KnownSplits, SplitWithStatus{
			Split:  split,
			Status: SplitAssignmentStatus(status),
		})
	}

	return state, nil
}

// SerializeEnumeratorState encodes the state prefixed with the serializer
// version, the layout persisted by checkpoint stores.
func SerializeEnumeratorState(state EnumeratorState) ([]byte, error) {
	var serializer EnumeratorStateSerializer
	payload, err := serializer.Serialize(state)
	if err != nil {
		return nil, err
	}
	out := binary.BigEndian.AppendUint32(make([]byte, 0, 4+len(payload)), uint32(serializer.Version()))
	return append(out, payload...), nil
}

// DeserializeEnumeratorState decodes a version-prefixed payload written by
// SerializeEnumeratorState, by this or any prior version.
func DeserializeEnumeratorState(data []byte) (EnumeratorState, error) {
	if len(data) < 4 {
		return EnumeratorState{}, fmt.Errorf("checkpoint payload of %d bytes has no version header", len(data))
	}
	version := int(binary.BigEndian.Uint32(data[:4]))
	var serializer EnumeratorStateSerializer
	return serializer.Deserialize(version, data[4:])
}
