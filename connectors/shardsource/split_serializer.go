package shardsource

import (
	"fmt"
	"slices"

	"shardline.dev/shardline/util/ptr"
)

// SplitSerializer encodes splits for checkpoint state. It must deserialize
// payloads from every prior version:
//
//	v0: streamArn, shardId, iterator type, starting marker, parent shard id
//	v1: v0 + finished flag
//	v2: v1 + child shard list
//
// Early state (v0/v1) was written when a split carried a set of parent shard
// ids rather than a single one; the wire framing is identical for the
// single-element case, and the first parent becomes ParentShardID.
type SplitSerializer struct{}

const splitSerializerVersion = 2

var splitCompatibleVersions = []int{0, 1, 2}

func (s SplitSerializer) Version() int {
	return splitSerializerVersion
}

func (s SplitSerializer) Serialize(split Split) ([]byte, error) {
	var w wireWriter

	if err := w.writeUTF(split.StreamARN); err != nil {
		return nil, err
	}
	if err := w.writeUTF(split.ShardID); err != nil {
		return nil, err
	}
	if err := w.writeUTF(string(split.StartingPosition.Type)); err != nil {
		return nil, err
	}

	// The starting marker payload is only encoded for sequence-number
	// positions. Timestamp markers write their presence flags but no payload;
	// this matches the layout of state written by prior versions.
	switch split.StartingPosition.Type {
	case IteratorTypeAfterSequenceNumber:
		w.writeBool(true)
		w.writeBool(true)
		if err := w.writeUTF(split.StartingPosition.SequenceNumber); err != nil {
			return nil, err
		}
	case IteratorTypeAtTimestamp:
		w.writeBool(true)
		w.writeBool(false)
	default:
		w.writeBool(false)
	}

	w.writeBool(split.ParentShardID != nil)
	if split.ParentShardID != nil {
		if err := w.writeUTF(*split.ParentShardID); err != nil {
			return nil, err
		}
	}

	w.writeBool(split.Finished)

	w.writeInt32(int32(len(split.ChildSplits)))
	for _, child := range split.ChildSplits {
		if err := w.writeUTF(child.ShardID); err != nil {
			return nil, err
		}
		if err := w.writeUTF(ptr.Deref(child.ParentShardID)); err != nil {
			return nil, err
		}
		if err := w.writeUTF(child.SequenceNumberRange.StartingSequenceNumber); err != nil {
			return nil, err
		}
		ending := child.SequenceNumberRange.EndingSequenceNumber
		w.writeBool(ending != nil)
		if ending != nil {
			if err := w.writeUTF(*ending); err != nil {
				return nil, err
			}
		}
	}

	return w.bytes(), nil
}

func (s SplitSerializer) Deserialize(version int, data []byte) (Split, error) {
	if !slices.Contains(splitCompatibleVersions, version) {
		return Split{}, &VersionMismatchError{Got: version, Current: splitSerializerVersion}
	}

	r := &wireReader{data: data}

	streamARN, err := r.readUTF()
	if err != nil {
		return Split{}, err
	}
	shardID, err := r.readUTF()
	if err != nil {
		return Split{}, err
	}
	iteratorType, err := r.readUTF()
	if err != nil {
		return Split{}, err
	}

	pos := StartingPosition{Type: ShardIteratorType(iteratorType)}
	hasMarker, err := r.readBool()
	if err != nil {
		return Split{}, err
	}
	if hasMarker {
		isString, err := r.readBool()
		if err != nil {
			return Split{}, err
		}
		if isString {
			if pos.SequenceNumber, err = r.readUTF(); err != nil {
				return Split{}, err
			}
		}
	}

	var parentShardID *string
	hasParent, err := r.readBool()
	if err != nil {
		return Split{}, err
	}
	if hasParent {
		parent, err := r.readUTF()
		if err != nil {
			return Split{}, err
		}
		parentShardID = &parent
	}

	finished := false
	if version > 0 {
		if finished, err = r.readBool(); err != nil {
			return Split{}, err
		}
	}

	var childSplits []Shard
	if version > 1 {
		childCount, err := r.readInt32()
		if err != nil {
			return Split{}, err
		}
		if childCount < 0 {
			return Split{}, fmt.Errorf("negative child split count %d", childCount)
		}
		for range childCount {
			childID, err := r.readUTF()
			if err != nil {
				return Split{}, err
			}
			childParent, err := r.readUTF()
			if err != nil {
				return Split{}, err
			}
			startingSeq, err := r.readUTF()
			if err != nil {
				return Split{}, err
			}
			var endingSeq *string
			hasEnding, err := r.readBool()
			if err != nil {
				return Split{}, err
			}
			if hasEnding {
				ending, err := r.readUTF()
				if err != nil {
					return Split{}, err
				}
				endingSeq = &ending
			}
			childSplits = append(childSplits, Shard{
				ShardID:       childID,
				ParentShardID: &childParent,
				SequenceNumberRange: SequenceNumberRange{
					StartingSequenceNumber: startingSeq,
					EndingSequenceNumber:   endingSeq,
				},
			})
		}
	}

	return Split{
		StreamARN:        streamARN,
		ShardID:          shardID,
		StartingPosition: pos,
		ParentShardID:    parentShardID,
		Finished:         finished,
		ChildSplits:      childSplits,
	}, nil
}
