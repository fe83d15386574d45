package meta

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Record header magics. Each tagged struct is preceded by
// {magic u32, length u32, version u16}, little-endian, where length counts
// the struct bytes that follow the header.
const (
	MagicShard   uint32 = 0x53484d54
	MagicReplica uint32 = 0x52504c43
	MagicRange   uint32 = 0x524e4745
	MagicVIP     uint32 = 0x5649504d
)

// Current versions understood by this reader.
const (
	VersionShard   uint16 = 1
	VersionReplica uint16 = 1
	VersionRange   uint16 = 1
	VersionVIP     uint16 = 1
)

const (
	headerSize  = 10
	shardSize   = 62
	replicaSize = 9
	rangeSize   = 17
	vipEntry    = 9
)

var le = binary.LittleEndian

func appendHeader(b []byte, magic uint32, length int, version uint16) []byte {
	b = le.AppendUint32(b, magic)
	b = le.AppendUint32(b, uint32(length))
	return le.AppendUint16(b, version)
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

// Marshal encodes m as shard record, replica records, range records and an
// optional VIP record, in that order.
func Marshal(m *ShardMeta) []byte {
	size := headerSize + shardSize
	for _, r := range m.Replicas {
		size += headerSize + replicaSize + len(r.Ranges)*(headerSize+rangeSize)
	}
	if m.VIP != nil {
		size += headerSize + 4 + len(m.VIP.Groups)*vipEntry
	}
	b := make([]byte, 0, size)

	b = appendHeader(b, MagicShard, shardSize, VersionShard)
	b = le.AppendUint64(b, m.ShardID)
	b = le.AppendUint64(b, m.MetaShardID)
	b = le.AppendUint32(b, uint32(m.Type))
	b = le.AppendUint32(b, uint32(m.CurrentHomeNode))
	b = le.AppendUint32(b, uint32(m.LastHomeNode))
	b = le.AppendUint32(b, uint32(m.WriteNode))
	b = le.AppendUint64(b, m.LeaseUsecs)
	b = appendBool(b, m.LeaseLiveness)
	b = le.AppendUint64(b, m.Ltime)
	b = le.AppendUint64(b, m.Seqno)
	b = le.AppendUint32(b, uint32(len(m.Replicas)))
	b = appendBool(b, m.VIP != nil)

	for _, r := range m.Replicas {
		b = appendHeader(b, MagicReplica, replicaSize, VersionReplica)
		b = le.AppendUint32(b, uint32(r.Node))
		b = append(b, byte(r.State))
		b = le.AppendUint32(b, uint32(len(r.Ranges)))
	}
	for _, r := range m.Replicas {
		for _, rg := range r.Ranges {
			b = appendHeader(b, MagicRange, rangeSize, VersionRange)
			b = append(b, byte(rg.Type))
			b = le.AppendUint64(b, rg.Start)
			b = le.AppendUint64(b, rg.Length)
		}
	}

	if m.VIP != nil {
		ids := make([]uint64, 0, len(m.VIP.Groups))
		for id := range m.VIP.Groups {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		b = appendHeader(b, MagicVIP, 4+len(ids)*vipEntry, VersionVIP)
		b = le.AppendUint32(b, uint32(len(ids)))
		for _, id := range ids {
			b = le.AppendUint64(b, id)
			b = append(b, byte(m.VIP.Groups[id]))
		}
	}
	return b
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) header(what string, magic uint32, version uint16) (int, error) {
	if d.remaining() < headerSize {
		return 0, fmt.Errorf("%s header at %d: %w: truncated", what, d.off, StatusMetaDataInvalid)
	}
	gotMagic := le.Uint32(d.buf[d.off:])
	length := int(le.Uint32(d.buf[d.off+4:]))
	gotVersion := le.Uint16(d.buf[d.off+8:])
	if gotMagic != magic {
		return 0, fmt.Errorf("%s header at %d: %w: magic %#x", what, d.off, StatusMetaDataInvalid, gotMagic)
	}
	if gotVersion > version {
		return 0, fmt.Errorf("%s header at %d: %w: version %d > %d", what, d.off, StatusVersionTooNew, gotVersion, version)
	}
	d.off += headerSize
	if length > d.remaining() {
		return 0, fmt.Errorf("%s at %d: %w: length %d exceeds input", what, d.off, StatusMetaDataInvalid, length)
	}
	return length, nil
}

func (d *decoder) expect(what string, length, want int) error {
	if length != want {
		return fmt.Errorf("%s at %d: %w: length %d, want %d", what, d.off, StatusMetaDataInvalid, length, want)
	}
	return nil
}

func (d *decoder) u8() uint8 {
	v := d.buf[d.off]
	d.off++
	return v
}

func (d *decoder) u32() uint32 {
	v := le.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *decoder) u64() uint64 {
	v := le.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}

// Unmarshal decodes a record produced by Marshal. Malformed input yields an
// error wrapping StatusMetaDataInvalid; a record newer than this reader
// yields one wrapping StatusVersionTooNew.
func Unmarshal(b []byte) (*ShardMeta, error) {
	d := &decoder{buf: b}

	n, err := d.header("shard", MagicShard, VersionShard)
	if err != nil {
		return nil, err
	}
	if err := d.expect("shard", n, shardSize); err != nil {
		return nil, err
	}
	m := &ShardMeta{}
	m.ShardID = d.u64()
	m.MetaShardID = d.u64()
	m.Type = ReplicationType(d.u32())
	m.CurrentHomeNode = NodeID(int32(d.u32()))
	m.LastHomeNode = NodeID(int32(d.u32()))
	m.WriteNode = NodeID(int32(d.u32()))
	m.LeaseUsecs = d.u64()
	m.LeaseLiveness = d.u8() != 0
	m.Ltime = d.u64()
	m.Seqno = d.u64()
	nReplicas := int(d.u32())
	hasVIP := d.u8() != 0

	if nReplicas > d.remaining()/(headerSize+replicaSize) {
		return nil, fmt.Errorf("shard: %w: %d replicas do not fit", StatusMetaDataInvalid, nReplicas)
	}
	if nReplicas > 0 {
		m.Replicas = make([]Replica, nReplicas)
	}
	counts := make([]int, nReplicas)
	for i := range m.Replicas {
		n, err := d.header("replica", MagicReplica, VersionReplica)
		if err != nil {
			return nil, err
		}
		if err := d.expect("replica", n, replicaSize); err != nil {
			return nil, err
		}
		m.Replicas[i].Node = NodeID(int32(d.u32()))
		m.Replicas[i].State = ReplicaState(d.u8())
		counts[i] = int(d.u32())
	}
	for i := range m.Replicas {
		if counts[i] > d.remaining()/(headerSize+rangeSize) {
			return nil, fmt.Errorf("replica %d: %w: %d ranges do not fit", i, StatusMetaDataInvalid, counts[i])
		}
		if counts[i] > 0 {
			m.Replicas[i].Ranges = make([]Range, counts[i])
		}
		for j := range m.Replicas[i].Ranges {
			n, err := d.header("range", MagicRange, VersionRange)
			if err != nil {
				return nil, err
			}
			if err := d.expect("range", n, rangeSize); err != nil {
				return nil, err
			}
			rg := &m.Replicas[i].Ranges[j]
			rg.Type = RangeType(d.u8())
			rg.Start = d.u64()
			rg.Length = d.u64()
		}
	}

	if hasVIP {
		n, err := d.header("vip", MagicVIP, VersionVIP)
		if err != nil {
			return nil, err
		}
		if n < 4 {
			return nil, fmt.Errorf("vip: %w: length %d", StatusMetaDataInvalid, n)
		}
		count := int(d.u32())
		if err := d.expect("vip", n, 4+count*vipEntry); err != nil {
			return nil, err
		}
		m.VIP = &VIPMeta{Groups: make(map[uint64]VIPGroupState, count)}
		for i := 0; i < count; i++ {
			id := d.u64()
			m.VIP.Groups[id] = VIPGroupState(d.u8())
		}
	}

	if d.remaining() != 0 {
		return nil, fmt.Errorf("shard %d: %w: %d trailing bytes", m.ShardID, StatusMetaDataInvalid, d.remaining())
	}
	return m, nil
}
