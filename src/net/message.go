// Package net implements the UDP wire protocol and the gossip network: the
// message codec, the serialized send queue, and the rebroadcast policy.
package net

import (
	"encoding/binary"
	"errors"

	"github.com/rkanadev/raiblocks/src/config"
	"github.com/rkanadev/raiblocks/src/types"
)

// MessageType discriminates wire messages.
type MessageType byte

const (
	MessageInvalid MessageType = iota
	MessageNotAType
	MessageKeepalive
	MessagePublish
	MessageConfirmReq
	MessageConfirmAck
	MessageBulkPull
)

func (t MessageType) String() string {
	switch t {
	case MessageKeepalive:
		return "keepalive"
	case MessagePublish:
		return "publish"
	case MessageConfirmReq:
		return "confirm_req"
	case MessageConfirmAck:
		return "confirm_ack"
	case MessageBulkPull:
		return "bulk_pull"
	default:
		return "invalid"
	}
}

const (
	headerSize = 8
	magic      = 'R'

	versionMax   = 1
	versionUsing = 1
	versionMin   = 1

	keepalivePeerCount = 8
)

var (
	ErrShortHeader        = errors.New("short header")
	ErrBadMagic           = errors.New("bad magic")
	ErrWrongNetwork       = errors.New("wrong network")
	ErrUnknownVersion     = errors.New("unknown version")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrShortMessage       = errors.New("short message")
)

// Header prefixes every datagram: magic, network id, version triple, type,
// and a 16-bit extensions field whose high byte carries the block type for
// block-bearing messages.
type Header struct {
	Magic        byte
	Network      byte
	VersionMax   byte
	VersionUsing byte
	VersionMin   byte
	Type         MessageType
	Extensions   uint16
}

func newHeader(profile *config.Profile, t MessageType) Header {
	return Header{
		Magic:        magic,
		Network:      profile.ID,
		VersionMax:   versionMax,
		VersionUsing: versionUsing,
		VersionMin:   versionMin,
		Type:         t,
	}
}

// BlockType returns the block type embedded in the extensions field.
func (h Header) BlockType() types.BlockType {
	return types.BlockType(h.Extensions >> 8)
}

// SetBlockType embeds the block type in the extensions field.
func (h *Header) SetBlockType(t types.BlockType) {
	h.Extensions = h.Extensions&0x00ff | uint16(t)<<8
}

func (h Header) serialize(out []byte) {
	out[0] = h.Magic
	out[1] = h.Network
	out[2] = h.VersionMax
	out[3] = h.VersionUsing
	out[4] = h.VersionMin
	out[5] = byte(h.Type)
	binary.LittleEndian.PutUint16(out[6:8], h.Extensions)
}

func parseHeader(data []byte, profile *config.Profile) (Header, error) {
	if len(data) < headerSize {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Magic:        data[0],
		Network:      data[1],
		VersionMax:   data[2],
		VersionUsing: data[3],
		VersionMin:   data[4],
		Type:         MessageType(data[5]),
		Extensions:   binary.LittleEndian.Uint16(data[6:8]),
	}
	if h.Magic != magic {
		return h, ErrBadMagic
	}
	if h.Network != profile.ID {
		return h, ErrWrongNetwork
	}
	if h.VersionMin > versionUsing {
		return h, ErrUnknownVersion
	}
	return h, nil
}

// Message is a decoded wire message. Serialize renders the full datagram
// including the header.
type Message interface {
	Serialize() []byte
	visit(h Handler, from types.Endpoint)
}

// Handler dispatches decoded messages; the node facade implements it.
type Handler interface {
	Keepalive(*Keepalive, types.Endpoint)
	Publish(*Publish, types.Endpoint)
	ConfirmReq(*ConfirmReq, types.Endpoint)
	ConfirmAck(*ConfirmAck, types.Endpoint)
	BulkPull(*BulkPull, types.Endpoint)
}

// ParseMessage decodes one datagram. A malformed header or unknown type is
// an error; the caller counts it against the sender and drops it.
func ParseMessage(data []byte, profile *config.Profile) (Message, error) {
	header, err := parseHeader(data, profile)
	if err != nil {
		return nil, err
	}
	body := data[headerSize:]

	switch header.Type {
	case MessageKeepalive:
		return parseKeepalive(header, body)
	case MessagePublish:
		block, err := parseBlockBody(header, body)
		if err != nil {
			return nil, err
		}
		return &Publish{header: header, Block: block}, nil
	case MessageConfirmReq:
		block, err := parseBlockBody(header, body)
		if err != nil {
			return nil, err
		}
		return &ConfirmReq{header: header, Block: block}, nil
	case MessageConfirmAck:
		return parseConfirmAck(header, body)
	case MessageBulkPull:
		return parseBulkPull(header, body)
	default:
		return nil, ErrUnknownMessageType
	}
}

func parseBlockBody(header Header, body []byte) (types.Block, error) {
	blockType := header.BlockType()
	size := types.BlockSize(blockType)
	if size == 0 {
		return nil, types.ErrBadBlockType
	}
	if len(body) < size {
		return nil, ErrShortMessage
	}
	return types.DeserializeBlock(blockType, body[:size])
}

//------------------------------------------------------------------------------

// Keepalive carries 8 random peers from the sender's container.
type Keepalive struct {
	header Header
	Peers  [keepalivePeerCount]types.Endpoint
}

// NewKeepalive builds a keepalive for the given network profile.
func NewKeepalive(profile *config.Profile) *Keepalive {
	return &Keepalive{header: newHeader(profile, MessageKeepalive)}
}

func (m *Keepalive) Serialize() []byte {
	out := make([]byte, headerSize+keepalivePeerCount*18)
	m.header.serialize(out)
	offset := headerSize
	for _, ep := range m.Peers {
		addr := ep.Bytes16()
		copy(out[offset:], addr[:])
		binary.LittleEndian.PutUint16(out[offset+16:], ep.Port)
		offset += 18
	}
	return out
}

func parseKeepalive(header Header, body []byte) (*Keepalive, error) {
	if len(body) < keepalivePeerCount*18 {
		return nil, ErrShortMessage
	}
	m := &Keepalive{header: header}
	for i := 0; i < keepalivePeerCount; i++ {
		var addr [16]byte
		copy(addr[:], body[i*18:])
		port := binary.LittleEndian.Uint16(body[i*18+16:])
		m.Peers[i] = types.EndpointFromBytes(addr, port)
	}
	return m, nil
}

func (m *Keepalive) visit(h Handler, from types.Endpoint) { h.Keepalive(m, from) }

//------------------------------------------------------------------------------

// Publish announces a block.
type Publish struct {
	header Header
	Block  types.Block
}

// NewPublish builds a publish message for the block.
func NewPublish(profile *config.Profile, block types.Block) *Publish {
	m := &Publish{header: newHeader(profile, MessagePublish), Block: block}
	m.header.SetBlockType(block.Type())
	return m
}

func (m *Publish) Serialize() []byte {
	body := m.Block.Serialize()
	out := make([]byte, headerSize, headerSize+len(body))
	m.header.serialize(out)
	return append(out, body...)
}

func (m *Publish) visit(h Handler, from types.Endpoint) { h.Publish(m, from) }

//------------------------------------------------------------------------------

// ConfirmReq asks representatives to vote on a block.
type ConfirmReq struct {
	header Header
	Block  types.Block
}

// NewConfirmReq builds a confirm request for the block.
func NewConfirmReq(profile *config.Profile, block types.Block) *ConfirmReq {
	m := &ConfirmReq{header: newHeader(profile, MessageConfirmReq), Block: block}
	m.header.SetBlockType(block.Type())
	return m
}

func (m *ConfirmReq) Serialize() []byte {
	body := m.Block.Serialize()
	out := make([]byte, headerSize, headerSize+len(body))
	m.header.serialize(out)
	return append(out, body...)
}

func (m *ConfirmReq) visit(h Handler, from types.Endpoint) { h.ConfirmReq(m, from) }

//------------------------------------------------------------------------------

// ConfirmAck carries a representative's signed vote.
type ConfirmAck struct {
	header Header
	Vote   *types.Vote
}

// NewConfirmAck wraps a vote for the wire.
func NewConfirmAck(profile *config.Profile, vote *types.Vote) *ConfirmAck {
	m := &ConfirmAck{header: newHeader(profile, MessageConfirmAck), Vote: vote}
	m.header.SetBlockType(vote.Block.Type())
	return m
}

func (m *ConfirmAck) Serialize() []byte {
	body := m.Vote.Block.Serialize()
	out := make([]byte, headerSize+32+64+8, headerSize+32+64+8+len(body))
	m.header.serialize(out)
	copy(out[headerSize:], m.Vote.Account[:])
	sig := m.Vote.Signature
	copy(out[headerSize+32:], sig[:])
	binary.LittleEndian.PutUint64(out[headerSize+96:], m.Vote.Sequence)
	return append(out, body...)
}

func parseConfirmAck(header Header, body []byte) (*ConfirmAck, error) {
	if len(body) < 32+64+8 {
		return nil, ErrShortMessage
	}
	vote := &types.Vote{
		Account:  types.AccountFromBytes(body[0:32]),
		Sequence: binary.LittleEndian.Uint64(body[96:104]),
	}
	copy(vote.Signature[:], body[32:96])

	block, err := parseBlockBody(header, body[104:])
	if err != nil {
		return nil, err
	}
	vote.Block = block

	return &ConfirmAck{header: header, Vote: vote}, nil
}

func (m *ConfirmAck) visit(h Handler, from types.Endpoint) { h.ConfirmAck(m, from) }

//------------------------------------------------------------------------------

// BulkPull requests an account's chain from Start down to End over the
// bootstrap stream. The core only parses it; no receive counter tracks it,
// and serving the stream is the bootstrap listener's job.
type BulkPull struct {
	header Header
	Start  types.Account
	End    types.BlockHash
}

// NewBulkPull builds a bulk pull control message.
func NewBulkPull(profile *config.Profile, start types.Account, end types.BlockHash) *BulkPull {
	return &BulkPull{header: newHeader(profile, MessageBulkPull), Start: start, End: end}
}

func (m *BulkPull) Serialize() []byte {
	out := make([]byte, headerSize+64)
	m.header.serialize(out)
	copy(out[headerSize:], m.Start[:])
	copy(out[headerSize+32:], m.End[:])
	return out
}

func parseBulkPull(header Header, body []byte) (*BulkPull, error) {
	if len(body) < 64 {
		return nil, ErrShortMessage
	}
	m := &BulkPull{header: header}
	copy(m.Start[:], body[0:32])
	copy(m.End[:], body[32:64])
	return m, nil
}

func (m *BulkPull) visit(h Handler, from types.Endpoint) { h.BulkPull(m, from) }
