package msg

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

// HeadSize is the encoded size of Head: four 32-bit fields.
const HeadSize uint32 = 16

const (
	MAX_MSG_LENGTH = 1024 * 1024
)

var DefaultByteOrder binary.ByteOrder = binary.BigEndian

var (
	ErrMsgTooLarge = errors.New("msg length exceeds MAX_MSG_LENGTH")
	ErrBadChecksum = errors.New("msg crc32 mismatch")
	ErrShortMsg    = errors.New("msg shorter than declared length")
)

// 传输层添加的包头
type Head struct {
	ID      MSGID
	Length  uint32
	Crc32   uint32
	Encrypt uint32
}

func (h *Head) Load(data []byte) {
	h.ID = MSGID(DefaultByteOrder.Uint32(data[0:4]))
	h.Length = DefaultByteOrder.Uint32(data[4:8])
	h.Crc32 = DefaultByteOrder.Uint32(data[8:12])
	h.Encrypt = DefaultByteOrder.Uint32(data[12:16])
}

func (h *Head) Save() []byte {
	data := make([]byte, HeadSize)
	DefaultByteOrder.PutUint32(data[0:4], uint32(h.ID))
	DefaultByteOrder.PutUint32(data[4:8], h.Length)
	DefaultByteOrder.PutUint32(data[8:12], h.Crc32)
	DefaultByteOrder.PutUint32(data[12:16], h.Encrypt)
	return data
}

type Msg struct {
	Head
	Data []byte
}

// Load decodes a complete frame (header and body).
func (m *Msg) Load(data []byte) error {
	if uint32(len(data)) < HeadSize {
		return ErrShortMsg
	}
	m.Head.Load(data[:HeadSize])
	if m.Length > MAX_MSG_LENGTH {
		return ErrMsgTooLarge
	}
	if m.Length+HeadSize != uint32(len(data)) {
		return errors.Wrapf(ErrShortMsg, "declared %d got %d", m.Length, len(data)-int(HeadSize))
	}
	m.Data = data[HeadSize:]
	if crc32.ChecksumIEEE(m.Data) != m.Crc32 {
		return ErrBadChecksum
	}
	return nil
}

// Save encodes the frame with Length and Crc32 computed from Data. m is not
// modified, so one Msg may be written to several connections at once.
func (m *Msg) Save() []byte {
	h := m.Head
	h.Length = uint32(len(m.Data))
	h.Crc32 = crc32.ChecksumIEEE(m.Data)
	data := make([]byte, h.Length+HeadSize)
	copy(data[:HeadSize], h.Save())
	copy(data[HeadSize:], m.Data)
	return data
}

// Decode unmarshals the JSON body into v.
func (m *Msg) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.Wrapf(err, "decode %v", m.ID)
	}
	return nil
}

// ReadMsg reads one frame from r.
func ReadMsg(r io.Reader) (*Msg, error) {
	headBytes := make([]byte, HeadSize)
	if _, err := io.ReadFull(r, headBytes); err != nil {
		return nil, err
	}

	m := &Msg{}
	m.Head.Load(headBytes)
	if m.Length > MAX_MSG_LENGTH {
		return nil, errors.Wrapf(ErrMsgTooLarge, "%v declared %d bytes", m.ID, m.Length)
	}

	m.Data = make([]byte, m.Length)
	if m.Length > 0 {
		if _, err := io.ReadFull(r, m.Data); err != nil {
			return nil, err
		}
	}

	if crc32.ChecksumIEEE(m.Data) != m.Crc32 {
		return nil, errors.Wrapf(ErrBadChecksum, "%v", m.ID)
	}
	return m, nil
}

// NewMsg builds a frame whose body is Encode(i).
func NewMsg(msgID MSGID, i interface{}) (*Msg, error) {
	data, err := Encode(i)
	if err != nil {
		return nil, err
	}
	if len(data) > MAX_MSG_LENGTH {
		return nil, errors.Wrapf(ErrMsgTooLarge, "%v body %d bytes", msgID, len(data))
	}
	return &Msg{
		Head: Head{ID: msgID},
		Data: data,
	}, nil
}

// Encode turns a payload into bytes: []byte and string are sent as is,
// nil as an empty body, anything else as JSON.
func Encode(i interface{}) ([]byte, error) {
	switch v := i.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return v, nil
	case *[]byte:
		return *v, nil
	case string:
		return []byte(v), nil
	case *string:
		return []byte(*v), nil
	default:
		data, err := json.Marshal(i)
		if err != nil {
			return nil, errors.Wrap(err, "json.Marshal")
		}
		return data, nil
	}
}
