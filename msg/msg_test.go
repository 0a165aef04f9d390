package msg

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMsg_saveAndRead(t *testing.T) {
	m, err := NewMsg(MSG_PUB, &MsgPub{Sub: "haorena", Dest: DestServers, To: []string{"lobby"}, Data: []byte("hi")})
	require.NoError(t, err)

	got, err := ReadMsg(bytes.NewReader(m.Save()))
	require.NoError(t, err)
	assert.Equal(t, MSG_PUB, got.ID)

	pub := &MsgPub{}
	require.NoError(t, got.Decode(pub))
	assert.Equal(t, "haorena", pub.Sub)
	assert.Equal(t, []string{"lobby"}, pub.To)
	assert.Equal(t, []byte("hi"), pub.Data)
}

func TestMsg_emptyBody(t *testing.T) {
	m, err := NewMsg(MSG_PING, nil)
	require.NoError(t, err)
	data := m.Save()
	assert.Len(t, data, int(HeadSize))

	got, err := ReadMsg(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, MSG_PING, got.ID)
	assert.Empty(t, got.Data)
}

func TestMsg_badChecksum(t *testing.T) {
	m, err := NewMsg(MSG_PUB, "payload")
	require.NoError(t, err)
	data := m.Save()
	data[len(data)-1] ^= 0xff

	_, err = ReadMsg(bytes.NewReader(data))
	assert.True(t, errors.Is(err, ErrBadChecksum))

	assert.ErrorIs(t, (&Msg{}).Load(data), ErrBadChecksum)
}

func TestMsg_tooLarge(t *testing.T) {
	h := Head{ID: MSG_PUB, Length: MAX_MSG_LENGTH + 1}
	_, err := ReadMsg(bytes.NewReader(h.Save()))
	assert.ErrorIs(t, err, ErrMsgTooLarge)

	_, err = NewMsg(MSG_PUB, make([]byte, MAX_MSG_LENGTH+1))
	assert.ErrorIs(t, err, ErrMsgTooLarge)
}

func TestMsg_truncated(t *testing.T) {
	m, err := NewMsg(MSG_PUB, "payload")
	require.NoError(t, err)
	data := m.Save()

	_, err = ReadMsg(bytes.NewReader(data[:len(data)-2]))
	assert.Error(t, err)
	assert.ErrorIs(t, (&Msg{}).Load(data[:len(data)-2]), ErrShortMsg)
}

func TestEncode(t *testing.T) {
	b, err := Encode("abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), b)

	b, err = Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, b)

	b, err = Encode(MsgRunCmd{Commands: []string{"say hi"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"commands":["say hi"]}`, string(b))
}

func TestIsAllServers(t *testing.T) {
	assert.True(t, IsAllServers([]string{"lobby", "all"}))
	assert.False(t, IsAllServers([]string{"lobby"}))
	assert.False(t, IsAllServers(nil))
}

func TestMsg_frameProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := MSGID(rapid.Int32Range(int32(MSG_START), int32(MSG_PLAYERUPDATE)).Draw(t, "id"))
		body := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(t, "body")

		m := &Msg{Head: Head{ID: id}, Data: body}
		got, err := ReadMsg(bytes.NewReader(m.Save()))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.ID != id || !bytes.Equal(got.Data, body) {
			t.Fatalf("frame mismatch: %v/%d bytes", got.ID, len(got.Data))
		}
	})
}
