package httpuv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentFrame struct {
	opcode  Opcode
	fin     bool
	payload []byte
}

func newTestSocket() (*wsSocket, *[]sentFrame) {
	var sent []sentFrame
	s := newWSSocket(func(opcode Opcode, fin bool, payload []byte) error {
		sent = append(sent, sentFrame{opcode, fin, append([]byte{}, payload...)})
		return nil
	})
	return s, &sent
}

func TestWSSocketUnfragmentedMessage(t *testing.T) {
	s, _ := newTestSocket()
	var gotBinary bool
	var gotData []byte
	s.onMessage = func(binary bool, data []byte) {
		gotBinary = binary
		gotData = data
	}

	key := [4]byte{1, 2, 3, 4}
	frame := maskedFrame(OpText, true, key, []byte("hello"))
	s.Feed(frame)

	assert.False(t, gotBinary)
	assert.Equal(t, "hello", string(gotData))
}

func TestWSSocketFragmentedMessageReassembly(t *testing.T) {
	s, _ := newTestSocket()
	var gotData []byte
	msgCount := 0
	s.onMessage = func(binary bool, data []byte) {
		gotData = data
		msgCount++
	}

	key := [4]byte{9, 8, 7, 6}
	f1 := maskedFrame(OpText, false, key, []byte("hel"))
	f2 := maskedFrame(OpContinuation, false, key, []byte("lo "))
	f3 := maskedFrame(OpContinuation, true, key, []byte("world"))

	s.Feed(f1)
	s.Feed(f2)
	s.Feed(f3)

	require.Equal(t, 1, msgCount)
	assert.Equal(t, "hello world", string(gotData))
}

func TestWSSocketPingInterleavedWithFragments(t *testing.T) {
	s, sent := newTestSocket()
	var gotData []byte
	s.onMessage = func(binary bool, data []byte) { gotData = data }

	key := [4]byte{1, 1, 1, 1}
	f1 := maskedFrame(OpText, false, key, []byte("part1"))
	ping := maskedFrame(OpPing, true, key, []byte("ping-payload"))
	f2 := maskedFrame(OpContinuation, true, key, []byte("part2"))

	s.Feed(f1)
	s.Feed(ping)
	s.Feed(f2)

	assert.Equal(t, "part1part2", string(gotData))
	require.Len(t, *sent, 1)
	assert.Equal(t, OpPong, (*sent)[0].opcode)
	assert.Equal(t, "ping-payload", string((*sent)[0].payload))
}

func TestWSSocketCloseEchoesAndFiresOnClose(t *testing.T) {
	s, sent := newTestSocket()
	closed := false
	s.onClose = func() { closed = true }

	key := [4]byte{2, 2, 2, 2}
	payload := closeStatusPayload(closeStatusNormal)
	frame := maskedFrame(OpClose, true, key, payload)
	s.Feed(frame)

	assert.True(t, closed)
	require.Len(t, *sent, 1)
	assert.Equal(t, OpClose, (*sent)[0].opcode)
	assert.Equal(t, wsClosed, s.state)
}

func TestWSSocketRejectsContinuationWithoutStart(t *testing.T) {
	s, sent := newTestSocket()
	var gotErr error
	s.onError = func(err error) { gotErr = err }

	key := [4]byte{3, 3, 3, 3}
	frame := maskedFrame(OpContinuation, true, key, []byte("oops"))
	s.Feed(frame)

	assert.Error(t, gotErr)
	require.Len(t, *sent, 1)
	assert.Equal(t, OpClose, (*sent)[0].opcode)
	assert.Equal(t, closeStatusProtocolErr, int((*sent)[0].payload[0])<<8|int((*sent)[0].payload[1]))
	assert.Equal(t, wsCloseSent, s.state&wsCloseSent)
}

func TestWSSocketOversizedMessageSendsTooBigClose(t *testing.T) {
	s, sent := newTestSocket()
	var gotErr error
	s.onError = func(err error) { gotErr = err }

	key := [4]byte{4, 4, 4, 4}
	huge := make([]byte, maxMessageBytes+1)
	f1 := maskedFrame(OpBinary, false, key, huge[:len(huge)/2])
	f2 := maskedFrame(OpContinuation, true, key, huge[len(huge)/2:])
	s.Feed(f1)
	s.Feed(f2)

	require.ErrorIs(t, gotErr, errMessageTooBig)
	require.Len(t, *sent, 1)
	assert.Equal(t, OpClose, (*sent)[0].opcode)
	assert.Equal(t, closeStatusMessageTooBig, int((*sent)[0].payload[0])<<8|int((*sent)[0].payload[1]))
}
