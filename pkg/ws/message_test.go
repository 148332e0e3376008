package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/relay/pkg/errors"
)

func TestDecodeProtocolErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		detail string
	}{
		{name: "invalid json", input: `{"type":`},
		{name: "not an object", input: `[1,2]`},
		{name: "missing type", input: `{"roomId":"abc"}`, detail: "missing type"},
		{name: "non-string type", input: `{"type":5}`},
		{name: "bad to", input: `{"type":"chat-message","message":"hi","to":5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Decode([]byte(tt.input))
			assert.Nil(t, frame)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProtocol)

			var e *errors.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, 2001, e.Code)
			if tt.detail != "" {
				assert.Equal(t, tt.detail, e.Detail())
			}
		})
	}
}

func TestDecodeVariants(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"create-room","roomId":"standup"}`))
	require.NoError(t, err)
	assert.Equal(t, CreateRoomFrame{RoomID: "standup"}, frame)

	frame, err = Decode([]byte(`{"type":"leave-room"}`))
	require.NoError(t, err)
	assert.Equal(t, LeaveRoomFrame{}, frame)

	frame, err = Decode([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, TypePing, frame.FrameType())

	frame, err = Decode([]byte(`{"type":"register","id":"alice"}`))
	require.NoError(t, err)
	assert.Equal(t, RegisterFrame{ID: "alice"}, frame)

	frame, err = Decode([]byte(`{"type":"bogus","x":1}`))
	require.NoError(t, err)
	assert.Equal(t, UnknownFrame{Kind: "bogus"}, frame)
	assert.Equal(t, "bogus", frame.FrameType())
}

func TestDecodeJoinRoomID(t *testing.T) {
	tests := []struct {
		input string
		id    string
		ok    bool
	}{
		{input: `{"type":"join-room","roomId":"abc"}`, id: "abc", ok: true},
		{input: `{"type":"join-room","roomId":"  "}`, ok: false},
		{input: `{"type":"join-room","roomId":""}`, ok: false},
		{input: `{"type":"join-room","roomId":42}`, ok: false},
		{input: `{"type":"join-room","roomId":null}`, ok: false},
		{input: `{"type":"join-room"}`, ok: false},
	}

	for _, tt := range tests {
		frame, err := Decode([]byte(tt.input))
		require.NoError(t, err, tt.input)
		join, ok := frame.(JoinRoomFrame)
		require.True(t, ok)

		id, valid := join.RoomIDString()
		assert.Equal(t, tt.ok, valid, tt.input)
		if tt.ok {
			assert.Equal(t, tt.id, id)
		}
	}

	frame, err := Decode([]byte(`{"type":"join-room","roomId":"r","userData":{"userId":"u1","userName":"Alice"}}`))
	require.NoError(t, err)
	join := frame.(JoinRoomFrame)
	require.NotNil(t, join.UserData)
	assert.Equal(t, UserDataInput{UserID: "u1", UserName: "Alice"}, *join.UserData)
}

func TestDecodePresenceLeniently(t *testing.T) {
	tests := []struct {
		name string
		data string
		want UserDataInput
	}{
		{name: "strings", data: `{"userId":"u1","userName":"Alice"}`, want: UserDataInput{UserID: "u1", UserName: "Alice"}},
		{name: "numeric id", data: `{"userId":42,"userName":"Alice"}`, want: UserDataInput{UserID: "42", UserName: "Alice"}},
		{name: "zero and false", data: `{"userId":0,"userName":false}`},
		{name: "nested values", data: `{"userId":{"a":1},"userName":["x"]}`},
		{name: "not an object", data: `"alice"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Decode([]byte(`{"type":"join-room","roomId":"r1","userData":` + tt.data + `}`))
			require.NoError(t, err)
			join := frame.(JoinRoomFrame)
			require.NotNil(t, join.UserData)
			assert.Equal(t, tt.want, *join.UserData)
		})
	}

	frame, err := Decode([]byte(`{"type":"user-update","userId":7,"userName":null}`))
	require.NoError(t, err)
	u := frame.(UserUpdateFrame)
	require.NotNil(t, u.UserID)
	assert.Equal(t, "7", *u.UserID)
	assert.Nil(t, u.UserName)
}

func TestDecodeSignalKeepsPayload(t *testing.T) {
	input := `{"type":"offer","target":"b","sdp":{"type":"offer","sdp":"v=0"}}`
	frame, err := Decode([]byte(input))
	require.NoError(t, err)

	sig, ok := frame.(SignalFrame)
	require.True(t, ok)
	assert.Equal(t, TypeOffer, sig.FrameType())
	assert.Equal(t, "b", sig.Target)
	assert.JSONEq(t, input, string(sig.Raw))

	frame, err = Decode([]byte(`{"type":"ice-candidate","target":7}`))
	require.NoError(t, err)
	assert.Equal(t, "", frame.(SignalFrame).Target)
}

func TestDecodeChatRecipients(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"chat-message","message":{"text":"hi"}}`))
	require.NoError(t, err)
	chat := frame.(ChatFrame)
	assert.Empty(t, chat.To)
	assert.JSONEq(t, `{"text":"hi"}`, string(chat.Message))

	frame, err = Decode([]byte(`{"type":"chat-message","message":"hi","to":"alice"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, frame.(ChatFrame).To)

	frame, err = Decode([]byte(`{"type":"chat-message","message":"hi","to":["alice","bob"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, frame.(ChatFrame).To)

	frame, err = Decode([]byte(`{"type":"chat-message"}`))
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), frame.(ChatFrame).Message)
}

func TestDecodeUserUpdate(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"user-update","userName":"Bob"}`))
	require.NoError(t, err)

	u := frame.(UserUpdateFrame)
	assert.Nil(t, u.UserID)
	require.NotNil(t, u.UserName)
	assert.Equal(t, "Bob", *u.UserName)
	assert.JSONEq(t, `{"type":"user-update","userName":"Bob"}`, string(u.Raw))
}

func TestErrorFrameEncoding(t *testing.T) {
	data, err := json.Marshal(ErrorFrame{Type: TypeError, Message: "Unknown message type: bogus", Kind: "bogus"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"Unknown message type: bogus","receivedType":"bogus"}`, string(data))
}
