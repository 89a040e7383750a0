package server

import (
	"bytes"
	"testing"

	"github.com/lguibr/lockstep/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessages_Single(t *testing.T) {
	msgs, err := ParseClientMessages([]byte(`{"k":"l","u":"alice","p":"pw","n":"room"}`))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "l", msgs[0].K)
	assert.Equal(t, "alice", msgs[0].U)
	assert.Equal(t, "room", msgs[0].N)
}

func TestParseClientMessages_Array(t *testing.T) {
	msgs, err := ParseClientMessages([]byte(`[{"k":"f","f":20,"i":"r"},{"k":"o","f":20,"s":1,"o":"fire"}]`))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "f", msgs[0].K)
	assert.Equal(t, "o", msgs[1].K)
}

func TestParseClientMessages_Rejects(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"empty", []byte("")},
		{"whitespace", []byte("   ")},
		{"malformed", []byte(`{"k":`)},
		{"missing kind", []byte(`{"u":"alice"}`)},
		{"malformed batch", []byte(`[{"k":"f"},`)},
		{"bad element", []byte(`[{"k":"f"},{"u":"no kind"}]`)},
		{"oversized", bytes.Repeat([]byte("x"), utils.MaxMessageBytes+1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseClientMessages(tc.data)
			assert.Error(t, err)
		})
	}
}

func TestClientMessage_FrameNumber(t *testing.T) {
	msgs, err := ParseClientMessages([]byte(`{"k":"f","f":20,"i":"r"}`))
	require.NoError(t, err)
	frame, err := msgs[0].FrameNumber()
	require.NoError(t, err)
	assert.Equal(t, int64(20), frame)
}

func TestClientMessage_FrameMustBeInteger(t *testing.T) {
	msgs, err := ParseClientMessages([]byte(`{"k":"f","f":20.5,"i":"r"}`))
	require.NoError(t, err)
	_, err = msgs[0].FrameNumber()
	assert.Error(t, err)

	msgs, err = ParseClientMessages([]byte(`{"k":"f","i":"r"}`))
	require.NoError(t, err)
	_, err = msgs[0].FrameNumber()
	assert.Error(t, err, "a missing frame field is an error")
}

func TestClientMessage_SerialNumber(t *testing.T) {
	msgs, err := ParseClientMessages([]byte(`{"k":"o","f":20,"s":3,"o":"fire","a":"x"}`))
	require.NoError(t, err)
	serial, err := msgs[0].SerialNumber()
	require.NoError(t, err)
	assert.Equal(t, int64(3), serial)
	assert.Equal(t, "fire", msgs[0].O)
	assert.Equal(t, "x", msgs[0].A)

	msgs, err = ParseClientMessages([]byte(`{"k":"o","f":20,"s":1.2,"o":"fire"}`))
	require.NoError(t, err)
	_, err = msgs[0].SerialNumber()
	assert.Error(t, err)
}
