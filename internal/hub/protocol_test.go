package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrameAppendsSeparator(t *testing.T) {
	frame, err := EncodeFrame(DefaultHandshake)
	require.NoError(t, err)
	assert.Equal(t, `{"protocol":"json","version":1}`+"\x1e", string(frame))
}

func TestSplitFrames(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"single", "{}\x1e", []string{"{}"}},
		{"several", `{"type":6}` + "\x1e" + `{"type":6}` + "\x1e", []string{`{"type":6}`, `{"type":6}`}},
		{"missing trailing separator", `{"type":6}`, []string{`{"type":6}`}},
		{"empty", "\x1e\x1e", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, f := range SplitFrames([]byte(tt.in)) {
				got = append(got, string(f))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewInvocation(t *testing.T) {
	msg, err := NewInvocation("7", MethodSubscribeToExam, "exam-1")
	require.NoError(t, err)

	frame, err := EncodeFrame(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":1,"invocationId":"7","target":"SubscribeToExam","arguments":["exam-1"]}`,
		string(frame[:len(frame)-1]))

	_, err = NewInvocation("8", "Bad", make(chan int))
	assert.Error(t, err)
}

func TestPayloadDefaultsToNull(t *testing.T) {
	assert.Equal(t, "null", string(Message{Type: MsgInvocation}.Payload()))
}

func TestInvocationWithoutArgumentsKeepsArray(t *testing.T) {
	msg, err := NewInvocation("1", MethodSubscribeToManagers)
	require.NoError(t, err)
	frame, err := EncodeFrame(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":1,"invocationId":"1","target":"SubscribeToManagerNotifications","arguments":[]}`,
		string(frame[:len(frame)-1]))

	ping, err := EncodeFrame(Message{Type: MsgPing})
	require.NoError(t, err)
	assert.Equal(t, `{"type":6}`+"\x1e", string(ping))
}
