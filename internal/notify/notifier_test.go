package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSender struct {
	name string
	err  error
	got  []string
}

func (m *memSender) Send(ctx context.Context, text string) error {
	m.got = append(m.got, text)
	return m.err
}

func (m *memSender) Name() string { return m.name }

func TestNotifier_FanOut(t *testing.T) {
	a := &memSender{name: "a"}
	b := &memSender{name: "b"}
	n := NewNotifier(nil, a)
	n.Add(b)

	require.NoError(t, n.Send(context.Background(), "Generated signal: buy, Current price: 100.0"))
	assert.Equal(t, []string{"Generated signal: buy, Current price: 100.0"}, a.got)
	assert.Equal(t, a.got, b.got)
}

func TestNotifier_FailureDoesNotBlockOthers(t *testing.T) {
	bad := &memSender{name: "telegram", err: errors.New("timeout")}
	good := &memSender{name: "websocket"}
	n := NewNotifier(nil, bad, good)

	err := n.Send(context.Background(), "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram: timeout")
	assert.Equal(t, []string{"msg"}, good.got)
}

func TestNotifier_Empty(t *testing.T) {
	var n *Notifier
	assert.NoError(t, n.Send(context.Background(), "x"))
	assert.NoError(t, NewNotifier(nil).Send(context.Background(), "x"))
	assert.NoError(t, NewNotifier(nil, NewLogSender(nil)).Send(context.Background(), "x"))
}
