package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestMemory_DirectRouting(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	require.NoError(t, m.DeclareQueue("requests", "q1", "microservice_1"))
	require.NoError(t, m.DeclareQueue("requests", "q2", "microservice_2"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c1, err := m.Consume(ctx, "q1")
	require.NoError(t, err)
	c2, err := m.Consume(ctx, "q2")
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, "requests", "microservice_1", []byte("one")))
	require.NoError(t, m.Publish(ctx, "requests", "microservice_2", []byte("two")))
	require.NoError(t, m.Publish(ctx, "requests", "microservice_9", []byte("nowhere")))

	assert.Equal(t, "one", string(receive(t, c1).Body()))
	assert.Equal(t, "two", string(receive(t, c2).Body()))
	assert.Equal(t, 0, m.QueueLen("q1"))
}

func TestMemory_NackRequeue(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	require.NoError(t, m.DeclareQueue("responses", "replies", "validador"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := m.Consume(ctx, "replies")
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, "responses", "validador", []byte("x")))
	d := receive(t, c)
	require.NoError(t, d.Nack(true))

	again := receive(t, c)
	assert.Equal(t, "x", string(again.Body()))
	require.NoError(t, again.Nack(false))

	select {
	case <-c:
		t.Fatal("message without requeue was redelivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemory_UndeclaredExchange(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	assert.Error(t, m.Publish(context.Background(), "missing", "k", nil))

	_, err := m.Consume(context.Background(), "missing")
	assert.Error(t, err)
}

func TestMemory_CloseEndsConsumers(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.DeclareQueue("e", "q", "k"))
	c, err := m.Consume(context.Background(), "q")
	require.NoError(t, err)

	require.NoError(t, m.Close())
	select {
	case _, ok := <-c:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer channel not closed")
	}
	assert.ErrorIs(t, m.Publish(context.Background(), "e", "k", nil), ErrClosed)
}

func TestMemory_CompetingConsumers(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	require.NoError(t, m.DeclareQueue("e", "q", "k"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := m.Consume(ctx, "q")
	require.NoError(t, err)
	b, err := m.Consume(ctx, "q")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Publish(ctx, "e", "k", []byte{byte(i)}))
	}

	got := 0
	timeout := time.After(time.Second)
	for got < 10 {
		select {
		case <-a:
			got++
		case <-b:
			got++
		case <-timeout:
			t.Fatalf("received %d of 10", got)
		}
	}
}
