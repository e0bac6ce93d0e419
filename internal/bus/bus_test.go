package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDispatchOutbound_DeliversInOrder(t *testing.T) {
	b := NewMessageBus(10)

	var got []OutboundMessage
	done := make(chan struct{})
	b.SetSender(func(msg OutboundMessage) error {
		got = append(got, msg)
		if len(got) == 2 {
			close(done)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{ChatID: "42", Content: "first"}
	b.Outbound <- OutboundMessage{ChatID: "42", Content: "second"}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("messages never delivered")
	}
	if got[0].Content != "first" || got[1].Content != "second" {
		t.Errorf("order wrong: %+v", got)
	}
}

func TestDispatchOutbound_SenderErrorLoggedNotFatal(t *testing.T) {
	b := NewMessageBus(10)

	calls := make(chan struct{}, 2)
	b.SetSender(func(msg OutboundMessage) error {
		calls <- struct{}{}
		return errors.New("send failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{ChatID: "42", Content: "a"}
	b.Outbound <- OutboundMessage{ChatID: "42", Content: "b"}

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatal("dispatch stopped after a sender error")
		}
	}
}

func TestNewMessageBus_DefaultBuffer(t *testing.T) {
	b := NewMessageBus(0)
	if cap(b.Inbound) != 100 || cap(b.Outbound) != 100 {
		t.Errorf("buffers = %d/%d, want 100", cap(b.Inbound), cap(b.Outbound))
	}
}
