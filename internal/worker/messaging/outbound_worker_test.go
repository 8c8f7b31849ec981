package messagingworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/internal/messaging"
	"github.com/wolfman30/missedcall-booking/internal/observability/metrics"
)

type fakeQueue struct {
	mu         sync.Mutex
	batches    [][]messaging.QueueMessage
	receiveErr error
	deleted    []string
}

func (f *fakeQueue) Receive(ctx context.Context, maxMessages, waitSeconds int) ([]messaging.QueueMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return next, nil
}

func (f *fakeQueue) Delete(ctx context.Context, receiptHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

func (f *fakeQueue) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeMessenger struct {
	mu      sync.Mutex
	replies []conversation.OutboundReply
	err     error
}

func (f *fakeMessenger) SendReply(ctx context.Context, reply conversation.OutboundReply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, reply)
	return f.err
}

func encodeReply(t *testing.T, reply conversation.OutboundReply) string {
	t.Helper()
	body, err := json.Marshal(reply)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(body)
}

func TestOutboundWorkerSendsAndDeletes(t *testing.T) {
	reply := conversation.OutboundReply{TenantID: "clinic-a", To: "+15550002001", From: "+15550001000", Body: "Reply 1 to book"}
	queue := &fakeQueue{batches: [][]messaging.QueueMessage{{{ID: "m1", Body: encodeReply(t, reply), ReceiptHandle: "r1"}}}}
	messenger := &fakeMessenger{}
	reg := prometheus.NewRegistry()
	worker := NewOutboundWorker(queue, messenger, nil).WithMetrics(metrics.NewMessagingMetrics(reg))

	if err := worker.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if len(messenger.replies) != 1 || messenger.replies[0].Body != reply.Body {
		t.Fatalf("expected reply to be sent, got %+v", messenger.replies)
	}
	if got := queue.deletedHandles(); len(got) != 1 || got[0] != "r1" {
		t.Fatalf("expected r1 deleted, got %v", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var sent float64
	for _, mf := range families {
		if mf.GetName() != "missedcall_messaging_outbound_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "status" && lp.GetValue() == "sent" {
					sent += m.GetCounter().GetValue()
				}
			}
		}
	}
	if sent != 1 {
		t.Fatalf("expected one sent observation, got %v", sent)
	}
}

func TestOutboundWorkerKeepsMessageOnSendFailure(t *testing.T) {
	reply := conversation.OutboundReply{To: "+15550002001", Body: "hi"}
	queue := &fakeQueue{batches: [][]messaging.QueueMessage{{{ID: "m1", Body: encodeReply(t, reply), ReceiptHandle: "r1"}}}}
	messenger := &fakeMessenger{err: errors.New("provider down")}
	worker := NewOutboundWorker(queue, messenger, nil)

	if err := worker.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := queue.deletedHandles(); len(got) != 0 {
		t.Fatalf("expected message left for redelivery, deleted %v", got)
	}
}

func TestOutboundWorkerDropsUndeliverableRecipients(t *testing.T) {
	reply := conversation.OutboundReply{To: "+15550002001", Body: "hi"}
	queue := &fakeQueue{batches: [][]messaging.QueueMessage{{{ID: "m1", Body: encodeReply(t, reply), ReceiptHandle: "r1"}}}}
	messenger := &fakeMessenger{err: fmt.Errorf("twilio: %w", messaging.ErrUndeliverable)}
	worker := NewOutboundWorker(queue, messenger, nil)

	if err := worker.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := queue.deletedHandles(); len(got) != 1 || got[0] != "r1" {
		t.Fatalf("expected undeliverable message deleted, got %v", got)
	}
}

func TestOutboundWorkerDropsMalformedMessages(t *testing.T) {
	queue := &fakeQueue{batches: [][]messaging.QueueMessage{{
		{ID: "bad-json", Body: "{not json", ReceiptHandle: "r1"},
		{ID: "no-body", Body: `{"to":"+15550002001"}`, ReceiptHandle: "r2"},
	}}}
	messenger := &fakeMessenger{}
	worker := NewOutboundWorker(queue, messenger, nil)

	if err := worker.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(messenger.replies) != 0 {
		t.Fatalf("malformed messages must not be sent")
	}
	if got := queue.deletedHandles(); len(got) != 2 {
		t.Fatalf("expected both malformed messages deleted, got %v", got)
	}
}

func TestOutboundWorkerReceiveError(t *testing.T) {
	queue := &fakeQueue{receiveErr: errors.New("sqs unavailable")}
	worker := NewOutboundWorker(queue, &fakeMessenger{}, nil)

	if err := worker.drain(context.Background()); err == nil {
		t.Fatal("expected receive error")
	}
}

func TestOutboundWorkerRunStopsOnCancel(t *testing.T) {
	reply := conversation.OutboundReply{To: "+15550002001", Body: "hi"}
	queue := &fakeQueue{batches: [][]messaging.QueueMessage{{{ID: "m1", Body: encodeReply(t, reply), ReceiptHandle: "r1"}}}}
	worker := NewOutboundWorker(queue, &fakeMessenger{}, nil).WithWorkers(3).WithErrorDelay(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for len(queue.deletedHandles()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	if got := queue.deletedHandles(); len(got) != 1 {
		t.Fatalf("expected message processed once, got %v", got)
	}
}

func TestNewOutboundWorkerPanicsWithoutDeps(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewOutboundWorker(nil, &fakeMessenger{}, nil)
}
