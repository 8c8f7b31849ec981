package messagingworker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/internal/messaging"
	"github.com/wolfman30/missedcall-booking/internal/observability/metrics"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

type outboundQueue interface {
	Receive(ctx context.Context, maxMessages, waitSeconds int) ([]messaging.QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// OutboundWorker drains queued caller replies and hands them to the SMS provider.
// A failed send leaves the message on the queue so it is redelivered after the
// visibility timeout.
type OutboundWorker struct {
	queue       outboundQueue
	messenger   conversation.ReplyMessenger
	metrics     *metrics.MessagingMetrics
	logger      *logging.Logger
	workers     int
	batchSize   int
	waitSeconds int
	errorDelay  time.Duration
}

func NewOutboundWorker(queue outboundQueue, messenger conversation.ReplyMessenger, logger *logging.Logger) *OutboundWorker {
	if queue == nil {
		panic("messagingworker: queue required")
	}
	if messenger == nil {
		panic("messagingworker: messenger required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &OutboundWorker{
		queue:       queue,
		messenger:   messenger,
		logger:      logger.WithComponent("outbound-worker"),
		workers:     2,
		batchSize:   10,
		waitSeconds: 20,
		errorDelay:  5 * time.Second,
	}
}

func (w *OutboundWorker) WithWorkers(n int) *OutboundWorker {
	if n > 0 {
		w.workers = n
	}
	return w
}

func (w *OutboundWorker) WithBatchSize(n int) *OutboundWorker {
	if n > 0 && n <= 10 {
		w.batchSize = n
	}
	return w
}

func (w *OutboundWorker) WithWaitSeconds(n int) *OutboundWorker {
	if n >= 0 && n <= 20 {
		w.waitSeconds = n
	}
	return w
}

func (w *OutboundWorker) WithErrorDelay(d time.Duration) *OutboundWorker {
	if d > 0 {
		w.errorDelay = d
	}
	return w
}

func (w *OutboundWorker) WithMetrics(m *metrics.MessagingMetrics) *OutboundWorker {
	w.metrics = m
	return w
}

// Run blocks until ctx is cancelled and every poller has returned.
func (w *OutboundWorker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.poll(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (w *OutboundWorker) poll(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.drain(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("outbound receive failed", "error", err, "poller", id)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.errorDelay):
			}
		}
	}
}

// drain handles one receive batch.
func (w *OutboundWorker) drain(ctx context.Context) error {
	msgs, err := w.queue.Receive(ctx, w.batchSize, w.waitSeconds)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		w.handle(ctx, msg)
	}
	return nil
}

func (w *OutboundWorker) handle(ctx context.Context, msg messaging.QueueMessage) {
	var reply conversation.OutboundReply
	if err := json.Unmarshal([]byte(msg.Body), &reply); err != nil || strings.TrimSpace(reply.To) == "" || strings.TrimSpace(reply.Body) == "" {
		// Undeliverable; redelivery would not help.
		w.logger.Error("dropping malformed outbound message", "message_id", msg.ID, "error", err)
		w.metrics.ObserveOutbound("dropped", false)
		w.delete(ctx, msg)
		return
	}

	if err := w.messenger.SendReply(ctx, reply); err != nil {
		if errors.Is(err, messaging.ErrUndeliverable) {
			w.logger.Warn("dropping undeliverable outbound message", "error", err, "message_id", msg.ID,
				"tenant_id", reply.TenantID, "conversation_id", reply.ConversationID)
			w.metrics.ObserveOutbound("undeliverable", false)
			w.delete(ctx, msg)
			return
		}
		w.metrics.ObserveOutbound("error", false)
		w.logger.Error("outbound send failed", "error", err, "message_id", msg.ID,
			"tenant_id", reply.TenantID, "conversation_id", reply.ConversationID)
		return
	}
	w.metrics.ObserveOutbound("sent", false)
	w.delete(ctx, msg)
}

func (w *OutboundWorker) delete(ctx context.Context, msg messaging.QueueMessage) {
	if err := w.queue.Delete(context.WithoutCancel(ctx), msg.ReceiptHandle); err != nil {
		w.logger.Error("failed to delete outbound message", "error", err, "message_id", msg.ID)
	}
}
