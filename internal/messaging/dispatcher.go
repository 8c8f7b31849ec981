package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/internal/observability/metrics"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

// Dispatcher hands a reply off for delivery. Dispatch never blocks on the
// provider and failures are only logged; conversation state is not unwound.
type Dispatcher interface {
	Dispatch(ctx context.Context, reply conversation.OutboundReply)
}

const defaultSendTimeout = 15 * time.Second

// AsyncDispatcher sends each reply on its own goroutine.
type AsyncDispatcher struct {
	messenger conversation.ReplyMessenger
	timeout   time.Duration
	metrics   *metrics.MessagingMetrics
	logger    *logging.Logger
	wg        sync.WaitGroup
}

func NewAsyncDispatcher(messenger conversation.ReplyMessenger, timeout time.Duration, m *metrics.MessagingMetrics, logger *logging.Logger) *AsyncDispatcher {
	if messenger == nil {
		panic("messaging: messenger required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &AsyncDispatcher{messenger: messenger, timeout: timeout, metrics: m, logger: logger}
}

func (d *AsyncDispatcher) Dispatch(ctx context.Context, reply conversation.OutboundReply) {
	// The webhook request ends before the send completes.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		if err := d.messenger.SendReply(sendCtx, reply); err != nil {
			d.metrics.ObserveOutbound("error", false)
			d.logger.Error("failed to send reply", "error", err, "tenant_id", reply.TenantID, "conversation_id", reply.ConversationID)
			return
		}
		d.metrics.ObserveOutbound("sent", false)
	}()
}

// Wait blocks until in-flight sends finish.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

// QueueSender enqueues a serialized reply.
type QueueSender interface {
	Send(ctx context.Context, body string) error
}

// QueueDispatcher puts replies on a queue for the outbound worker.
type QueueDispatcher struct {
	queue   QueueSender
	metrics *metrics.MessagingMetrics
	logger  *logging.Logger
}

func NewQueueDispatcher(queue QueueSender, m *metrics.MessagingMetrics, logger *logging.Logger) *QueueDispatcher {
	if queue == nil {
		panic("messaging: queue required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &QueueDispatcher{queue: queue, metrics: m, logger: logger}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, reply conversation.OutboundReply) {
	body, err := json.Marshal(reply)
	if err != nil {
		d.metrics.ObserveOutbound("error", false)
		d.logger.Error("failed to encode reply", "error", err, "tenant_id", reply.TenantID)
		return
	}
	if err := d.queue.Send(context.WithoutCancel(ctx), string(body)); err != nil {
		d.metrics.ObserveOutbound("error", false)
		d.logger.Error("failed to enqueue reply", "error", err, "tenant_id", reply.TenantID, "conversation_id", reply.ConversationID)
		return
	}
	d.metrics.ObserveOutbound("queued", false)
}
