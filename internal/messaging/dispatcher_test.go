package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/internal/observability/metrics"
)

type blockingMessenger struct {
	deadline chan time.Time
	err      error
}

func (b *blockingMessenger) SendReply(ctx context.Context, _ conversation.OutboundReply) error {
	dl, _ := ctx.Deadline()
	b.deadline <- dl
	return b.err
}

func outboundCount(t *testing.T, reg *prometheus.Registry, status string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "missedcall_messaging_outbound_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue(m, "status") == status {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestAsyncDispatcherDetachesFromRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	messenger := &blockingMessenger{deadline: make(chan time.Time, 1)}
	d := NewAsyncDispatcher(messenger, time.Minute, metrics.NewMessagingMetrics(reg), nil)

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, testReply())
	cancel()
	d.Wait()

	dl := <-messenger.deadline
	assert.WithinDuration(t, time.Now().Add(time.Minute), dl, 5*time.Second)
	assert.Equal(t, 1.0, outboundCount(t, reg, "sent"))
}

func TestAsyncDispatcherCountsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	messenger := &blockingMessenger{deadline: make(chan time.Time, 1), err: errors.New("provider down")}
	d := NewAsyncDispatcher(messenger, 0, metrics.NewMessagingMetrics(reg), nil)

	d.Dispatch(context.Background(), testReply())
	d.Wait()
	assert.Equal(t, 1.0, outboundCount(t, reg, "error"))
}

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	deleted  []string
	messages []types.Message
	err      error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestQueueDispatcherEnqueuesReply(t *testing.T) {
	reg := prometheus.NewRegistry()
	client := &fakeSQS{}
	d := NewQueueDispatcher(NewSQSQueue(client, "https://sqs.local/outbound"), metrics.NewMessagingMetrics(reg), nil)

	d.Dispatch(context.Background(), testReply())

	require.Len(t, client.sent, 1)
	assert.Equal(t, "https://sqs.local/outbound", aws.ToString(client.sent[0].QueueUrl))
	var decoded conversation.OutboundReply
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(client.sent[0].MessageBody)), &decoded))
	assert.Equal(t, callerNumber, decoded.To)
	assert.Equal(t, "conv-1", decoded.ConversationID)
	assert.Equal(t, 1.0, outboundCount(t, reg, "queued"))

	client.err = errors.New("throttled")
	d.Dispatch(context.Background(), testReply())
	assert.Equal(t, 1.0, outboundCount(t, reg, "error"))
}

func TestSQSQueueReceiveAndDelete(t *testing.T) {
	client := &fakeSQS{messages: []types.Message{{
		MessageId:     aws.String("m-1"),
		Body:          aws.String(`{"to":"+15550002001"}`),
		ReceiptHandle: aws.String("rh-1"),
	}}}
	q := NewSQSQueue(client, "https://sqs.local/outbound")

	msgs, err := q.Receive(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "rh-1", msgs[0].ReceiptHandle)

	require.NoError(t, q.Delete(context.Background(), "rh-1"))
	require.NoError(t, q.Delete(context.Background(), ""))
	assert.Equal(t, []string{"rh-1"}, client.deleted)

	assert.Panics(t, func() { NewSQSQueue(client, "") })
}
