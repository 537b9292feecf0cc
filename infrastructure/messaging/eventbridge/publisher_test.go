package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"ailego/domain/core/entities"
	"ailego/domain/core/valueobjects"
	"ailego/domain/events"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClient struct {
	inputs []*eventbridge.PutEventsInput
	out    *eventbridge.PutEventsOutput
	err    error
}

func (f *fakeClient) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.out != nil || f.err != nil {
		return f.out, f.err
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func link(i int) events.DomainEvent {
	return events.NewLinkAdded(valueobjects.ProjectID("p1"), entities.Link{
		Start: valueobjects.CardID("a"),
		End:   valueobjects.CardID(string(rune('b' + i))),
	})
}

func TestPublisher_BatchesAndFilters(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, "bus", "ailego.canvas", nil, zaptest.NewLogger(t))

	batch := make([]events.DomainEvent, 0, 13)
	for i := 0; i < 12; i++ {
		batch = append(batch, link(i))
	}
	batch = append(batch, events.NewTopologyChanged(valueobjects.ProjectID("p1"), nil))

	require.NoError(t, p.PublishBatch(context.Background(), batch))
	require.Len(t, client.inputs, 2)
	assert.Len(t, client.inputs[0].Entries, 10)
	assert.Len(t, client.inputs[1].Entries, 2)

	entry := client.inputs[0].Entries[0]
	assert.Equal(t, "bus", aws.ToString(entry.EventBusName))
	assert.Equal(t, events.TypeLinkAdded, aws.ToString(entry.DetailType))
	assert.Equal(t, []string{"ailego:project/p1"}, entry.Resources)

	var detail map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail))
	assert.Equal(t, "p1", detail["aggregate_id"])
}

func TestPublisher_SkipsUnselectedTypes(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, "bus", "src", []string{events.TypeSyncFailed}, nil)

	require.NoError(t, p.Publish(context.Background(), link(0)))
	assert.Empty(t, client.inputs)
}

func TestPublisher_Failures(t *testing.T) {
	ctx := context.Background()

	client := &fakeClient{err: errors.New("throttled")}
	assert.Error(t, NewPublisher(client, "bus", "src", nil, nil).Publish(ctx, link(0)))

	client = &fakeClient{out: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries:          []types.PutEventsResultEntry{{ErrorCode: aws.String("InternalFailure")}},
	}}
	assert.Error(t, NewPublisher(client, "bus", "src", nil, zaptest.NewLogger(t)).Publish(ctx, link(0)))
}
