package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaPublisherSendsKeyedEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	publisher := newKafkaPublisher(producer, "taller.events")

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got Event
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		assert.Equal(t, OrderCreated, got.Type)
		assert.Equal(t, "orden-12", got.Key)
		assert.NotEmpty(t, got.ID)
		return nil
	})

	err := publisher.Publish(context.Background(), New(OrderCreated, "orden-12", map[string]any{"orden_id": 12}))
	require.NoError(t, err)
	require.NoError(t, producer.Close())
}

func TestKafkaPublisherReturnsSendError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	publisher := newKafkaPublisher(producer, "taller.events")

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := publisher.Publish(context.Background(), New(PaymentRecorded, "orden-3", nil))
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, producer.Close())
}

func TestKafkaPublisherHonorsCancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	publisher := newKafkaPublisher(producer, "taller.events")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, publisher.Publish(ctx, New(PartLowStock, "repuesto-1", nil)), context.Canceled)
	require.NoError(t, producer.Close())
}
