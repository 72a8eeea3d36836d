package kafka

import (
	"log/slog"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bowen577/KNMI-EPW-Generator/internal/batch"
	"github.com/Bowen577/KNMI-EPW-Generator/internal/config"
)

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	res := batch.Result{
		StationID:   "260",
		Year:        2023,
		Success:     true,
		OutputPath:  "output/epw/De_Bilt/NLD_BILT_EPW_YR2023.epw",
		RecordCount: 8760,
		Duration:    3 * time.Second,
		CompletedAt: now,
	}

	msg, err := serializeToMessage(res)
	require.NoError(t, err)

	assert.Equal(t, []byte("260"), msg.Key)
	assert.Contains(t, string(msg.Value), `"station_id":"260"`)
	assert.Contains(t, string(msg.Value), `"success":true`)
	assert.Contains(t, string(msg.Value), `"record_count":8760`)
	assert.Len(t, msg.Headers, 2)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("conversion_result"), msg.Headers[0].Value)
	assert.Equal(t, "completed_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[1].Value)
}

func TestSerializeToMessageFailure(t *testing.T) {
	res := batch.Result{
		StationID:    "310",
		Year:         1950,
		ErrorMessage: "locate archive 310/1950: no archive available",
		CompletedAt:  time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}

	msg, err := serializeToMessage(res)
	require.NoError(t, err)

	assert.Contains(t, string(msg.Value), `"success":false`)
	assert.Contains(t, string(msg.Value), `"error_message"`)
	assert.NotContains(t, string(msg.Value), `"output_path"`, "empty paths are omitted")
}

func TestNewWriterConfiguration(t *testing.T) {
	cfg := &config.Config{
		KafkaBrokers:     []string{"broker-1:9092", "broker-2:9092"},
		KafkaResultTopic: "epw-conversion-results",
	}

	w := NewWriter(cfg, slog.Default())
	t.Cleanup(func() { _ = w.Close() })

	assert.Equal(t, "epw-conversion-results", w.writer.Topic)
	assert.Contains(t, w.writer.Addr.String(), "broker-1:9092")
	assert.Equal(t, kafkago.RequireAll, w.writer.RequiredAcks)
}
