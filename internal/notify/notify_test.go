package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/chainwatch/internal/config"
	"github.com/wnt/chainwatch/internal/models"
)

func sampleAlert() (models.MonitoredEntity, models.AlertEvent) {
	entity := models.MonitoredEntity{
		ID:      7,
		UserID:  "user-1",
		Chain:   models.ChainETH,
		Address: "0x0b8fa6f76eb75ae3a4ca28eb3020dfc4503f2136",
		Label:   "treasury",
	}
	event := models.AlertEvent{
		Chain:       models.ChainETH,
		TxID:        "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060",
		EntityID:    7,
		Timestamp:   time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		Direction:   models.DirectionOut,
		Amount:      decimal.RequireFromString("0.05"),
		Asset:       "ETH",
		Counterpart: "0x1111111111111111111111111111111111111111",
	}
	return entity, event
}

func TestRender(t *testing.T) {
	entity, event := sampleAlert()
	text := Render(entity, event)

	assert.Equal(t, "↑ Sent 0.05 ETH on ETH\n"+
		"Wallet: treasury (0x0b8f…2136)\n"+
		"To: 0x1111…1111\n"+
		"Tx: 0x5c50…2060\n"+
		"Time: 2024-05-01 12:30:00 UTC\n"+
		"https://etherscan.io/tx/0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060", text)

	entity.Label = ""
	event.Direction = models.DirectionIn
	event.Counterpart = ""
	text = Render(entity, event)
	assert.Contains(t, text, "↓ Received 0.05 ETH")
	assert.Contains(t, text, "Wallet: 0x0b8f…2136\n")
	assert.NotContains(t, text, "From:")
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "short", Shorten("short"))
	assert.Equal(t, "9WzDXw…AWWM", Shorten("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"))
}

func TestWebhookDispatcher(t *testing.T) {
	var got Message
	var header http.Header
	status := http.StatusOK
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		header = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
	}))
	defer server.Close()

	d := NewWebhookDispatcher(server.URL, "s3cret", time.Second, zerolog.Nop())
	require.NoError(t, d.Deliver(context.Background(), "user-1", "hello"))
	assert.Equal(t, "user-1", got.Destination)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "Bearer s3cret", header.Get("Authorization"))
	assert.Equal(t, "chainwatch", header.Get("User-Agent"))
	assert.Equal(t, "application/json", header.Get("Content-Type"))

	// No synchronous retry on failure
	status = http.StatusInternalServerError
	assert.Error(t, d.Deliver(context.Background(), "user-1", "hello"))
	assert.Equal(t, 2, calls)
}

func TestWebhookDispatcher_NoToken(t *testing.T) {
	var header http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := NewWebhookDispatcher(server.URL, "", time.Second, zerolog.Nop())
	require.NoError(t, d.Deliver(context.Background(), "user-1", "hello"))
	assert.Empty(t, header.Get("Authorization"))
}

func TestRedisDispatcher(t *testing.T) {
	server := miniredis.RunT(t)

	d, err := NewRedisDispatcher("redis://"+server.Addr(), zerolog.Nop())
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	require.NoError(t, d.Deliver(ctx, "user-1", "first"))
	require.NoError(t, d.Deliver(ctx, "user-2", "second"))

	length, err := d.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)

	items, err := server.List(AlertQueueKey)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(items[0]), &msg))
	assert.Equal(t, "user-1", msg.Destination)
	assert.Equal(t, "first", msg.Text)

	_, err = NewRedisDispatcher("not-a-url", zerolog.Nop())
	assert.Error(t, err)
}

func TestKafkaDispatcher(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg Message
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		assert.Equal(t, "user-1", msg.Destination)
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	d := NewKafkaDispatcherWithProducer(producer, "alerts", zerolog.Nop())
	require.NoError(t, d.Deliver(context.Background(), "user-1", "hello"))
	assert.Error(t, d.Deliver(context.Background(), "user-1", "hello"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Deliver(ctx, "user-1", "hello"), context.Canceled)

	require.NoError(t, d.Close())

	_, err := NewKafkaDispatcher(nil, "alerts", zerolog.Nop())
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	d, err := New(config.Config{NotifyMode: "log"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &LogDispatcher{}, d)
	assert.NoError(t, d.Deliver(context.Background(), "user-1", "hi"))

	d, err = New(config.Config{NotifyMode: "webhook", WebhookURL: "http://localhost"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &WebhookDispatcher{}, d)

	_, err = New(config.Config{NotifyMode: "pigeon"}, zerolog.Nop())
	assert.Error(t, err)
}
