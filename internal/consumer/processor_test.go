package consumer

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func framed(schemaID uint32, payload string) []byte {
	value := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(value[1:5], schemaID)
	copy(value[5:], payload)
	return value
}

func enrollmentMessage(offset int64, payload string) kafka.Message {
	return kafka.Message{
		Topic:     "activity_enrollments",
		Partition: 0,
		Offset:    offset,
		Time:      time.Now().UTC(),
		Value:     framed(42, payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("participant.enrolled")},
			{Key: "aggregate_id", Value: []byte("Chess Club")},
			{Key: "schema_subject", Value: []byte("activity_enrollments-value")},
		},
	}
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	payload := `{"activity":"Chess Club","email":"test@mergington.edu"}`
	reader := &stubReader{messages: []kafka.Message{enrollmentMessage(10, payload)}}
	handler := &stubHandler{}

	processor := NewProcessor(reader, handler, WithLogger(zaptest.NewLogger(t)))

	err := processor.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, "participant.enrolled", handler.last.EventType)
	require.Equal(t, "Chess Club", handler.last.AggregateID)
	require.Equal(t, 42, handler.last.SchemaID)
	require.Equal(t, int64(10), handler.last.Offset)
	require.JSONEq(t, payload, string(handler.last.Payload))
}

func TestProcessorRetriesHandlerBeforeCommitting(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{enrollmentMessage(20, `{}`), enrollmentMessage(21, `{}`)}}
	handler := &stubHandler{err: errors.New("boom"), failures: 2}

	processor := NewProcessor(reader, handler,
		WithLogger(zaptest.NewLogger(t)),
		WithRetryBackoff(time.Millisecond, 2*time.Millisecond),
	)

	err := processor.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 4, handler.calls)
	require.Equal(t, []int64{20, 21}, reader.committed)
}

func TestProcessorNeverCommitsPastFailingMessage(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{enrollmentMessage(30, `{}`), enrollmentMessage(31, `{}`)}}
	handler := &stubHandler{err: errors.New("database unavailable"), failures: -1}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewProcessor(reader, handler, WithRetryBackoff(time.Millisecond, 5*time.Millisecond)).Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Greater(t, handler.calls, 1)
	require.Equal(t, int64(30), handler.last.Offset)
	require.Empty(t, reader.committed)
}

func TestProcessorStopsWhenReaderCloses(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{enrollmentMessage(1, `{}`)}, endErr: io.EOF}
	handler := &stubHandler{}

	require.NoError(t, NewProcessor(reader, handler).Run(context.Background()))
	require.Equal(t, 1, handler.calls)
}

func TestProcessorBacksOffOnFetchErrors(t *testing.T) {
	reader := &failingReader{err: errors.New("broker unreachable")}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := NewProcessor(reader, &stubHandler{}, WithRetryBackoff(20*time.Millisecond, 40*time.Millisecond)).Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, reader.fetches, 2)
	require.LessOrEqual(t, reader.fetches, 6)
}

func TestProcessorCommitsMalformedMessages(t *testing.T) {
	noHeader := enrollmentMessage(1, `{}`)
	noHeader.Headers = nil
	badMagic := enrollmentMessage(2, `{}`)
	badMagic.Value[0] = 1
	badJSON := enrollmentMessage(3, `not json`)
	short := enrollmentMessage(4, ``)
	short.Value = short.Value[:3]

	reader := &stubReader{messages: []kafka.Message{noHeader, badMagic, badJSON, short}}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 0, handler.calls)
	require.Equal(t, 4, reader.commitCalls)
}

func TestProcessorStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reader := &stubReader{messages: []kafka.Message{enrollmentMessage(1, `{}`)}}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, handler.calls)
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
	committed   []int64
	endErr      error
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		if r.endErr != nil {
			return kafka.Message{}, r.endErr
		}
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.commitCalls++
	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}
	return nil
}

func (r *stubReader) Close() error { return nil }

// stubHandler returns err for its first failures calls, or forever when failures < 0.
type stubHandler struct {
	calls    int
	err      error
	failures int
	last     Message
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	if h.err != nil && (h.failures < 0 || h.calls <= h.failures) {
		return h.err
	}
	return nil
}

type failingReader struct {
	fetches int
	err     error
}

func (r *failingReader) FetchMessage(context.Context) (kafka.Message, error) {
	r.fetches++
	return kafka.Message{}, r.err
}

func (r *failingReader) CommitMessages(context.Context, ...kafka.Message) error { return nil }

func (r *failingReader) Close() error { return nil }
