package brokers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ruslano69/bridgestation/pkg/audit"
	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/process"
	"github.com/ruslano69/bridgestation/pkg/resilience"
	"github.com/ruslano69/bridgestation/pkg/store"
)

// fakeBroker - очередь в памяти; пустая очередь вызывает onEmpty
type fakeBroker struct {
	mu       sync.Mutex
	queue    [][]byte
	inFlight []byte
	acked    [][]byte
	rejected [][]byte
	onEmpty  func()
}

func (b *fakeBroker) Connect(context.Context) error { return nil }
func (b *fakeBroker) Close() error                  { return nil }
func (b *fakeBroker) Ping(context.Context) error    { return nil }
func (b *fakeBroker) Type() string                  { return "fake" }

func (b *fakeBroker) Send(_ context.Context, msg []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, msg)
	return nil
}

func (b *fakeBroker) Receive(context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		if b.onEmpty != nil {
			b.onEmpty()
		}
		return nil, ErrNoMessage
	}
	b.inFlight = b.queue[0]
	b.queue = b.queue[1:]
	return b.inFlight, nil
}

func (b *fakeBroker) Ack(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked = append(b.acked, b.inFlight)
	b.inFlight = nil
	return nil
}

func (b *fakeBroker) Reject(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejected = append(b.rejected, b.inFlight)
	b.inFlight = nil
	return nil
}

// fakeImporter возвращает ошибки из errs по очереди, затем успех
type fakeImporter struct {
	mu      sync.Mutex
	errs    []error
	batches []*frame.Frame
	dsIDs   []int64
}

func (i *fakeImporter) ImportData(_ context.Context, batch *frame.Frame, dsID int64) (store.ImportResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.batches = append(i.batches, batch)
	i.dsIDs = append(i.dsIDs, dsID)
	if len(i.errs) > 0 {
		err := i.errs[0]
		i.errs = i.errs[1:]
		if err != nil {
			return store.ImportResult{}, err
		}
	}
	return store.ImportResult{Inserted: int64(batch.Len()), Counted: int64(batch.Len())}, nil
}

func testBatch() *frame.Frame {
	at := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	return frame.FromRows(
		[]string{"serial_no", "get_date", "torque"},
		[][]any{
			{"SN1", at, 1.5},
			{"SN2", at.Add(time.Minute), nil},
		},
	)
}

// runFeed публикует пакеты, запускает Feed до опустошения очереди и возвращает брокер
func runFeed(t *testing.T, imp *fakeImporter, setup func(b *fakeBroker), opts ...FeedOption) *fakeBroker {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := &fakeBroker{onEmpty: cancel}
	setup(b)

	stores := func(_ context.Context, pid int64) (Importer, error) {
		if pid != 7 {
			return nil, fmt.Errorf("%w: %d", process.ErrUnknownProcess, pid)
		}
		return imp, nil
	}
	opts = append([]FeedOption{WithRetryDelay(time.Millisecond)}, opts...)
	if err := NewFeed(b, stores, opts...).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return b
}

func TestFeed_ImportsAndAcks(t *testing.T) {
	imp := &fakeImporter{}
	b := runFeed(t, imp, func(b *fakeBroker) {
		if err := Publish(context.Background(), b, 7, 2, "p7", testBatch()); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	})

	if len(b.acked) != 1 || len(b.rejected) != 0 {
		t.Fatalf("acked=%d rejected=%d", len(b.acked), len(b.rejected))
	}
	if len(imp.batches) != 1 || imp.dsIDs[0] != 2 {
		t.Fatalf("imports=%d ds=%v", len(imp.batches), imp.dsIDs)
	}
	got := imp.batches[0]
	want := testBatch()
	if got.Len() != want.Len() {
		t.Fatalf("rows = %d, want %d", got.Len(), want.Len())
	}
	for i := range want.Rows {
		for _, col := range want.Columns {
			if !frame.Equal(got.Value(i, col), want.Value(i, col)) {
				t.Errorf("row %d %s = %v, want %v", i, col, got.Value(i, col), want.Value(i, col))
			}
		}
	}
}

func TestFeed_RejectsPermanentErrors(t *testing.T) {
	imp := &fakeImporter{errs: []error{fmt.Errorf("store: row 0 column torque: %w", store.ErrInvalidValue)}}
	b := runFeed(t, imp, func(b *fakeBroker) {
		b.Send(context.Background(), []byte("<not a packet"))
		Publish(context.Background(), b, 99, 2, "p99", testBatch()) // неизвестный процесс
		Publish(context.Background(), b, 7, 2, "p7", testBatch())   // ошибка значения
		Publish(context.Background(), b, 7, 2, "p7", testBatch())
	})

	if len(b.rejected) != 3 {
		t.Errorf("rejected = %d, want 3", len(b.rejected))
	}
	if len(b.acked) != 1 {
		t.Errorf("acked = %d, want 1", len(b.acked))
	}
	if len(imp.batches) != 2 {
		t.Errorf("permanent errors must not be retried, imports = %d", len(imp.batches))
	}
}

func TestFeed_RetriesTransientErrors(t *testing.T) {
	errDB := errors.New("connection reset")
	imp := &fakeImporter{errs: []error{errDB, errDB, errDB}}

	cfg := BreakerConfig(resilience.DefaultConfig("feed"))
	cfg.MaxFailures = 2
	cfg.Timeout = 5 * time.Millisecond
	cfg.SuccessThreshold = 1
	cb, err := resilience.New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	b := runFeed(t, imp, func(b *fakeBroker) {
		Publish(context.Background(), b, 7, 2, "p7", testBatch())
	}, WithBreaker(cb))

	if len(b.acked) != 1 || len(b.rejected) != 0 {
		t.Fatalf("acked=%d rejected=%d", len(b.acked), len(b.rejected))
	}
	if len(imp.batches) != 4 {
		t.Errorf("imports = %d, want 3 failures + 1 success", len(imp.batches))
	}
	if cb.State() != resilience.StateClosed {
		t.Errorf("breaker = %v, want closed after success", cb.State())
	}
}

func TestFeed_PermanentErrorsDoNotTripBreaker(t *testing.T) {
	cfg := BreakerConfig(resilience.DefaultConfig("feed"))
	cfg.MaxFailures = 1
	cb, err := resilience.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	runFeed(t, &fakeImporter{}, func(b *fakeBroker) {
		b.Send(context.Background(), []byte("garbage"))
		b.Send(context.Background(), []byte("garbage"))
	}, WithBreaker(cb))

	if cb.State() != resilience.StateClosed {
		t.Errorf("breaker = %v, want closed", cb.State())
	}
}

func TestFeed_Handle(t *testing.T) {
	mem := &memAudit{}
	f := NewFeed(&fakeBroker{}, func(context.Context, int64) (Importer, error) {
		return &fakeImporter{}, nil
	}, WithAudit(mem))

	b := &fakeBroker{}
	Publish(context.Background(), b, 7, 2, "p7", testBatch())
	res, err := f.Handle(context.Background(), b.queue[0])
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Inserted != 2 {
		t.Errorf("inserted = %d", res.Inserted)
	}
	if len(mem.entries) != 1 || mem.entries[0].ProcessID != 7 || mem.entries[0].DataSourceID != 2 {
		t.Errorf("audit entries = %+v", mem.entries)
	}

	tests := []struct {
		name string
		msg  []byte
	}{
		{"garbage", []byte("garbage")},
		{"reference packet", []byte(`<DataPacket protocol="TDTP" version="1.0"><Header><Type>reference</Type><TableName>p7</TableName></Header></DataPacket>`)},
		{"no process", []byte(`<DataPacket protocol="TDTP" version="1.0"><Header><Type>feed</Type><TableName>p7</TableName><DataSourceID>2</DataSourceID></Header></DataPacket>`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Handle(context.Background(), tt.msg)
			if !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("expected ErrInvalidMessage, got %v", err)
			}
		})
	}
}

type memAudit struct {
	entries []*audit.Entry
}

func (m *memAudit) Log(_ context.Context, e *audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) Record(context.Context, audit.Operation, int64, string, int64, time.Time, error) {}

func (m *memAudit) Close() error { return nil }
