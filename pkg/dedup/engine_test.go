package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/mergeflag"
	"github.com/ruslano69/bridgestation/pkg/process"
)

const (
	dsOthers     = 1
	dsV2         = 2
	dsV2History  = 3
	dsEFA        = 4
	dsEFAHistory = 5
)

var columns = []string{
	process.ColID, process.ColFactoryMachineID, process.ColProductPartID,
	process.ColMergeFlag, process.ColDataSourceID,
	"serial_no", "get_date", "torque", "result",
}

var t0 = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func testSchema() *process.Schema {
	return &process.Schema{
		ID: 7,
		Columns: []process.Column{
			{ID: "c1", Name: "serial_no", Type: "TEXT", Serial: true},
			{ID: "c2", Name: "get_date", Type: "TIMESTAMP", GetDate: true},
			{ID: "c3", Name: "torque", Type: "REAL"},
			{ID: "c4", Name: "result", Type: "TEXT"},
		},
	}
}

func testEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	res, err := process.NewStaticResolver(
		process.DataSource{ID: dsOthers, Category: mergeflag.MasterOthers},
		process.DataSource{ID: dsV2, Category: mergeflag.MasterV2},
		process.DataSource{ID: dsV2History, Category: mergeflag.MasterV2History},
		process.DataSource{ID: dsEFA, Category: mergeflag.MasterEFA},
		process.DataSource{ID: dsEFAHistory, Category: mergeflag.MasterEFAHistory},
	)
	if err != nil {
		t.Fatalf("NewStaticResolver failed: %v", err)
	}
	return NewEngine(res, opts...)
}

// row: id, flag (nil = not set), data source, serial, get-date offset, torque, result
func row(id any, flag any, ds int64, serial string, at time.Duration, torque any, result any) []any {
	return []any{id, int64(1), int64(2), flag, ds, serial, t0.Add(at), torque, result}
}

func frameOf(rows ...[]any) *frame.Frame {
	return frame.FromRows(columns, rows)
}

func reconcile(t *testing.T, e *Engine, existing, incoming *frame.Frame) *Result {
	t.Helper()
	res, err := e.Reconcile(context.Background(), Request{Schema: testSchema(), Existing: existing, Incoming: incoming})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	return res
}

func TestReconcile_V2MeasurementThenHistory(t *testing.T) {
	e := testEngine(t)
	existing := frameOf(row(int64(100), int64(mergeflag.V2Measurement), dsV2, "SN1", 0, 1.5, nil))
	incoming := frameOf(row(nil, nil, dsV2History, "SN1", 0, 2.5, "OK"))

	res := reconcile(t, e, existing, incoming)

	if res.Insert.Len() != 1 {
		t.Fatalf("expected one done row, got %d: %v", res.Insert.Len(), res.Insert.Rows)
	}
	flag, _ := mergeflag.FlagOf(res.Insert.Value(0, process.ColMergeFlag))
	if flag != mergeflag.V2Measurement|mergeflag.V2History {
		t.Errorf("merged flag = %d, want done", flag)
	}
	if !frame.Equal(res.Insert.Value(0, "torque"), 2.5) {
		t.Errorf("history value must win, torque = %v", res.Insert.Value(0, "torque"))
	}
	if res.Insert.Value(0, "result") != "OK" {
		t.Errorf("history field must be filled, got %v", res.Insert.Value(0, "result"))
	}
	if len(res.DeleteIDs) != 1 || res.DeleteIDs[0] != 100 {
		t.Errorf("consumed measurement must be deleted, got %v", res.DeleteIDs)
	}
	if res.ExistingKept[0] {
		t.Error("consumed existing row must not be kept")
	}
	if res.Merged != 1 {
		t.Errorf("Merged = %d, want 1", res.Merged)
	}
}

func TestReconcile_V2HistoryThenMeasurement(t *testing.T) {
	e := testEngine(t)
	existing := frameOf(row(int64(200), int64(mergeflag.V2History), dsV2History, "SN1", 0, 9.0, "NG"))
	incoming := frameOf(row(int64(55), nil, dsV2, "SN1", 0, 1.0, nil))

	res := reconcile(t, e, existing, incoming)

	if res.Insert.Len() != 1 {
		t.Fatalf("expected one done row, got %v", res.Insert.Rows)
	}
	if !frame.Equal(res.Insert.Value(0, "torque"), 9.0) || res.Insert.Value(0, "result") != "NG" {
		t.Errorf("history values must win: %v", res.Insert.Rows[0])
	}
	if !frame.Equal(res.Insert.Value(0, process.ColID), 55) {
		t.Errorf("merged row keeps the incoming id, got %v", res.Insert.Value(0, process.ColID))
	}
	if !frame.Equal(res.Insert.Value(0, process.ColDataSourceID), dsV2History) {
		t.Errorf("merged row takes the history data source, got %v", res.Insert.Value(0, process.ColDataSourceID))
	}
	if len(res.DeleteIDs) != 1 || res.DeleteIDs[0] != 200 {
		t.Errorf("DeleteIDs = %v", res.DeleteIDs)
	}
}

// Измерение и история из одной входящей пачки не объединяются друг с другом:
// объединение идет только со строками, уже лежащими в хранилище.
func TestReconcile_SameBatchMeasurementAndHistory(t *testing.T) {
	e := testEngine(t)
	incoming := frameOf(
		row(nil, nil, dsV2, "SN1", 0, 1.5, nil),
		row(nil, nil, dsV2History, "SN1", 0, 2.5, "OK"),
	)

	res := reconcile(t, e, frame.New(columns...), incoming)

	if res.Insert.Len() != 2 {
		t.Fatalf("expected both rows inserted as is, got %d: %v", res.Insert.Len(), res.Insert.Rows)
	}
	if res.Merged != 0 || len(res.DeleteIDs) != 0 {
		t.Errorf("Merged = %d, DeleteIDs = %v, want no merge", res.Merged, res.DeleteIDs)
	}
	kinds := map[mergeflag.Kind]int{}
	for i := range res.Insert.Rows {
		flag, _ := mergeflag.FlagOf(res.Insert.Value(i, process.ColMergeFlag))
		kinds[mergeflag.Classify(flag).Kind]++
	}
	if kinds[mergeflag.KindMeasurement] != 1 || kinds[mergeflag.KindHistory] != 1 {
		t.Errorf("expected one measurement and one history, got %v", kinds)
	}

	// Повтор той же пачки поверх сохраненных строк - чистый дубликат
	stored := res.Insert.Clone()
	for i := range stored.Rows {
		stored.Set(i, process.ColID, int64(i+1))
	}
	again := reconcile(t, e, stored, incoming)
	if again.Insert.Len() != 0 || again.Duplicates != 2 {
		t.Errorf("re-import: inserted %d, duplicates %d", again.Insert.Len(), again.Duplicates)
	}
}

func TestReconcile_PairingCapAndOrder(t *testing.T) {
	e := testEngine(t)
	existing := frameOf(
		row(int64(2), int64(mergeflag.EFAMeasurement), dsEFA, "SN1", 0, 2.0, nil),
		row(int64(1), int64(mergeflag.EFAMeasurement), dsEFA, "SN1", 0, 1.0, nil),
	)
	incoming := frameOf(row(nil, nil, dsEFAHistory, "SN1", 0, nil, "OK"))

	res := reconcile(t, e, existing, incoming)

	if res.Merged != 1 || len(res.DeleteIDs) != 1 {
		t.Fatalf("one history pairs with one measurement: merged=%d delete=%v", res.Merged, res.DeleteIDs)
	}
	if res.DeleteIDs[0] != 2 {
		t.Errorf("first measurement in get-date order must be consumed, got %v", res.DeleteIDs)
	}
	if !res.ExistingKept[1] || res.ExistingKept[0] {
		t.Errorf("unexpected kept mask %v", res.ExistingKept)
	}
	flag, _ := mergeflag.FlagOf(res.Insert.Value(0, process.ColMergeFlag))
	if flag != mergeflag.EFAMeasurement|mergeflag.EFAHistory {
		t.Errorf("flag = %d, want EFA done", flag)
	}
}

func TestReconcile_GeneralNeverDeletes(t *testing.T) {
	e := testEngine(t)
	existing := frameOf(
		row(int64(1), int64(0), dsOthers, "SN1", 0, 1.0, "OK"),
		row(int64(2), int64(0), dsOthers, "SN2", time.Minute, 2.0, "OK"),
	)
	incoming := frameOf(
		row(nil, nil, dsOthers, "SN1", 0, 1.0, "OK"),
		row(nil, nil, dsOthers, "SN2", time.Minute, 3.0, "NG"),
		row(nil, nil, dsOthers, "SN3", 2*time.Minute, 3.0, "OK"),
	)

	res := reconcile(t, e, existing, incoming)

	if len(res.DeleteIDs) != 0 {
		t.Errorf("GENERAL must never delete, got %v", res.DeleteIDs)
	}
	if res.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", res.Duplicates)
	}
	if res.Insert.Len() != 2 {
		t.Errorf("expected changed and new rows inserted, got %d", res.Insert.Len())
	}
	for _, kept := range res.ExistingKept {
		if !kept {
			t.Error("GENERAL must keep every existing row")
		}
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	var overlaps *frame.Frame
	sink := OverlapFunc(func(_ context.Context, pid int64, pairs *frame.Frame) error {
		if pid != 7 {
			t.Errorf("unexpected process %d", pid)
		}
		overlaps = pairs
		return nil
	})
	e := testEngine(t, WithOverlapSink(sink))

	batch := frameOf(
		row(nil, nil, dsV2, "SN1", 0, 1.0, nil),
		row(nil, nil, dsOthers, "SN2", 0, 2.0, "OK"),
	)
	first := reconcile(t, e, frame.New(columns...), batch)
	if first.Insert.Len() != 2 {
		t.Fatalf("first import inserts everything, got %d", first.Insert.Len())
	}

	stored := first.Insert.Clone()
	for i := range stored.Rows {
		stored.Set(i, process.ColID, int64(i+10))
	}

	second := reconcile(t, e, stored, batch)
	if second.Insert.Len() != 0 || len(second.DeleteIDs) != 0 {
		t.Errorf("re-import must be a no-op, insert=%d delete=%v", second.Insert.Len(), second.DeleteIDs)
	}
	if second.Duplicates != 2 {
		t.Errorf("Duplicates = %d, want 2", second.Duplicates)
	}
	if overlaps == nil || overlaps.Index(ColExistingID) < 0 {
		t.Fatal("overlap pairs must carry existing_id")
	}
	for i := range overlaps.Rows {
		if frame.IsNull(overlaps.Value(i, ColExistingID)) {
			t.Errorf("overlap row %d has no existing id", i)
		}
	}
}

func TestReconcile_SubsumedByDone(t *testing.T) {
	e := testEngine(t)
	done := int64(mergeflag.V2Measurement | mergeflag.V2History)
	existing := frameOf(row(int64(1), done, dsV2History, "SN1", 0, 2.0, "OK"))
	incoming := frameOf(
		row(nil, nil, dsV2, "SN1", 0, 2.0, nil),
		row(nil, nil, dsV2History, "SN1", 0, nil, "OK"),
	)

	res := reconcile(t, e, existing, incoming)

	if res.Insert.Len() != 0 {
		t.Errorf("rows covered by a done row must not be inserted: %v", res.Insert.Rows)
	}
	if res.Subsumed != 2 {
		t.Errorf("Subsumed = %d, want 2", res.Subsumed)
	}
	if len(res.DeleteIDs) != 0 {
		t.Errorf("done rows are authoritative, got delete %v", res.DeleteIDs)
	}
}

func TestReconcile_IncomingDoneInserted(t *testing.T) {
	e := testEngine(t)
	done := int64(mergeflag.V2Measurement | mergeflag.V2History)
	existing := frameOf(row(int64(1), int64(mergeflag.V2History), dsV2History, "SN1", 0, nil, "OK"))
	incoming := frameOf(row(int64(9), done, dsV2, "SN1", 0, 1.0, "OK"))

	res := reconcile(t, e, existing, incoming)
	if res.Insert.Len() != 1 || res.Merged != 0 {
		t.Errorf("incoming done row is inserted as-is: insert=%d merged=%d", res.Insert.Len(), res.Merged)
	}
}

func TestReconcile_UnknownDataSource(t *testing.T) {
	e := testEngine(t)
	_, err := e.Reconcile(context.Background(), Request{
		Schema:   testSchema(),
		Existing: frame.New(columns...),
		Incoming: frameOf(row(nil, nil, 99, "SN1", 0, 1.0, nil)),
	})
	if !errors.Is(err, ErrUnknownDataSource) || !process.IsConfigError(err) {
		t.Errorf("expected ErrUnknownDataSource, got %v", err)
	}
}

func TestReconcile_ExistingFallsBackToStoredFlag(t *testing.T) {
	e := testEngine(t)
	existing := frameOf(row(int64(5), int64(mergeflag.V2Measurement), 42, "SN1", 0, 1.0, nil))
	incoming := frameOf(row(nil, nil, dsV2History, "SN1", 0, nil, "OK"))

	res := reconcile(t, e, existing, incoming)
	if res.Merged != 1 || len(res.DeleteIDs) != 1 || res.DeleteIDs[0] != 5 {
		t.Errorf("existing row with retired data source must merge by flag: %+v", res)
	}
}

func TestReconcile_EmptyPartitions(t *testing.T) {
	e := testEngine(t)
	res := reconcile(t, e, nil, frame.New(columns...))
	if res.Insert.Len() != 0 || len(res.DeleteIDs) != 0 {
		t.Error("empty input is a no-op")
	}
}
