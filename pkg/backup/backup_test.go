package backup_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/bridgestation/pkg/adapters"
	"github.com/ruslano69/bridgestation/pkg/adapters/sqlite"
	"github.com/ruslano69/bridgestation/pkg/backup"
	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/dedup"
	"github.com/ruslano69/bridgestation/pkg/ledger"
	"github.com/ruslano69/bridgestation/pkg/mergeflag"
	"github.com/ruslano69/bridgestation/pkg/process"
	"github.com/ruslano69/bridgestation/pkg/retry"
	"github.com/ruslano69/bridgestation/pkg/store"
)

const pid = 7

var day1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestKeys(t *testing.T) {
	keys := backup.Keys(pid, day1.Add(6*time.Hour), day1.Add(48*time.Hour))
	require.Len(t, keys, 2)

	assert.Equal(t, day1, keys[0].Day)
	assert.Equal(t, day1.Add(6*time.Hour), keys[0].From)
	assert.Equal(t, day1.Add(24*time.Hour), keys[0].To)
	assert.False(t, keys[0].Whole())
	assert.True(t, keys[1].Whole())
	assert.Equal(t, "7/2024/01/20240101.tdtp.xml", keys[0].Path())
	assert.Equal(t, "7/20240102", keys[1].String())

	// Окно в другой зоне приводится к UTC
	jst := time.FixedZone("JST", 9*3600)
	keys = backup.Keys(pid, time.Date(2024, 1, 2, 3, 0, 0, 0, jst), time.Date(2024, 1, 2, 10, 0, 0, 0, jst))
	require.Len(t, keys, 2)
	assert.Equal(t, time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC), keys[0].From)
	assert.Equal(t, day1.Add(24*time.Hour), keys[1].Day)

	assert.Empty(t, backup.Keys(pid, day1, day1))
	assert.Empty(t, backup.Keys(pid, day1.Add(time.Hour), day1))
}

func sampleFrame() *frame.Frame {
	return frame.FromRows(
		[]string{"id", "get_date", "serial_no", "torque", "ok", "note"},
		[][]any{
			{int64(1), day1.Add(8 * time.Hour), "SN|1", 1.25, true, nil},
			{int64(2), day1.Add(9 * time.Hour), "SN\n2", nil, false, nil},
		})
}

func TestDirStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	files, err := backup.NewDirStore(root)
	require.NoError(t, err)
	key := backup.Keys(pid, day1, day1.Add(24*time.Hour))[0]

	got, err := files.Read(ctx, key)
	require.NoError(t, err)
	require.Nil(t, got)

	src := sampleFrame()
	require.NoError(t, files.Write(ctx, key, src))
	require.FileExists(t, filepath.Join(root, "7", "2024", "01", "20240101.tdtp.xml"))

	got, err = files.Read(ctx, key)
	require.NoError(t, err)
	require.Equal(t, src.Columns, got.Columns)
	for i := range src.Rows {
		assert.Equal(t, src.Key(i, src.Columns), got.Key(i, got.Columns))
	}

	require.NoError(t, files.Delete(ctx, key))
	require.NoError(t, files.Delete(ctx, key))
	got, err = files.Read(ctx, key)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDirStore_CompressionLevel(t *testing.T) {
	ctx := context.Background()
	key := backup.Keys(pid, day1, day1.Add(24*time.Hour))[0]
	src := frame.New("id", "get_date", "serial_no")
	for i := range 500 {
		src.Append(int64(i+1), day1.Add(time.Duration(i)*time.Minute), "SN-0000000000")
	}

	sizes := map[int]int{}
	for _, level := range []int{1, 19} {
		root := t.TempDir()
		files, err := backup.NewDirStore(root, backup.WithDirCodec(backup.NewCodec(level)))
		require.NoError(t, err)
		require.NoError(t, files.Write(ctx, key, src))

		got, err := files.Read(ctx, key)
		require.NoError(t, err)
		require.Equal(t, src.Len(), got.Len())

		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(key.Path())))
		require.NoError(t, err)
		sizes[level] = int(info.Size())
	}
	assert.LessOrEqual(t, sizes[19], sizes[1])
}

func TestCodec_RejectsForeignProcess(t *testing.T) {
	codec := backup.NewCodec(0)
	key := backup.Keys(pid, day1, day1.Add(time.Hour))[0]
	data, err := codec.Encode(key, sampleFrame())
	require.NoError(t, err)

	other := key
	other.ProcessID = 8
	_, err = codec.Decode(other, data)
	require.Error(t, err)
}

type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []*s3.PutObjectInput
}

func (m *mockS3Client) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(in.Body)
	m.objects[*in.Bucket+"/"+*in.Key] = data
	m.puts = append(m.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

var errMultipart = errors.New("multipart upload not expected")

func (m *mockS3Client) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errMultipart
}

func (m *mockS3Client) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (m *mockS3Client) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (m *mockS3Client) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	mock := &mockS3Client{objects: make(map[string][]byte)}
	files, err := backup.NewS3Store(ctx, "station-backup", "/plant-a/", backup.WithS3Client(mock))
	require.NoError(t, err)
	key := backup.Keys(pid, day1, day1.Add(time.Hour))[0]

	got, err := files.Read(ctx, key)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, files.Write(ctx, key, sampleFrame()))
	require.Len(t, mock.puts, 1)
	assert.Equal(t, "station-backup", *mock.puts[0].Bucket)
	assert.Equal(t, "plant-a/7/2024/01/20240101.tdtp.xml", *mock.puts[0].Key)
	assert.Equal(t, "application/xml", *mock.puts[0].ContentType)

	got, err = files.Read(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())

	require.NoError(t, files.Delete(ctx, key))
	assert.Empty(t, mock.objects)
}

func TestS3Store_MissingBucket(t *testing.T) {
	_, err := backup.NewS3Store(context.Background(), "", "prefix", backup.WithS3Client(&mockS3Client{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name required")
}

type env struct {
	store  *store.Store
	files  *backup.DirStore
	ledger *ledger.Memory
	orch   *backup.Orchestrator
}

func newEnv(t *testing.T, files backup.FileStore) *env {
	t.Helper()
	return newEnvOn(t, files, nil)
}

// newEnvOn собирает окружение на backend, обернутом wrap (nil - без обертки)
func newEnvOn(t *testing.T, files backup.FileStore, wrap func(adapters.Backend) adapters.Backend) *env {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "station.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(ctx) })
	var backend adapters.Backend = db
	if wrap != nil {
		backend = wrap(db)
	}

	res, err := process.NewStaticResolver(process.DataSource{ID: 1, Category: mergeflag.MasterOthers})
	require.NoError(t, err)
	s := &process.Schema{
		ID: pid,
		Columns: []process.Column{
			{ID: "c1", Name: "serial_no", Type: "TEXT", Serial: true},
			{ID: "c2", Name: "get_date", Type: "TIMESTAMP", GetDate: true},
			{ID: "c3", Name: "torque", Type: "REAL"},
			{ID: "c4", Name: "result", Type: "CATEGORY"},
		},
	}
	l := ledger.NewMemory()
	st, err := store.New(backend, s, store.WithEngine(dedup.NewEngine(res)), store.WithLedger(l))
	require.NoError(t, err)
	_, err = st.CreateOrEvolve(ctx)
	require.NoError(t, err)

	dir, err := backup.NewDirStore(filepath.Join(t.TempDir(), "backup"))
	require.NoError(t, err)
	if files == nil {
		files = dir
	}
	return &env{
		store:  st,
		files:  dir,
		ledger: l,
		orch:   &backup.Orchestrator{Store: st, Files: files, Ledger: l},
	}
}

func (e *env) importRows(t *testing.T, at ...time.Duration) {
	t.Helper()
	f := frame.New(process.ColFactoryMachineID, process.ColProductPartID, "c1", "c2", "c3", "c4")
	for i, d := range at {
		f.Append(int64(1), int64(1), "SN", day1.Add(d), float64(i), "OK")
	}
	_, err := e.store.ImportData(context.Background(), f, 1)
	require.NoError(t, err)
}

func (e *env) dbCount(t *testing.T) int64 {
	t.Helper()
	n, err := e.store.DataCount(context.Background())
	require.NoError(t, err)
	return n
}

func (e *env) fileCount(t *testing.T, start, end time.Time) int64 {
	t.Helper()
	var n int64
	for _, k := range backup.Keys(pid, start, end) {
		f, err := e.files.Read(context.Background(), k)
		require.NoError(t, err)
		if f != nil {
			n += int64(f.Len())
		}
	}
	return n
}

func (e *env) total(t *testing.T, target ledger.Target) int64 {
	t.Helper()
	n, err := e.ledger.Total(context.Background(), pid, target)
	require.NoError(t, err)
	return n
}

func collect(t *testing.T, seq func(yield func(backup.Progress, error) bool)) []backup.Progress {
	t.Helper()
	var out []backup.Progress
	for p, err := range seq {
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func TestBackupRestore_Conservation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.importRows(t, 8*time.Hour, 9*time.Hour, 34*time.Hour)
	start, end := day1, day1.Add(48*time.Hour)

	progress := collect(t, e.orch.Backup(ctx, start, end))
	require.Len(t, progress, 2)
	assert.Equal(t, int64(2), progress[0].Rows)
	assert.Equal(t, int64(1), progress[1].Rows)
	assert.Equal(t, 100.0, progress[1].Percent)

	assert.Zero(t, e.dbCount(t))
	assert.Equal(t, int64(3), e.fileCount(t, start, end))
	assert.Zero(t, e.total(t, ledger.TargetDB))
	assert.Equal(t, int64(3), e.total(t, ledger.TargetFile))

	// Повторный backup пустого окна ничего не меняет
	collect(t, e.orch.Backup(ctx, start, end))
	assert.Equal(t, int64(3), e.fileCount(t, start, end))

	// Те же строки импортированы снова: файл не растет
	e.importRows(t, 8*time.Hour, 9*time.Hour, 34*time.Hour)
	collect(t, e.orch.Backup(ctx, start, end))
	assert.Zero(t, e.dbCount(t))
	assert.Equal(t, int64(3), e.fileCount(t, start, end))
	assert.Equal(t, int64(3), e.total(t, ledger.TargetFile))

	progress = collect(t, e.orch.Restore(ctx, start, end))
	require.Len(t, progress, 2)
	assert.Equal(t, int64(3), e.dbCount(t))
	assert.Zero(t, e.fileCount(t, start, end))
	assert.Equal(t, int64(3), e.total(t, ledger.TargetDB))
	assert.Zero(t, e.total(t, ledger.TargetFile))

	rows, err := e.store.GetTransactionByTimeRange(ctx, start, end)
	require.NoError(t, err)
	assert.Equal(t, []any{"OK", "OK", "OK"}, rows.Column("result"))
	assert.Equal(t, []any{0.0, 1.0, 2.0}, rows.Column("torque"))
}

func TestRestore_PartialWindowKeepsOutsideRows(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.importRows(t, 8*time.Hour, 9*time.Hour)
	collect(t, e.orch.Backup(ctx, day1, day1.Add(24*time.Hour)))

	progress := collect(t, e.orch.Restore(ctx, day1.Add(8*time.Hour+30*time.Minute), day1.Add(24*time.Hour)))
	require.Len(t, progress, 1)
	assert.Equal(t, int64(1), progress[0].Rows)

	assert.Equal(t, int64(1), e.dbCount(t))
	assert.Equal(t, int64(1), e.fileCount(t, day1, day1.Add(24*time.Hour)))
	assert.Equal(t, int64(1), e.total(t, ledger.TargetFile))
	assert.Equal(t, int64(1), e.total(t, ledger.TargetDB))

	left, err := e.files.Read(ctx, backup.Keys(pid, day1, day1.Add(time.Hour))[0])
	require.NoError(t, err)
	assert.Equal(t, day1.Add(8*time.Hour), left.Value(0, "get_date"))
}

func TestBackup_StopIteration(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.importRows(t, 8*time.Hour, 34*time.Hour)

	for p, err := range e.orch.Backup(ctx, day1, day1.Add(48*time.Hour)) {
		require.NoError(t, err)
		require.Equal(t, 1, p.Index)
		break
	}
	// Вторые сутки не тронуты
	assert.Equal(t, int64(1), e.dbCount(t))
	assert.Equal(t, int64(1), e.fileCount(t, day1, day1.Add(48*time.Hour)))
}

type failingFiles struct {
	backup.FileStore
	writes int
}

func (f *failingFiles) Write(context.Context, backup.Key, *frame.Frame) error {
	f.writes++
	return errors.New("disk full")
}

func TestBackup_RetryExhaustedGoesToDLQ(t *testing.T) {
	ctx := context.Background()
	files := &failingFiles{}
	e := newEnv(t, files)
	files.FileStore = e.files

	config := retry.EnableRetry(2, time.Millisecond)
	config.DLQ.Enabled = true
	config.DLQ.FilePath = ""
	r, err := retry.NewRetryer(config)
	require.NoError(t, err)
	e.orch.Retryer = r

	e.importRows(t, 8*time.Hour)

	var errs []error
	for _, err := range e.orch.Backup(ctx, day1, day1.Add(24*time.Hour)) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], retry.ErrExhausted)
	assert.Equal(t, 2, files.writes)

	entries := r.GetDLQ().ByUnit("backup/7/20240101")
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].LastError, "disk full")

	// Транзакция откатана: строки остались в хранилище
	assert.Equal(t, int64(1), e.dbCount(t))
	assert.Equal(t, int64(1), e.total(t, ledger.TargetDB))
	assert.Zero(t, e.total(t, ledger.TargetFile))
}

func TestBackup_CancelledContext(t *testing.T) {
	e := newEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, err := range e.orch.Backup(ctx, day1, day1.Add(48*time.Hour)) {
		require.ErrorIs(t, err, context.Canceled)
	}
}

var errConnLost = errors.New("connection lost at commit")

// lossyBackend теряет соединение на commit транзакции, вставлявшей в table
type lossyBackend struct {
	adapters.Backend
	table string
	armed bool
}

func (b *lossyBackend) Begin(ctx context.Context) (adapters.Tx, error) {
	tx, err := b.Backend.Begin(ctx)
	if err != nil || !b.armed {
		return tx, err
	}
	return &lossyTx{Tx: tx, table: b.table}, nil
}

type lossyTx struct {
	adapters.Tx
	table    string
	inserted bool
}

func (t *lossyTx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if table == t.table {
		t.inserted = true
	}
	return t.Tx.InsertRows(ctx, table, columns, rows)
}

func (t *lossyTx) Commit(ctx context.Context) error {
	if !t.inserted {
		return t.Tx.Commit(ctx)
	}
	_ = t.Tx.Rollback(ctx)
	return errConnLost
}

func TestRestore_CommitFailureKeepsFile(t *testing.T) {
	ctx := context.Background()
	lossy := &lossyBackend{table: "t_process_7"}
	e := newEnvOn(t, nil, func(b adapters.Backend) adapters.Backend {
		lossy.Backend = b
		return lossy
	})
	e.importRows(t, 8*time.Hour, 9*time.Hour)
	start, end := day1, day1.Add(24*time.Hour)
	collect(t, e.orch.Backup(ctx, start, end))
	require.Equal(t, int64(2), e.fileCount(t, start, end))

	lossy.armed = true
	var errs []error
	for _, err := range e.orch.Restore(ctx, start, end) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], errConnLost)

	// Строки не потеряны: файл не тронут, хранилище пусто
	assert.Zero(t, e.dbCount(t))
	assert.Equal(t, int64(2), e.fileCount(t, start, end))
	assert.Equal(t, int64(2), e.total(t, ledger.TargetFile))
	assert.Zero(t, e.total(t, ledger.TargetDB))

	// Повтор после восстановления соединения переносит сутки
	lossy.armed = false
	progress := collect(t, e.orch.Restore(ctx, start, end))
	require.Len(t, progress, 1)
	assert.Equal(t, int64(2), progress[0].Rows)
	assert.Equal(t, int64(2), e.dbCount(t))
	assert.Zero(t, e.fileCount(t, start, end))
}

type deniedFiles struct {
	backup.FileStore
	deny bool
}

func (f *deniedFiles) Delete(ctx context.Context, key backup.Key) error {
	if f.deny {
		return errors.New("permission denied")
	}
	return f.FileStore.Delete(ctx, key)
}

func TestRestore_FileFailureAfterCommitIsRetrySafe(t *testing.T) {
	ctx := context.Background()
	files := &deniedFiles{}
	e := newEnv(t, files)
	files.FileStore = e.files
	e.importRows(t, 8*time.Hour, 9*time.Hour)
	start, end := day1, day1.Add(24*time.Hour)
	collect(t, e.orch.Backup(ctx, start, end))

	files.deny = true
	for _, err := range e.orch.Restore(ctx, start, end) {
		require.ErrorContains(t, err, "permission denied")
	}
	// Строки в обоих местах, но не потеряны
	assert.Equal(t, int64(2), e.dbCount(t))
	assert.Equal(t, int64(2), e.fileCount(t, start, end))
	assert.Equal(t, int64(2), e.total(t, ledger.TargetDB))

	files.deny = false
	progress := collect(t, e.orch.Restore(ctx, start, end))
	require.Len(t, progress, 1)
	assert.Zero(t, progress[0].Rows)
	assert.Equal(t, int64(2), e.dbCount(t))
	assert.Zero(t, e.fileCount(t, start, end))
	assert.Equal(t, int64(2), e.total(t, ledger.TargetDB))
	assert.Zero(t, e.total(t, ledger.TargetFile))
}
