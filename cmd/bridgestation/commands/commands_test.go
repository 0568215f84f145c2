package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/bridgestation/pkg/audit"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
	"github.com/ruslano69/bridgestation/pkg/process"
)

const stationYAML = `database:
  type: sqlite
  dsn: %DIR%/station.db
processes:
  - id: 7
    name: screw_torque
    columns:
      - {id: c1, name: serial_no, type: TEXT, serial: true}
      - {id: c2, name: get_date, type: TIMESTAMP, get_date: true}
      - {id: c3, name: torque, type: REAL}
data_sources:
  - {id: 1, name: line-1, category: OTHERS}
backup:
  kind: dir
  root: %DIR%/backup
audit:
  enabled: true
  file: %DIR%/audit.log
  async: false
log:
  level: error
`

const batchCSV = `factory_machine_id,product_part_id,c1,c2,c3
1,2,SN1,2024-01-01 08:00:00,1.5
1,2,SN2,2024-01-01 09:30:00,2.25
`

type station struct {
	dir  string
	opts *Options
}

func newStation(t *testing.T) *station {
	t.Helper()
	dir := t.TempDir()
	cfg := bytes.ReplaceAll([]byte(stationYAML), []byte("%DIR%"), []byte(dir))
	path := filepath.Join(dir, "bridgestation.yaml")
	require.NoError(t, os.WriteFile(path, cfg, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "batch.csv"), []byte(batchCSV), 0o644))
	return &station{dir: dir, opts: &Options{ConfigPath: path}}
}

func (s *station) run(t *testing.T, newCmd func(*Options) *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCmd(s.opts)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (s *station) mustRun(t *testing.T, newCmd func(*Options) *cobra.Command, args ...string) string {
	t.Helper()
	out, err := s.run(t, newCmd, args...)
	require.NoError(t, err, out)
	return out
}

func (s *station) auditEntries(t *testing.T) []audit.Entry {
	t.Helper()
	f, err := os.Open(filepath.Join(s.dir, "audit.log"))
	require.NoError(t, err)
	defer f.Close()

	var out []audit.Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e audit.Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func rowsOf(t *testing.T, countOut string) string {
	t.Helper()
	m := regexp.MustCompile(`t_process_7\s+(\d+)`).FindStringSubmatch(countOut)
	require.Len(t, m, 2, countOut)
	return m[1]
}

func TestCommands_ImportBackupRestore(t *testing.T) {
	s := newStation(t)
	csv := filepath.Join(s.dir, "batch.csv")

	out := s.mustRun(t, NewEvolveCmd)
	assert.Contains(t, out, "t_process_7: created")

	out = s.mustRun(t, NewImportCmd, "7", csv, "--data-source", "1")
	assert.Contains(t, out, "2 row(s) read, 2 inserted")

	out = s.mustRun(t, NewImportCmd, "7", csv, "--data-source", "1")
	assert.Contains(t, out, "0 inserted")
	assert.Contains(t, out, "duplicates 2")

	assert.Equal(t, "2", rowsOf(t, s.mustRun(t, NewCountCmd, "7")))

	out = s.mustRun(t, NewBackupCmd, "7", "--from", "2024-01-01", "--to", "2024-01-02")
	assert.Contains(t, out, "backup t_process_7: 2 row(s) moved")
	assert.Equal(t, "0", rowsOf(t, s.mustRun(t, NewCountCmd)))
	assert.DirExists(t, filepath.Join(s.dir, "backup"))

	out = s.mustRun(t, NewRestoreCmd, "7", "--from", "2024-01-01", "--to", "2024-01-02")
	assert.Contains(t, out, "restore t_process_7: 2 row(s) moved")
	assert.Equal(t, "2", rowsOf(t, s.mustRun(t, NewCountCmd)))

	ops := map[audit.Operation]int{}
	for _, e := range s.auditEntries(t) {
		ops[e.Operation]++
		assert.Equal(t, int64(7), e.ProcessID)
	}
	assert.Equal(t, 1, ops[audit.OpEvolve])
	assert.Equal(t, 2, ops[audit.OpImport])
	assert.Equal(t, 1, ops[audit.OpBackup])
	assert.Equal(t, 1, ops[audit.OpRestore])
}

func TestCommands_Errors(t *testing.T) {
	s := newStation(t)
	csv := filepath.Join(s.dir, "batch.csv")

	_, err := s.run(t, NewImportCmd, "99", csv, "--data-source", "1")
	assert.ErrorIs(t, err, process.ErrUnknownProcess)

	_, err = s.run(t, NewImportCmd, "7", csv)
	assert.ErrorContains(t, err, "data-source")

	_, err = s.run(t, NewImportCmd, "seven", csv, "--data-source", "1")
	assert.ErrorContains(t, err, `invalid process id "seven"`)

	_, err = s.run(t, NewImportCmd, "7", csv, "--data-source", "1", "--comma", ";;")
	assert.ErrorContains(t, err, "--comma")

	_, err = s.run(t, NewBackupCmd, "7", "--from", "2024-01-02", "--to", "2024-01-01")
	assert.ErrorContains(t, err, "must be after")

	_, err = s.run(t, NewCastCmd, "7", "nosuch=TEXT")
	assert.ErrorContains(t, err, `no column "nosuch"`)

	_, err = s.run(t, NewFeedCmd, "publish", "7", csv, "--data-source", "1")
	assert.ErrorContains(t, err, "broker is not configured")
}

func TestParseCasts(t *testing.T) {
	tests := []struct {
		arg     string
		want    schema.DataType
		wantErr string
	}{
		{"torque=TEXT", schema.TypeText, ""},
		{"torque=int", schema.TypeInteger, ""},
		{"result=category", schema.TypeCategory, ""},
		{"torque", "", "expected column=TYPE"},
		{"=TEXT", "", "expected column=TYPE"},
		{"torque=UUID", "", "unknown type"},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := parseCasts([]string{tt.arg})
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].To)
		})
	}
}

func TestParseWindow(t *testing.T) {
	start, end, err := parseWindow("2024-01-01", "2024-01-03 12:00:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC), end)

	_, _, err = parseWindow("yesterday", "2024-01-03")
	assert.ErrorContains(t, err, "--from")
	_, _, err = parseWindow("2024-01-01", "2024-01-01")
	assert.ErrorContains(t, err, "must be after")
}
