package journal

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJournalRecordsBatch(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "db", "journal.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	require.NoError(t, j.RecordWrite("b1", "01_a.param", "BRD_BOOT_DELAY", 3000, nil))
	require.NoError(t, j.RecordWrite("b1", "01_a.param", "GPS_TYPE", 2, errors.New("timeout")))
	require.NoError(t, j.RecordWrite("b2", "02_b.param", "LOG_BITMASK", 1, nil))
	require.NoError(t, j.RecordOutcome("b1", "01_a.param", 1, "mismatch", "GPS_TYPE"))
	require.NoError(t, j.RecordOutcome("b1", "01_a.param", 2, "done", ""))

	writes, err := j.Writes("b1")
	require.NoError(t, err)
	require.Len(t, writes, 2)
	require.Equal(t, "BRD_BOOT_DELAY", writes[0].Parameter)
	require.Equal(t, 3000.0, writes[0].Value)
	require.Empty(t, writes[0].Error)
	require.Equal(t, "timeout", writes[1].Error)
	require.False(t, writes[1].WrittenAt.IsZero())

	outcomes, err := j.Outcomes("01_a.param")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.Equal(t, "done", outcomes[0].Outcome)
	require.Equal(t, 2, outcomes[0].Attempt)
	require.Equal(t, "GPS_TYPE", outcomes[1].Detail)

	none, err := j.Writes("missing")
	require.NoError(t, err)
	require.Empty(t, none)
}
