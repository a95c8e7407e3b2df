package trial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/griprig/internal/protocol"
)

func TestTaskNames(t *testing.T) {
	require.Len(t, Tasks, 22)
	require.Equal(t, "None", TaskName(0))
	require.Equal(t, "1.1", TaskName(1))
	require.Equal(t, "3.4", TaskName(10))
	require.Equal(t, "5.9", TaskName(22))
	require.Equal(t, "Complete", TaskName(23))

	require.Equal(t, "1_1", FileKey(1))
	require.Equal(t, "5_9", FileKey(22))
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2023, 11, 2, 9, 5, 3, 7*int(time.Millisecond)+999, time.UTC)
	require.Equal(t, "2023-11-02 09-05-03-007", FormatTimestamp(ts))
}

func TestLabelRowsWithoutReading(t *testing.T) {
	rows := LabelRows(time.Unix(0, 0).UTC(), protocol.EMGBatch{
		ChannelA: []uint16{4095, 0},
		ChannelB: []uint16{1, 2},
	}, "3", nil)
	require.Equal(t, [][]string{
		{"1970-01-01 00-00-00-000", "4095", "1", "3"},
		{"", "0", "2", "3"},
	}, rows)
}
