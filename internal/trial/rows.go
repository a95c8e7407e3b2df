package trial

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rbright/griprig/internal/calibration"
	"github.com/rbright/griprig/internal/protocol"
)

// DebugKey is the recording key used while debug recording is on.
const DebugKey = "debugging"

// FormatTimestamp renders t as "2006-01-02 15-04-05-000" (millisecond suffix).
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15-04-05") + fmt.Sprintf("-%03d", t.Nanosecond()/int(time.Millisecond))
}

// LabelRows lays out one EMG batch as CSV rows: timestamp, channel A,
// channel B, label, then reading columns. The timestamp and reading values
// occupy the first row only; other rows leave those cells empty.
func LabelRows(ts time.Time, batch protocol.EMGBatch, label string, reading *calibration.Reading) [][]string {
	var extra []float64
	if reading != nil {
		extra = reading.Columns()
	}

	n := batch.Len()
	rows := make([][]string, n)
	for i := range n {
		row := make([]string, 4+len(extra))
		if i == 0 {
			row[0] = FormatTimestamp(ts)
			for j, v := range extra {
				row[4+j] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
		row[1] = strconv.FormatUint(uint64(batch.ChannelA[i]), 10)
		row[2] = strconv.FormatUint(uint64(batch.ChannelB[i]), 10)
		row[3] = label
		rows[i] = row
	}
	return rows
}
