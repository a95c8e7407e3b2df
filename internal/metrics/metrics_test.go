package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetricsIsIdempotent(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordPacket("emg")
	RecordFramingError("imp")
	RecordUnsolicitedReply()
	RecordImpedanceOverwrites(2)
	RecordCommand("OPEN", "sent")
	RecordDataLoss()
	SetProgress(0.5)
	RecordRows("1_1", 25)
}

func TestSetLinkStateIsExclusive(t *testing.T) {
	SetLinkState("open")
	require.Equal(t, 1.0, testutil.ToFloat64(linkState.WithLabelValues("open")))
	require.Equal(t, 0.0, testutil.ToFloat64(linkState.WithLabelValues("closed")))

	SetLinkState("error")
	require.Equal(t, 0.0, testutil.ToFloat64(linkState.WithLabelValues("open")))
	require.Equal(t, 1.0, testutil.ToFloat64(linkState.WithLabelValues("error")))
}

func TestHandlerExposesRigMetrics(t *testing.T) {
	RecordDataLoss()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "griprig_trial_data_loss_warnings_total")
}

func TestServeStopsOnContextCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, listener) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}

func TestRecordImpedanceOverwritesAccumulates(t *testing.T) {
	before := testutil.ToFloat64(impedanceOverwrites)
	RecordImpedanceOverwrites(1)
	RecordImpedanceOverwrites(3)
	require.Equal(t, before+4, testutil.ToFloat64(impedanceOverwrites))
}
