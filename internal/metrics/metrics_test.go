package metrics_test

import (
	"io"
	"net/http"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpsvc"
	"github.com/AdguardTeam/AdGuardDHCP/internal/metrics"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

func TestDHCP(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	reg := prometheus.NewRegistry()

	m, err := metrics.NewDHCP(metrics.Namespace, reg)
	require.NoError(t, err)

	m.ObserveRequest(ctx, "v6", "SOLICIT", dhcpsvc.ResultReply, time.Millisecond)
	m.ObserveRequest(ctx, "v6", "SOLICIT", dhcpsvc.ResultReply, time.Millisecond)
	m.ObserveRequest(ctx, "v4", "malformed", dhcpsvc.ResultDrop, time.Millisecond)
	m.IncrementStatus(ctx, "v6", "NoAddrsAvail")
	m.IncrementQueueOverflow(ctx, "v4")
	m.IncrementDDNS(ctx, "fwd_add", true)
	m.IncrementDDNS(ctx, "fwd_add", false)
	m.IncrementDDNS(ctx, "fwd_add", false)
	m.AddExpired(ctx, 3)

	const want = `
# HELP adguard_dhcp_server_requests_total The number of processed DHCP messages by family, type, and result.
# TYPE adguard_dhcp_server_requests_total counter
adguard_dhcp_server_requests_total{family="v4",result="drop",type="malformed"} 1
adguard_dhcp_server_requests_total{family="v6",result="reply",type="SOLICIT"} 2
`
	err = promtestutil.GatherAndCompare(
		reg,
		strings.NewReader(want),
		"adguard_dhcp_server_requests_total",
	)
	require.NoError(t, err)

	cnt, err := promtestutil.GatherAndCount(reg, "adguard_dhcp_ddns_updates_total")
	require.NoError(t, err)

	assert.Equal(t, 2, cnt)

	t.Run("duplicate", func(t *testing.T) {
		_, err = metrics.NewDHCP(metrics.Namespace, reg)
		assert.Error(t, err)
	})

	t.Run("other_namespace", func(t *testing.T) {
		_, err = metrics.NewDHCP("other", reg)
		assert.NoError(t, err)
	})
}

func TestServer(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	reg := prometheus.NewRegistry()

	m, err := metrics.NewDHCP(metrics.Namespace, reg)
	require.NoError(t, err)

	m.AddExpired(ctx, 1)

	srv := metrics.NewServer(&metrics.ServerConfig{
		Logger:   slogutil.NewDiscardLogger(),
		Gatherer: reg,
		Addr:     netip.MustParseAddrPort("127.0.0.1:0"),
	})

	err = srv.Start(ctx)
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, func() (err error) {
		return srv.Shutdown(testutil.ContextWithTimeout(t, testTimeout))
	})

	addr := srv.LocalAddr()
	require.NotNil(t, addr)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		"http://"+addr.String()+metrics.PathMetrics,
		nil,
	)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, resp.Body.Close)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "adguard_dhcp_leases_expired_total 1")
}
