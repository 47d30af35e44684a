package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetricsCountsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.IncIssuance("success")
	m.IncIssuance("success")
	m.IncStageFailure("DocumentUploaded")
	m.IncLedgerWrite("fallback")
	m.IncVerification("id", "", false)
	m.IncVerification("id", "ledger", true)
	m.IncGatewayAttempt("ipfs.io", "rejected")

	require.Equal(t, 2.0, testutil.ToFloat64(m.issuance.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.stageFailures.WithLabelValues("DocumentUploaded")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ledgerWrites.WithLabelValues("fallback")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.gateways.WithLabelValues("ipfs.io", "rejected")))

	require.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("id", "none", "failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("id", "ledger", "success")))
	require.Equal(t, 2, testutil.CollectAndCount(m.verifications, "verifications_total"))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Equal(t, 6, count)
}

func TestPipelineMetricsNilSafe(t *testing.T) {
	var m *PipelineMetrics
	m.IncIssuance("success")
	m.IncVerification("id", "ledger", true)
	NewPipelineMetrics(nil).IncGatewayAttempt("dweb.link", "accepted")
}
