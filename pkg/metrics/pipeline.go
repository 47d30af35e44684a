package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics counts issuance, ledger, verification and gateway outcomes.
type PipelineMetrics struct {
	issuance      *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	ledgerWrites  *prometheus.CounterVec
	verifications *prometheus.CounterVec
	gateways      *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline counters on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	issuance := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "issuance_total",
		Help: "Certificate issuance attempts by outcome.",
	}, []string{"outcome"})
	stageFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "issuance_stage_failures_total",
		Help: "Issuance failures by pipeline stage.",
	}, []string{"stage"})
	ledgerWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_writes_total",
		Help: "Ledger writes by origin.",
	}, []string{"origin"})
	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verifications_total",
		Help: "Verification attempts by method, provenance and outcome.",
	}, []string{"method", "provenance", "outcome"})
	gateways := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_attempts_total",
		Help: "Document gateway fetch attempts by gateway and result.",
	}, []string{"gateway", "result"})
	reg.MustRegister(issuance, stageFailures, ledgerWrites, verifications, gateways)
	return &PipelineMetrics{
		issuance:      issuance,
		stageFailures: stageFailures,
		ledgerWrites:  ledgerWrites,
		verifications: verifications,
		gateways:      gateways,
	}
}

func (p *PipelineMetrics) IncIssuance(outcome string) {
	if p == nil || p.issuance == nil {
		return
	}
	p.issuance.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (p *PipelineMetrics) IncStageFailure(stage string) {
	if p == nil || p.stageFailures == nil {
		return
	}
	p.stageFailures.WithLabelValues(normalizeLabel(stage)).Inc()
}

func (p *PipelineMetrics) IncLedgerWrite(origin string) {
	if p == nil || p.ledgerWrites == nil {
		return
	}
	p.ledgerWrites.WithLabelValues(normalizeLabel(origin)).Inc()
}

// IncVerification records one verification attempt. An empty provenance is
// reported as "none" since unresolved attempts never reach the ledger.
func (p *PipelineMetrics) IncVerification(method, provenance string, success bool) {
	if p == nil || p.verifications == nil {
		return
	}
	if provenance == "" {
		provenance = "none"
	}
	outcome := "failed"
	if success {
		outcome = "success"
	}
	p.verifications.WithLabelValues(normalizeLabel(method), provenance, outcome).Inc()
}

func (p *PipelineMetrics) IncGatewayAttempt(gateway, result string) {
	if p == nil || p.gateways == nil {
		return
	}
	p.gateways.WithLabelValues(normalizeLabel(gateway), normalizeLabel(result)).Inc()
}
