package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "retailbot"

// MessagingMetrics exposes counters/histograms for the webhook and ingest path.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "inbound_total",
			Help:      "Total inbound WhatsApp events by kind and ingest outcome",
		}, []string{"kind", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound WhatsApp sends",
		}, []string{"sender", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(kind, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(kind, status).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(sender, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(sender, status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(kind).Observe(seconds)
}

// EngineMetrics tracks conversation turns and escalations.
type EngineMetrics struct {
	turnsTotal     *prometheus.CounterVec
	turnLatency    *prometheus.HistogramVec
	handoffsTotal  *prometheus.CounterVec
	reasoningTotal *prometheus.CounterVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Inbound messages processed by the engine, by final stage and intent",
		}, []string{"stage", "intent", "replied"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "turn_latency_seconds",
			Help:      "Time spent handling one inbound message",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		handoffsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "handoffs_total",
			Help:      "Escalations to a human seller by reason",
		}, []string{"reason"}),
		reasoningTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "reasoning_total",
			Help:      "Language model classification attempts by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.turnLatency, m.handoffsTotal, m.reasoningTotal)
	return m
}

func (m *EngineMetrics) ObserveTurn(stage, intent string, replied bool, seconds float64) {
	if m == nil {
		return
	}
	label := "false"
	if replied {
		label = "true"
	}
	m.turnsTotal.WithLabelValues(stage, intent, label).Inc()
	m.turnLatency.WithLabelValues(stage).Observe(seconds)
}

func (m *EngineMetrics) ObserveHandoff(reason string) {
	if m == nil {
		return
	}
	m.handoffsTotal.WithLabelValues(reason).Inc()
}

// ObserveReasoning counts model calls; outcome is "ok" or "fallback".
func (m *EngineMetrics) ObserveReasoning(outcome string) {
	if m == nil {
		return
	}
	m.reasoningTotal.WithLabelValues(outcome).Inc()
}

// JobMetrics covers the reconciler and the follow-up poller.
type JobMetrics struct {
	ticksTotal     *prometheus.CounterVec
	sweptTotal     *prometheus.CounterVec
	followupsTotal *prometheus.CounterVec
}

func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	m := &JobMetrics{
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "reconcile_ticks_total",
			Help:      "Reconciler ticks by lock outcome",
		}, []string{"outcome"}),
		sweptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "reconciled_conversations_total",
			Help:      "Conversations returned to the bot by the reconciler",
		}, []string{"reason"}),
		followupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "followups_total",
			Help:      "Follow-up jobs by kind and outcome",
		}, []string{"kind", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.ticksTotal, m.sweptTotal, m.followupsTotal)
	return m
}

// ObserveTick records a tick; outcome is "acquired", "skipped" or "error".
func (m *JobMetrics) ObserveTick(outcome string) {
	if m == nil {
		return
	}
	m.ticksTotal.WithLabelValues(outcome).Inc()
}

func (m *JobMetrics) ObserveSwept(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptTotal.WithLabelValues(reason).Add(float64(n))
}

func (m *JobMetrics) ObserveFollowup(kind, status string) {
	if m == nil {
		return
	}
	m.followupsTotal.WithLabelValues(kind, status).Inc()
}
