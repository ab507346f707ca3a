package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors shared by the backup and uptime engines.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	backups        *prometheus.CounterVec
	backupDuration prometheus.Histogram
	backupSize     *prometheus.GaugeVec
	evictions      prometheus.Counter
	probes         *prometheus.CounterVec
	probeLatency   prometheus.Histogram
	monitorUp      *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_backups_total",
			Help: "Backup runs by result",
		}, []string{"result"}),
		backupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "keeper_backup_duration_seconds",
			Help:    "Time spent writing an archive",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		backupSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "keeper_backup_size_bytes",
			Help: "Size of the most recent archive per instance",
		}, []string{"instance"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keeper_backup_evictions_total",
			Help: "Archives removed by retention",
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_probes_total",
			Help: "Uptime probes by protocol and status",
		}, []string{"protocol", "status"}),
		probeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "keeper_probe_latency_seconds",
			Help:    "Latency of successful probes",
			Buckets: prometheus.DefBuckets,
		}),
		monitorUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "keeper_monitor_up",
			Help: "1 if the last probe of the monitor succeeded",
		}, []string{"monitor"}),
	}
	reg.MustRegister(m.backups, m.backupDuration, m.backupSize, m.evictions, m.probes, m.probeLatency, m.monitorUp)
	return m
}

// RegisterJobGauge exposes the number of registered jobs.
func RegisterJobGauge(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "keeper_scheduled_jobs",
		Help: "Number of recurring jobs currently registered",
	}, func() float64 {
		return float64(count())
	}))
}

func (m *Metrics) ObserveBackup(instance string, took time.Duration, size int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.backups.WithLabelValues("error").Inc()
		return
	}
	m.backups.WithLabelValues("ok").Inc()
	m.backupDuration.Observe(took.Seconds())
	m.backupSize.WithLabelValues(instance).Set(float64(size))
}

func (m *Metrics) ObserveEvictions(n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.Add(float64(n))
}

func (m *Metrics) ObserveProbe(monitor, protocol string, up bool, latency time.Duration) {
	if m == nil {
		return
	}
	status, v := "down", 0.0
	if up {
		status, v = "up", 1.0
		m.probeLatency.Observe(latency.Seconds())
	}
	m.probes.WithLabelValues(protocol, status).Inc()
	m.monitorUp.WithLabelValues(monitor).Set(v)
}

func (m *Metrics) ForgetMonitor(monitor string) {
	if m == nil {
		return
	}
	m.monitorUp.DeleteLabelValues(monitor)
}

// NewServer creates an HTTP server serving /metrics and /healthz.
func NewServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
