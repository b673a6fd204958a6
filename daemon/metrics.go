package daemon

import (
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// metricCollector adapts a fixed slice of already-built samples to the
// prometheus.Collector interface, the shape the teacher's own
// cmd/tcgdiskstat uses for a one-shot metrics dump rather than a live
// registry of dynamic collectors.
type metricCollector struct {
	m []prometheus.Metric
}

func (mc *metricCollector) Collect(c chan<- prometheus.Metric) {
	for _, m := range mc.m {
		c <- m
	}
}

func (mc *metricCollector) Describe(c chan<- *prometheus.Desc) {}

var (
	descSyncsTotal = prometheus.NewDesc(
		"palmsync_syncs_total",
		"Completed HotSync sessions by result",
		[]string{"result"}, nil,
	)
	descLastSync = prometheus.NewDesc(
		"palmsync_last_sync_timestamp_seconds",
		"Unix timestamp of the most recently completed sync",
		nil, nil,
	)
	descDBsBackedUp = prometheus.NewDesc(
		"palmsync_databases_backed_up_total",
		"Databases synced or backed up across the daemon's lifetime",
		nil, nil,
	)
	descConduitRuns = prometheus.NewDesc(
		"palmsync_conduit_runs_total",
		"Conduit invocations by flavor and exit status class",
		[]string{"flavor", "status_class"}, nil,
	)
)

// writeMetrics renders stats in Prometheus text-exposition format and
// writes it to path, atomically, so node_exporter's textfile collector
// never reads a half-written file. A blank path is a no-op.
func writeMetrics(path string, stats *Stats) error {
	if path == "" {
		return nil
	}

	mc := &metricCollector{}
	mc.m = append(mc.m, prometheus.MustNewConstMetric(descSyncsTotal, prometheus.CounterValue, float64(stats.syncsOK), "ok"))
	mc.m = append(mc.m, prometheus.MustNewConstMetric(descSyncsTotal, prometheus.CounterValue, float64(stats.syncsFailed), "failed"))
	mc.m = append(mc.m, prometheus.MustNewConstMetric(descLastSync, prometheus.GaugeValue, stats.lastSyncUnix))
	mc.m = append(mc.m, prometheus.MustNewConstMetric(descDBsBackedUp, prometheus.CounterValue, float64(stats.databasesDone)))
	for k, n := range stats.conduitRuns {
		mc.m = append(mc.m, prometheus.MustNewConstMetric(descConduitRuns, prometheus.CounterValue, float64(n), k.Flavor, k.StatusClass))
	}

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(mc)
	mfs, err := reg.Gather()
	if err != nil {
		return err
	}

	var b strings.Builder
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(&b, mf); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
