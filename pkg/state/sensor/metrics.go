package sensor

import "github.com/prometheus/client_golang/prometheus"

var (
	usageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clipshare_sensor_usage_percent",
		Help: "Last disk or memory usage reading.",
	}, []string{"resource"})
	alertGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clipshare_sensor_alert",
		Help: "1 while the resource alert is raised.",
	}, []string{"resource"})
)

func init() {
	prometheus.MustRegister(usageGauge, alertGauge)
}
