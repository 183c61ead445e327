package hub

import "github.com/prometheus/client_golang/prometheus"

var (
	subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clipshare_hub_subscribers",
		Help: "Push connections currently registered.",
	})
	subscribersDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipshare_hub_subscribers_dropped_total",
		Help: "Push connections removed after a failed or slow write.",
	})
	itemsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipshare_hub_items_published_total",
		Help: "Items handed to the hub for fanout.",
	})
	itemsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipshare_hub_items_delivered_total",
		Help: "Item writes that reached a connection.",
	})
)

func init() {
	prometheus.MustRegister(subscribers, subscribersDropped, itemsPublished, itemsDelivered)
}
