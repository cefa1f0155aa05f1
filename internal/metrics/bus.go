package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/veesix-networks/linkd/pkg/events"
)

// BusCollector exports the event bus counters at scrape time.
type BusCollector struct {
	bus events.Bus

	published   *prometheus.Desc
	dropped     *prometheus.Desc
	queueLength *prometheus.Desc
	subscribers *prometheus.Desc
}

func NewBusCollector(bus events.Bus) *BusCollector {
	return &BusCollector{
		bus: bus,
		published: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "events", "published_total"),
			"Events accepted by the in-process bus.", nil, nil),
		dropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "events", "dropped_total"),
			"Events dropped because the publish queue was full.", nil, nil),
		queueLength: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "events", "queue_length"),
			"Events waiting for dispatch.", nil, nil),
		subscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "events", "subscribers"),
			"Subscribers per topic.", []string{"topic"}, nil),
	}
}

func (c *BusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.published
	ch <- c.dropped
	ch <- c.queueLength
	ch <- c.subscribers
}

func (c *BusCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.bus.Stats()

	ch <- prometheus.MustNewConstMetric(c.published, prometheus.CounterValue, float64(s.Published))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(c.queueLength, prometheus.GaugeValue, float64(s.PublishChLen))
	for _, t := range s.Topics {
		ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(t.Subscribers), t.Topic)
	}
}
