package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cryguy/jsbridge/internal/core"
)

// memoryCollector reads engine allocator counters at scrape time.
type memoryCollector struct {
	read func() (core.MemoryUsage, error)

	mallocSize  *prometheus.Desc
	mallocLimit *prometheus.Desc
	usedSize    *prometheus.Desc
	objects     *prometheus.Desc
}

func newMemoryCollector(namespace string, labels prometheus.Labels, read func() (core.MemoryUsage, error)) *memoryCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "engine", name), help, nil, labels)
	}
	return &memoryCollector{
		read:        read,
		mallocSize:  desc("malloc_bytes", "Bytes currently allocated by the engine"),
		mallocLimit: desc("malloc_limit_bytes", "Engine heap limit in bytes, 0 when unlimited"),
		usedSize:    desc("memory_used_bytes", "Bytes in use by engine objects"),
		objects:     desc("objects", "Number of live engine objects"),
	}
}

func (c *memoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.mallocSize
	ch <- c.mallocLimit
	ch <- c.usedSize
	ch <- c.objects
}

func (c *memoryCollector) Collect(ch chan<- prometheus.Metric) {
	mu, err := c.read()
	if err != nil {
		// closed bridge
		return
	}
	ch <- prometheus.MustNewConstMetric(c.mallocSize, prometheus.GaugeValue, float64(mu.MallocSize))
	ch <- prometheus.MustNewConstMetric(c.mallocLimit, prometheus.GaugeValue, float64(max(mu.MallocLimit, 0)))
	ch <- prometheus.MustNewConstMetric(c.usedSize, prometheus.GaugeValue, float64(mu.MemoryUsedSize))
	ch <- prometheus.MustNewConstMetric(c.objects, prometheus.GaugeValue, float64(mu.ObjCount))
}
