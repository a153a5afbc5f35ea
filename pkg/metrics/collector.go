package metrics

import (
	"time"

	"github.com/containerkit/netcore/pkg/device"
	"github.com/containerkit/netcore/pkg/natpool"
	"github.com/containerkit/netcore/pkg/netlinkclient"
	"github.com/containerkit/netcore/pkg/netns"
)

// Collector periodically samples the namespace registry into the
// package's gauges. Grounded on cuemby-warren's Collector (ticker-driven
// Start/Stop with a stop channel, one collect* helper per metric
// group), adapted from cluster/service/Raft polling to link/class/
// NAT-pool polling.
type Collector struct {
	registry *netns.Registry
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector builds a collector over the given namespace registry.
func NewCollector(registry *netns.Registry, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{registry: registry, interval: interval, stopCh: make(chan struct{})}
}

// Start begins periodic collection in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	namespaces := c.registry.Snapshot()
	NamespacesTracked.Set(float64(len(namespaces)))

	for _, ns := range namespaces {
		collectDeviceMetrics(ns.Netlink(), ns.Devices())
		collectNATMetrics(ns.NAT())
	}
}

func collectDeviceMetrics(nl *netlinkclient.Client, inv *device.Inventory) {
	if nl == nil || inv == nil {
		return
	}
	for _, d := range inv.Devices() {
		if !d.Managed || d.Missing {
			continue
		}
		link, err := nl.LinkByName(d.Name)
		if err != nil {
			continue
		}
		if rx, err := nl.LinkStat(link, netlinkclient.StatRxBytes); err == nil {
			LinkRxBytes.WithLabelValues(d.Name).Set(float64(rx))
		}
		if tx, err := nl.LinkStat(link, netlinkclient.StatTxBytes); err == nil {
			LinkTxBytes.WithLabelValues(d.Name).Set(float64(tx))
		}
		if dropped, err := nl.LinkStat(link, netlinkclient.StatTxDropped); err == nil {
			LinkTxDropped.WithLabelValues(d.Name).Set(float64(dropped))
		}
	}
}

func collectNATMetrics(pool *natpool.Pool) {
	if pool == nil {
		return
	}
	NATSlotsInUse.Set(float64(pool.InUse()))
	NATSlotsCapacity.Set(float64(pool.Capacity()))
}
