package metricsx

import (
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/mmcloughlin/geohash"
)

// GeoCounter is like a *metrics.Counter, but split by location using
// geohashes. duskproto's listener uses one to bucket admitted connections
// by the geolocation of their remote address (see pkg/geoip).
type GeoCounter struct {
	level uint
	ctr   []*metrics.Counter
	unk   *metrics.Counter
	set   *metrics.Set
	base  string
	arg   string
}

// NewGeoCounter creates a new GeoCounter writing to metrics in set named name,
// with level chars in the geohash.
func NewGeoCounter(set *metrics.Set, name string, level uint) *GeoCounter {
	if h, p := geohash.ConvertStringToInt(strings.Repeat("z", int(level))); h != 1<<(5*level)-1 || p != 5*uint(level) {
		panic("geohash base32 assumption violated")
	}
	base, arg := splitName(name)
	return &GeoCounter{
		level: level,
		ctr:   make([]*metrics.Counter, 1<<(5*level)),
		unk:   set.NewCounter(formatName(base, arg, "geohash", "")),
		set:   set,
		base:  base,
		arg:   arg,
	}
}

// Inc increments the counter for the specified latitude and longitude.
func (c *GeoCounter) Inc(lat, lng float64) {
	c.Counter(lat, lng).Inc()
}

// IncUnknown increments the unknown counter, used when no location could be
// resolved for a remote address.
func (c *GeoCounter) IncUnknown() {
	c.unk.Inc()
}

// Counter gets the underlying counter for the specified latitude and longitude.
func (c *GeoCounter) Counter(lat, lng float64) *metrics.Counter {
	h := geohash.EncodeIntWithPrecision(lat, lng, c.level*5)
	if int(h) >= len(c.ctr) {
		return c.unk
	}
	m := c.ctr[h]
	if m == nil {
		m = c.set.NewCounter(formatName(c.base, c.arg, "geohash", geohash.EncodeWithPrecision(lat, lng, c.level)))
		c.ctr[h] = m
	}
	return m
}

// CounterUnknown gets the underlying counter for unknown positions.
func (c *GeoCounter) CounterUnknown() *metrics.Counter {
	return c.unk
}
