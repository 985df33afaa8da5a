package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurement is the name of the stats measurement.
const measurement = "device_stats"

// PointWriter accepts points. *Client implements it.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// StatsSink writes stats objects as device_stats points.
type StatsSink struct {
	writer PointWriter
	tags   map[string]string
	now    func() time.Time
}

// NewStatsSink creates a sink tagging every point with serial and venue.
func NewStatsSink(w PointWriter, serial, venue string) *StatsSink {
	return &StatsSink{
		writer: w,
		tags: map[string]string{
			"serial": serial,
			"venue":  venue,
		},
		now: time.Now,
	}
}

// WriteStats writes the numeric and boolean leaves of stats as the fields of
// one point. Objects with no such leaves are skipped.
func (s *StatsSink) WriteStats(stats map[string]any) {
	fields := Flatten(stats)
	if len(fields) == 0 {
		return
	}
	s.writer.WritePoint(write.NewPoint(measurement, s.tags, fields, s.now()))
}

// Flatten collects the numeric and boolean leaves of a decoded JSON object,
// keyed by their dotted path. Array elements use their index as the key.
func Flatten(obj map[string]any) map[string]any {
	fields := make(map[string]any)
	for k, v := range obj {
		flatten(fields, k, v)
	}
	return fields
}

func flatten(fields map[string]any, key string, v any) {
	switch v := v.(type) {
	case float64, bool:
		fields[key] = v
	case map[string]any:
		for k, child := range v {
			flatten(fields, key+"."+k, child)
		}
	case []any:
		for i, child := range v {
			flatten(fields, key+"."+strconv.Itoa(i), child)
		}
	}
}
