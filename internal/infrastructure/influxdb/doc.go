// Package influxdb writes collected device stats to InfluxDB.
//
// Connect pings the server once and opens the non-blocking, batched write
// API. A StatsSink flattens each stats object into the fields of one
// device_stats point tagged with the device serial and venue:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	sink := influxdb.NewStatsSink(client, serial, venue)
//	sink.WriteStats(map[string]any{"system": map[string]any{"uptime": 42.0}})
//
// Write errors surface asynchronously through SetOnError.
package influxdb
