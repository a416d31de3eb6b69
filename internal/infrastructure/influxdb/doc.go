// Package influxdb provides the optional time-series mirror for telemetry.
//
// It wraps the official influxdb-client-go v2 library. SQLite is the
// primary store for every reading; when the mirror is enabled, sensor
// readings and device status reports are additionally written to an
// InfluxDB bucket for dashboards and long term retention.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // ErrDisabled when the mirror is off; not a failure
//	}
//	defer client.Close()
//
//	client.WriteSensorReading("esp32-greenhouse-01",
//	    map[string]float64{"temperature": 21.5, "humidity": 48}, time.Now())
//
// # Error Handling
//
// Writes are non-blocking and batched; write errors are delivered
// asynchronously via SetOnError. A mirror failure is logged and never
// fails the ingest request that triggered it.
package influxdb
