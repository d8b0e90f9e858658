// Package influxdb exports contact transitions to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library and implements the
// poll loop's Recorder hook. Every transition the bridge detects becomes
// one point:
//
//	contact_transition,channel=<n> open=<bool> <timestamp>
//
// The bridge never reads these points back; the detector always
// re-establishes its baseline from the hardware on start.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	poller, err := contact.NewPoller(contact.Options{
//	    ...
//	    Recorder: client,
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are non-blocking and batched according to config.yaml settings
// (batch_size, flush_interval). Async write failures are delivered to the
// callback registered with SetOnError.
package influxdb
