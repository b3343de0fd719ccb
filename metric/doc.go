// Package metric exports controller and drain statistics to Prometheus.
//
// The Collector reads the counters the controller and drain task already
// keep, so producers pay nothing for being observed. Register it on a
// registry and serve the registry with Handler:
//
//	reg, err := metric.NewRegistry(metric.NewCollector(ctrl, task))
//	if err != nil {
//		return err
//	}
//	http.Handle("/metrics", metric.Handler(reg))
package metric
