// Package metric exports encoder session metrics to Prometheus.
//
// A Collector reads the atomic counters of a session on every scrape, so no
// bookkeeping is needed on the hot path. NewServer serves a registry over
// HTTP for the command line tool.
package metric
