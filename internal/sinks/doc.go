// Package sinks implements concrete channel consumers such as Prometheus and
// structured logging. LogSink can be subscribed to any number of managers;
// PrometheusSink hands each scope its own ScopeSink.
package sinks
