// Package devices implements the MQTT device backend.
//
// Devices announce themselves by publishing retained JSON state to
// {prefix}/device/{id}/state; the backend mirrors those messages into
// an in-memory shadow that serves discovery and state queries without
// a broker round trip. Commands are published with QoS 1 to
// {prefix}/device/{id}/cmd and correlated with the device's reply on
// {prefix}/device/{id}/ack by request id. Metric samples arrive on
// {prefix}/device/{id}/metric/{name} and are kept in a bounded ring
// per device and metric.
package devices
