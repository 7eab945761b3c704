// Package server receives control-channel requests, classifies them and
// routes each to its handler. A bounded worker pool consumes datagrams
// concurrently; the storage layer serializes the record mutations.
package server
