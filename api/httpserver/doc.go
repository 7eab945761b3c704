// Package httpserver provides the operator-facing HTTP surface of the
// coordination engine.
//
// BaseServer carries the standard health endpoints (/livez, /readyz,
// /drain, /undrain), optional pprof, and the metrics server. Components
// contribute their own routes through the RouteRegistrar interface; the
// InspectionHandler exposes the account directory, auction catalog and
// subscription index as read-only JSON for operators. The control protocol
// itself never travels over HTTP.
package httpserver
