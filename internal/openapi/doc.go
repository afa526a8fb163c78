// Package openapi converts OpenAPI v2 and v3 documents into UTCP manuals.
//
// The HTTP transport uses it as a discovery fallback: endpoints that serve
// an OpenAPI spec instead of a manual still register, with one tool per
// path/method operation. Security schemes map onto auth templates whose
// credentials are ${PROVIDER_*} placeholders, left for the configuration
// layer's variable substitution to resolve.
package openapi
