// Package codec implements the line codec spoken by the encoder controller.
//
// The controller firmware accepts single-character commands and answers with
// newline-terminated ASCII lines. Outside of command responses it streams
// telemetry lines made of ';'-separated "Label:value" fields:
//
//	;Index:12;Count:4096
//
// Field order is not fixed. All functions in this package are pure and safe
// for concurrent use.
package codec
