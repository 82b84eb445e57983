// Package message defines the JSON bodies exchanged with replicas over the
// broker and validates inbound replies.
package message
