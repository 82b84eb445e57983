// Package httpapi is the HTTP ingress of the coordinator.
package httpapi
