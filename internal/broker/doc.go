// Package broker abstracts the message transport between the coordinator
// and its replicas: direct exchanges, durable queues, and deliveries that
// are positively or negatively acknowledged.
package broker
