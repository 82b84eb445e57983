// Package storage provides the replica's local inventory store with an
// in-memory and a bolt-backed implementation. Every write bumps a per-product
// version; repairs overwrite with the coordinator's consensus value.
package storage
