// Package offline composes the queue, connectivity monitor, upstream client,
// sync engine, and read cache into a single service the daemon hosts.
package offline
