// Package local provides single-process implementations of the lock, bus,
// cache and rate-limit interfaces, used when Redis is disabled and in tests.
package local
