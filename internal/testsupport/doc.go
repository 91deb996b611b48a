// Package testsupport provides helpers for constructing temp-backed configs
// and stores in tests.
package testsupport
