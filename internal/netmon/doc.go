// Package netmon tracks upstream reachability through a periodic probe and
// observed request outcomes, exposing a single online boolean plus a
// subscription interface that emits one event per transition.
package netmon
