package queue

import "errors"

// ErrStorageUnavailable indicates the durable store could not accept a write.
// Enqueue failures wrap this sentinel so callers can surface the loss to the
// user instead of silently dropping the mutation.
var ErrStorageUnavailable = errors.New("queue storage unavailable")

// ErrNotFound indicates the referenced mutation does not exist, either because
// the id was never assigned or the item was already removed.
var ErrNotFound = errors.New("mutation not found")
