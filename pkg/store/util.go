package store

import (
	"context"
	"time"

	"github.com/lib/pq"
)

func newTimeoutCtx(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// int64ArrayParam wraps a slice of int64 peer ids as a Postgres array
// parameter for ANY($1)-style queries, the same pq.Array idiom the teacher
// uses for its excludedTopics and batch-id queries.
func int64ArrayParam(ids []int64) interface{} {
	return pq.Array(ids)
}
