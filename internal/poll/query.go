package poll

import (
	"context"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Query describes one remote read. Queries with equal keys share a cache line.
type Query[T any] struct {
	// Endpoint names the contract method, e.g. "details".
	Endpoint string
	// Args identify the line. A missing arg leaves the query disabled.
	Args []any
	// Interval is the refresh period; zero refetches only on demand.
	Interval time.Duration
	// Retry re-reads an on-demand line after a failed read. Zero disables it.
	Retry    time.Duration
	Disabled bool
	Fetch    func(ctx context.Context) (T, error)
}

// Key returns the cache key: endpoint plus formatted arguments.
func (q Query[T]) Key() string {
	parts := make([]string, 0, len(q.Args))
	for _, a := range q.Args {
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	return q.Endpoint + "(" + strings.Join(parts, ",") + ")"
}

// Enabled reports whether every argument is present and the query is not switched off.
func (q Query[T]) Enabled() bool {
	if q.Disabled || q.Fetch == nil {
		return false
	}
	for _, a := range q.Args {
		if !present(a) {
			return false
		}
	}
	return true
}

func present(a any) bool {
	switch v := a.(type) {
	case nil:
		return false
	case common.Address:
		return v != (common.Address{})
	case *common.Address:
		return v != nil && *v != (common.Address{})
	case *big.Int:
		return v != nil
	case string:
		return v != ""
	}
	rv := reflect.ValueOf(a)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return !rv.IsNil()
	}
	return true
}
