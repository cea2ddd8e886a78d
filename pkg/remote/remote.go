// Package remote defines the boundary to the hosted backend: table queries,
// mutations and RPC calls, plus realtime row-change subscriptions.
package remote

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client executes queries, mutations and RPC calls
type Client interface {
	Query(ctx context.Context, q Query) (*Result, error)
	Mutate(ctx context.Context, m Mutation) (*Result, error)
	RPC(ctx context.Context, fn string, args any) (*Result, error)
}

// Subscriber opens realtime channels for row changes
type Subscriber interface {
	Subscribe(ctx context.Context, topic Topic, h Handler) (Subscription, error)
}

// Subscription is an open channel for one topic. It is released exactly once.
type Subscription interface {
	Topic() Topic
	Unsubscribe() error
}

type readOnlyKey struct{}

// ReadOnly marks ctx as carrying a side-effect free call, so RPCs made with
// it may be retried like table reads
func ReadOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, readOnlyKey{}, true)
}

// IsReadOnly reports whether ctx was marked with ReadOnly
func IsReadOnly(ctx context.Context) bool {
	v, _ := ctx.Value(readOnlyKey{}).(bool)
	return v
}

// Filter is one PostgREST-style column predicate, e.g. recipient_id=eq.42
type Filter struct {
	Column string
	Op     string
	Value  string
}

// String renders the filter value part ("eq.42")
func (f Filter) String() string {
	return f.Op + "." + f.Value
}

// Eq matches column = value
func Eq(column string, value any) Filter { return Filter{Column: column, Op: "eq", Value: fmt.Sprint(value)} }

// Neq matches column <> value
func Neq(column string, value any) Filter {
	return Filter{Column: column, Op: "neq", Value: fmt.Sprint(value)}
}

// Gt matches column > value
func Gt(column string, value any) Filter { return Filter{Column: column, Op: "gt", Value: fmt.Sprint(value)} }

// Gte matches column >= value
func Gte(column string, value any) Filter {
	return Filter{Column: column, Op: "gte", Value: fmt.Sprint(value)}
}

// Lt matches column < value
func Lt(column string, value any) Filter { return Filter{Column: column, Op: "lt", Value: fmt.Sprint(value)} }

// Is matches column IS value (null, true, false)
func Is(column, value string) Filter { return Filter{Column: column, Op: "is", Value: value} }

// In matches column IN (values...)
func In(column string, values ...string) Filter {
	return Filter{Column: column, Op: "in", Value: "(" + strings.Join(values, ",") + ")"}
}

// Order sorts query results
type Order struct {
	Column string
	Desc   bool
}

// String renders the order clause ("created_at.desc")
func (o Order) String() string {
	if o.Desc {
		return o.Column + ".desc"
	}
	return o.Column + ".asc"
}

// Query reads rows from a table
type Query struct {
	Table   string
	Select  string
	Filters []Filter
	Order   []Order
	Limit   int
	Offset  int
	// Count asks for an exact row count alongside the rows.
	Count bool
	// Head returns only the count, no rows.
	Head bool
	// Single expects exactly one row and returns it as an object.
	Single bool
}

// MutationOp is the kind of write
type MutationOp string

const (
	OpInsert MutationOp = "insert"
	OpUpdate MutationOp = "update"
	OpUpsert MutationOp = "upsert"
	OpDelete MutationOp = "delete"
)

// Mutation writes rows to a table
type Mutation struct {
	Table   string
	Op      MutationOp
	Payload any
	Filters []Filter
	// OnConflict names the unique columns for upserts
	OnConflict string
	// Returning asks for the written rows in the response
	Returning bool
}

// Result is a raw response body plus the row count when requested
type Result struct {
	Body  []byte
	Count int
}

// Decode unmarshals the body into v
func (r *Result) Decode(v any) error {
	if r == nil || len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// NewResult encodes v as a result body
func NewResult(v any) (*Result, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Result{Body: body}, nil
}
