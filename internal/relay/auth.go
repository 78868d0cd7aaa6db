package relay

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// Authorizer is the single operator predicate consulted by every
// administrative operation and by reply resolution.
type Authorizer struct {
	ops atomic.Pointer[map[int64]struct{}]
}

func NewAuthorizer(operators []int64) *Authorizer {
	a := &Authorizer{}
	a.Set(operators)
	return a
}

// Set replaces the operator set. Safe during hot reload.
func (a *Authorizer) Set(operators []int64) {
	m := make(map[int64]struct{}, len(operators))
	for _, id := range operators {
		if id != 0 {
			m[id] = struct{}{}
		}
	}
	a.ops.Store(&m)
}

func (a *Authorizer) IsOperator(id int64) bool {
	m := a.ops.Load()
	if m == nil {
		return false
	}
	_, ok := (*m)[id]
	return ok
}

// Operators returns the operator ids in ascending order.
func (a *Authorizer) Operators() []int64 {
	m := a.ops.Load()
	if m == nil {
		return nil
	}
	out := make([]int64, 0, len(*m))
	for id := range *m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (a *Authorizer) Require(id int64) error {
	if !a.IsOperator(id) {
		return fmt.Errorf("%w: user %d is not an operator", ErrUnauthorized, id)
	}
	return nil
}
