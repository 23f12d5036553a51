package logutils

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/maruel/panicparse/stack"
	"github.com/rs/zerolog/log"
)

// PanicError carries a recovered panic as an error, with the goroutine dump
// captured at recovery time.
type PanicError struct {
	Reason string
	Stack  string

	GoroutineBuckets []*stack.Bucket
}

func (pe *PanicError) Error() string {
	return pe.Reason
}

// Pretty returns the reason followed by an aggregated goroutine dump.
func (pe *PanicError) Pretty() string {
	if len(pe.GoroutineBuckets) == 0 {
		return fmt.Sprintf("%s\n\n%s", pe.Reason, pe.Stack)
	}
	var b strings.Builder
	b.WriteString(pe.Reason)
	b.WriteString("\n")
	for _, bucket := range pe.GoroutineBuckets {
		fmt.Fprintf(&b, "\n%d: %s", len(bucket.IDs), bucket.State)
		if c := bucket.CreatedByString(false); c != "" {
			fmt.Fprintf(&b, " [created by %s]", c)
		}
		b.WriteString("\n")
		for _, call := range bucket.Signature.Stack.Calls {
			fmt.Fprintf(&b, "    %s  %s\n", call.SrcLine(), call.Func.PkgDotName())
		}
	}
	return b.String()
}

// WrapRecover converts a recover() result into a PanicError.
// Returns nil when r is nil, so it can be used unconditionally in defers.
func WrapRecover(r interface{}) *PanicError {
	if r == nil {
		return nil
	}
	reason := fmt.Sprintf("panic: %v", r)

	st := make([]byte, 1024)
	for {
		n := runtime.Stack(st, true)
		if n < len(st) {
			st = st[:n]
			break
		}
		st = make([]byte, 2*len(st))
	}
	c, err := stack.ParseDump(bytes.NewReader(st), os.Stdout, true)
	if err != nil {
		log.Warn().Err(err).Msg("unable to parse panic stacktrace")
		return &PanicError{
			Reason: reason,
			Stack:  string(st),
		}
	}
	return &PanicError{
		Reason:           reason,
		Stack:            string(st),
		GoroutineBuckets: stack.Aggregate(c.Goroutines, stack.AnyValue),
	}
}
