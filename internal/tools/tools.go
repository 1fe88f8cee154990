// Package tools provides the agent's tool registry and its two built-in
// tools: a weather lookup and a calculator.
//
// The registry is a fixed, statically known mapping from tool name to
// implementation. Tools never return errors to their caller: whatever goes
// wrong internally is folded into a human-readable result string so the
// dispatch loop always has something to append. Unknown tool names are
// skipped silently: models sometimes hallucinate names, and tolerating that
// beats failing the request.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"google.golang.org/genai"

	"github.com/calyptra/sage/internal/log"
)

// Tool is one callable exposed to the model.
type Tool interface {
	// Name is the unique identifier the model calls the tool by.
	Name() string

	// Declaration describes the tool and its parameter schema for the
	// model's function-calling interface.
	Declaration() *genai.FunctionDeclaration

	// Execute runs the tool. It never fails: internal errors come back as
	// readable failure text.
	Execute(ctx context.Context, args map[string]any) string
}

// Call is one tool-invocation request from the model.
type Call struct {
	Name string
	Args map[string]any
}

// DedupKey returns the canonical identity of the call: name plus a
// deterministic serialization of the arguments. encoding/json emits map keys
// in sorted order, which makes the serialization canonical for our purposes.
func (c Call) DedupKey() string {
	args, err := json.Marshal(c.Args)
	if err != nil {
		// Arguments that cannot be serialized cannot collide either; fall
		// back to a fingerprint of the sorted key set.
		keys := make([]string, 0, len(c.Args))
		for k := range c.Args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Sprintf("%s!%v", c.Name, keys)
	}
	return c.Name + ":" + string(args)
}

// Result is the outcome of one dispatched call.
type Result struct {
	Name string // tool name
	Text string // tool output, or readable failure text
}

// Registry maps tool names to implementations.
//
// Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	tools  map[string]Tool
	order  []string // declaration order, kept stable for the model
	logger log.Logger
}

// NewRegistry creates a registry over the given tools.
func NewRegistry(logger log.Logger, tools ...Tool) *Registry {
	r := &Registry{
		tools:  make(map[string]Tool, len(tools)),
		logger: logger,
	}
	for _, t := range tools {
		if _, dup := r.tools[t.Name()]; dup {
			continue
		}
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return r
}

// Declarations returns the tool schemas in the form the generation request
// wants: a single genai.Tool carrying every function declaration.
func (r *Registry) Declarations() []*genai.Tool {
	if len(r.order) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.tools[name].Declaration())
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// Dispatch executes one round's worth of calls.
//
// Calls are deduplicated by DedupKey first: a repeated call executes the
// underlying tool once, and its result is shared. Unique calls run
// concurrently (they are independent) and Dispatch returns only when all
// have completed, with results in first-occurrence order. Calls naming an
// unknown tool produce no result.
func (r *Registry) Dispatch(ctx context.Context, calls []Call) []Result {
	type slot struct {
		tool Tool
		call Call
	}

	seen := make(map[string]bool, len(calls))
	var slots []slot
	for _, call := range calls {
		key := call.DedupKey()
		if seen[key] {
			r.logger.Debug("duplicate tool call collapsed", "tool", call.Name, "key", key)
			continue
		}
		seen[key] = true

		tool, ok := r.tools[call.Name]
		if !ok {
			r.logger.Warn("unknown tool requested, skipping", "tool", call.Name)
			continue
		}
		slots = append(slots, slot{tool: tool, call: call})
	}

	results := make([]Result, len(slots))
	var wg sync.WaitGroup
	for i, s := range slots {
		wg.Add(1)
		go func(i int, s slot) {
			defer wg.Done()
			results[i] = Result{
				Name: s.call.Name,
				Text: s.tool.Execute(ctx, s.call.Args),
			}
		}(i, s)
	}
	wg.Wait()

	return results
}

// stringArg extracts a string argument by name, untouched; tools decide
// their own normalization.
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
