package main

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// jqFilter keeps values for which every compiled jq expression is truthy.
type jqFilter struct {
	codes []*gojq.Code
}

func compileFilters(exprs []string) (*jqFilter, error) {
	f := &jqFilter{codes: make([]*gojq.Code, 0, len(exprs))}
	for _, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
		f.codes = append(f.codes, code)
	}
	return f, nil
}

// Match runs every filter against the JSON form of v.
func (f *jqFilter) Match(v interface{}) bool {
	if f == nil || len(f.codes) == 0 {
		return true
	}

	// gojq only accepts plain JSON values.
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}

	for _, code := range f.codes {
		iter := code.Run(doc)
		result, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := result.(error); isErr {
			return false
		}
		if !isTruthy(result) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
