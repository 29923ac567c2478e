// Package feed decodes the external inputs: the lecture XML feed and the
// reservation portal's HTML pages, and fetches both over HTTP.
package feed

import "fmt"

// ParseError describes one malformed record. The record is skipped and its
// siblings are still read.
type ParseError struct {
	// Kind is "lecture", "building", "reservation" or "timestamp".
	Kind string
	// Index is the 0-based position of the record, or -1 for the document.
	Index  int
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("feed: malformed %s", e.Kind)
	if e.Index >= 0 {
		msg += fmt.Sprintf(" #%d", e.Index)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
