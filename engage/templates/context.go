package templates

import (
	"strings"
	"time"
)

// Resolves condition fields. The second return is false when the field is unknown or absent; an
// absent field never satisfies a condition.
type Context interface {
	Lookup(field string) (any, bool)
}

// Typed context populated by the schedulers. Fields are resolved through a fixed accessor table
// rather than reflection.
type Record struct {
	Text           string
	AuthorID       string
	AuthorHandle   string
	ConversationID string
	ThreadDepth    int
	Topic          string
	Special        bool
	Now            time.Time
}

var recordFields = map[string]func(r *Record) (any, bool){
	"text":            func(r *Record) (any, bool) { return r.Text, r.Text != "" },
	"author.id":       func(r *Record) (any, bool) { return r.AuthorID, r.AuthorID != "" },
	"author.handle":   func(r *Record) (any, bool) { return r.AuthorHandle, r.AuthorHandle != "" },
	"conversation.id": func(r *Record) (any, bool) { return r.ConversationID, r.ConversationID != "" },
	"thread.depth":    func(r *Record) (any, bool) { return r.ThreadDepth, true },
	"topic":           func(r *Record) (any, bool) { return r.Topic, r.Topic != "" },
	"special":         func(r *Record) (any, bool) { return r.Special, true },
	"time.hour":       func(r *Record) (any, bool) { return r.Now.Hour(), !r.Now.IsZero() },
	"time.weekday":    func(r *Record) (any, bool) { return r.Now.Weekday().String(), !r.Now.IsZero() },
}

func (r *Record) Lookup(field string) (any, bool) {
	fn, ok := recordFields[field]
	if !ok {
		return nil, false
	}
	return fn(r)
}

// Flattened view of the record, using the same names as the condition fields. Used for prompt
// rendering.
func (r *Record) Vars() map[string]any {
	out := make(map[string]any)
	for name, fn := range recordFields {
		v, ok := fn(r)
		if !ok {
			continue
		}
		// pongo2 variable names can not contain dots
		out[strings.ReplaceAll(name, ".", "_")] = v
	}
	return out
}

// Untyped context with dotted-path lookups into nested maps, eg "a.b.c".
type Map map[string]any

func (m Map) Lookup(field string) (any, bool) {
	var cur any = map[string]any(m)
	for _, part := range strings.Split(field, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			if mm, isMap := cur.(Map); isMap {
				node = mm
			} else {
				return nil, false
			}
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}
