// Package service implements the Service and Registrar capabilities: the
// base polymorphic identity every actor and pipeline is built on, and the
// distinguished Service that tracks the live set of them through a
// resolve-identity -> connect -> register -> configure startup sequence
// backed by retained-message discovery and a mutex-guarded record map.
package service

import (
	"github.com/geekscape/aiko-services/internal/sexp"
)

// Record is the discoverable identity of one Service : its topic
// path, name, owner, protocol, transport, and tag set.
type Record struct {
	TopicPath string
	Name      string
	Owner     string
	Protocol  string
	Transport string
	Tags      []string // "key=value"
}

// Filter has the same shape as Record, but every field may be the
// wildcard "*" (or left empty, treated the same way) to match any value.
type Filter struct {
	TopicPath string
	Name      string
	Owner     string
	Protocol  string
	Transport string
	Tags      []string
}

// MatchAll is the wildcard filter used for "discover every active
// service".
func MatchAll() Filter {
	return Filter{TopicPath: "*", Name: "*", Owner: "*", Protocol: "*", Transport: "*"}
}

func fieldMatches(want, have string) bool {
	return want == "" || want == "*" || want == have
}

// Match reports whether r satisfies every non-wildcard field of f, and
// whether every tag f names is present on r.
func (f Filter) Match(r Record) bool {
	if !fieldMatches(f.TopicPath, r.TopicPath) {
		return false
	}
	if !fieldMatches(f.Name, r.Name) {
		return false
	}
	if !fieldMatches(f.Owner, r.Owner) {
		return false
	}
	if !fieldMatches(f.Protocol, r.Protocol) {
		return false
	}
	if !fieldMatches(f.Transport, r.Transport) {
		return false
	}
	have := make(map[string]bool, len(r.Tags))
	for _, t := range r.Tags {
		have[t] = true
	}
	for _, want := range f.Tags {
		if want == "" || want == "*" {
			continue
		}
		if !have[want] {
			return false
		}
	}
	return true
}

// recordToValue encodes a Record as the S-expression list 
// (topic name owner protocol transport (tag=val …)).
func recordToValue(r Record) sexp.Value {
	tags := make([]sexp.Value, 0, len(r.Tags))
	for _, t := range r.Tags {
		tags = append(tags, sexp.Str(t))
	}
	return sexp.List(
		sexp.Str(r.TopicPath),
		sexp.Str(r.Name),
		sexp.Str(r.Owner),
		sexp.Str(r.Protocol),
		sexp.Str(r.Transport),
		sexp.List(tags...),
	)
}

// recordFromValue decodes the list form produced by recordToValue.
func recordFromValue(v sexp.Value) (Record, bool) {
	if v.Kind != sexp.KindList || len(v.List) < 5 {
		return Record{}, false
	}
	topicPath, _ := v.List[0].AsString()
	name, _ := v.List[1].AsString()
	owner, _ := v.List[2].AsString()
	protocol, _ := v.List[3].AsString()
	transportName, _ := v.List[4].AsString()

	rec := Record{TopicPath: topicPath, Name: name, Owner: owner, Protocol: protocol, Transport: transportName}
	if len(v.List) > 5 && v.List[5].Kind == sexp.KindList {
		for _, t := range v.List[5].List {
			if ts, ok := t.AsString(); ok {
				rec.Tags = append(rec.Tags, ts)
			}
		}
	}
	return rec, true
}
