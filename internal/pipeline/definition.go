// Package pipeline implements the graph-based dataflow engine: loading a
// pipeline definition, deriving its element graph, running per-stream
// frame traversal across local and remote elements, and the built-in
// Metrics and Inspect elements.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/geekscape/aiko-services/internal/sexp"
	"github.com/geekscape/aiko-services/internal/service"
)

// Port names and types one element input or output.
type Port struct {
	Name string
	Type string
}

// LocalDeploy loads an element as in-process Go code.
type LocalDeploy struct {
	Module    string
	ClassName string
}

// RemoteDeploy routes an element's frames to a service discovered through
// the Registrar (scenario 5).
type RemoteDeploy struct {
	ServiceFilter service.Filter
	Module        string
}

// Deploy is a union: exactly one of Local or Remote is set.
type Deploy struct {
	Local  *LocalDeploy
	Remote *RemoteDeploy
}

// ElementDef is one node of a pipeline graph: its ports, parameters, and
// how it is deployed.
type ElementDef struct {
	Name       string
	Input      []Port
	Output     []Port
	Parameters map[string]sexp.Value
	Deploy     Deploy
}

// Definition is a complete, loaded pipeline: its graph expressions, its
// pipeline-wide parameters, and its element table.
type Definition struct {
	Version    int64
	Name       string
	Runtime    string
	Graph      []string
	Parameters map[string]sexp.Value
	Elements   []ElementDef
}

type jsonPort struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type jsonLocalDeploy struct {
	Module    string `json:"module"`
	ClassName string `json:"class_name"`
}

type jsonRemoteFilter struct {
	TopicPath string   `json:"topic_path"`
	Name      string   `json:"name"`
	Owner     string   `json:"owner"`
	Protocol  string   `json:"protocol"`
	Transport string   `json:"transport"`
	Tags      []string `json:"tags"`
}

type jsonRemoteDeploy struct {
	ServiceFilter jsonRemoteFilter `json:"service_filter"`
	Module        string           `json:"module"`
}

type jsonDeploy struct {
	Local  *jsonLocalDeploy  `json:"local"`
	Remote *jsonRemoteDeploy `json:"remote"`
}

type jsonElementDef struct {
	Name       string                 `json:"name"`
	Input      []jsonPort             `json:"input"`
	Output     []jsonPort             `json:"output"`
	Parameters map[string]interface{} `json:"parameters"`
	Deploy     jsonDeploy             `json:"deploy"`
}

type jsonDefinition struct {
	Version    int64                  `json:"version"`
	Name       string                 `json:"name"`
	Runtime    string                 `json:"runtime"`
	Graph      []string               `json:"graph"`
	Parameters map[string]interface{} `json:"parameters"`
	Elements   []jsonElementDef       `json:"elements"`
}

// LoadFile reads and decodes a JSON pipeline definition. Unknown
// keys, including any "# comment" keys a hand-edited file carries, are
// silently ignored by encoding/json's default decoding.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	var jd jsonDefinition
	if err := json.Unmarshal(data, &jd); err != nil {
		return nil, fmt.Errorf("pipeline: parse %s: %w", path, err)
	}
	return fromJSON(jd)
}

func fromJSON(jd jsonDefinition) (*Definition, error) {
	def := &Definition{
		Version:    jd.Version,
		Name:       jd.Name,
		Runtime:    jd.Runtime,
		Graph:      jd.Graph,
		Parameters: goMapToSValueMap(jd.Parameters),
	}
	for _, je := range jd.Elements {
		ed, err := elementDefFromJSON(je)
		if err != nil {
			return nil, err
		}
		def.Elements = append(def.Elements, ed)
	}
	return def, nil
}

func elementDefFromJSON(je jsonElementDef) (ElementDef, error) {
	ed := ElementDef{
		Name:       je.Name,
		Input:      portsFromJSON(je.Input),
		Output:     portsFromJSON(je.Output),
		Parameters: goMapToSValueMap(je.Parameters),
	}

	switch {
	case je.Deploy.Local != nil:
		ed.Deploy.Local = &LocalDeploy{
			Module:    je.Deploy.Local.Module,
			ClassName: je.Deploy.Local.ClassName,
		}
	case je.Deploy.Remote != nil:
		f := je.Deploy.Remote.ServiceFilter
		ed.Deploy.Remote = &RemoteDeploy{
			Module: je.Deploy.Remote.Module,
			ServiceFilter: service.Filter{
				TopicPath: defaultStar(f.TopicPath),
				Name:      defaultStar(f.Name),
				Owner:     defaultStar(f.Owner),
				Protocol:  defaultStar(f.Protocol),
				Transport: defaultStar(f.Transport),
				Tags:      f.Tags,
			},
		}
	default:
		return ElementDef{}, fmt.Errorf("pipeline: element %q declares no deploy target", je.Name)
	}
	return ed, nil
}

func portsFromJSON(ps []jsonPort) []Port {
	out := make([]Port, 0, len(ps))
	for _, p := range ps {
		out = append(out, Port{Name: p.Name, Type: p.Type})
	}
	return out
}

func defaultStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

func goMapToSValueMap(m map[string]interface{}) map[string]sexp.Value {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]sexp.Value, len(m))
	for k, v := range m {
		out[k] = goToSValue(v)
	}
	return out
}

func goToSValue(v interface{}) sexp.Value {
	switch t := v.(type) {
	case nil:
		return sexp.Null()
	case bool:
		return sexp.Bool(t)
	case string:
		return sexp.Str(t)
	case float64:
		if t == float64(int64(t)) {
			return sexp.Int(int64(t))
		}
		return sexp.Float(t)
	case []interface{}:
		items := make([]sexp.Value, 0, len(t))
		for _, e := range t {
			items = append(items, goToSValue(e))
		}
		return sexp.List(items...)
	case map[string]interface{}:
		m := sexp.NewOrderedMap()
		for k, e := range t {
			m.Set(sexp.Sym(k), goToSValue(e))
		}
		return sexp.Map(m)
	default:
		return sexp.Null()
	}
}

// LoadText parses the S-expression variant of a pipeline definition,
// sharing the JSON schema's field names, for hand-authored pipelines
// ( "equivalent S-expression form").
func LoadText(text string) (*Definition, error) {
	v, err := sexp.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parse: %w", err)
	}
	if v.Kind != sexp.KindMap {
		return nil, fmt.Errorf("pipeline: definition must be a keyed list")
	}

	def := &Definition{}
	if n, ok := getInt(v.Map, "version"); ok {
		def.Version = n
	}
	if s, ok := getStr(v.Map, "name"); ok {
		def.Name = s
	}
	if s, ok := getStr(v.Map, "runtime"); ok {
		def.Runtime = s
	}
	if gv, ok := v.Map.Get("graph"); ok && gv.Kind == sexp.KindList {
		for _, expr := range gv.List {
			def.Graph = append(def.Graph, sexp.Serialize(expr))
		}
	}
	if pv, ok := v.Map.Get("parameters"); ok && pv.Kind == sexp.KindMap {
		def.Parameters = sValueMapToGo(pv.Map)
	}
	if ev, ok := v.Map.Get("elements"); ok && ev.Kind == sexp.KindList {
		for _, item := range ev.List {
			ed, err := elementDefFromSexp(item)
			if err != nil {
				return nil, err
			}
			def.Elements = append(def.Elements, ed)
		}
	}
	return def, nil
}

func sValueMapToGo(m *sexp.OrderedMap) map[string]sexp.Value {
	out := make(map[string]sexp.Value, m.Len())
	m.Each(func(k, val sexp.Value) {
		ks, _ := k.AsString()
		out[ks] = val
	})
	return out
}

func elementDefFromSexp(v sexp.Value) (ElementDef, error) {
	if v.Kind != sexp.KindMap {
		return ElementDef{}, fmt.Errorf("pipeline: element definition must be a keyed list")
	}
	ed := ElementDef{}
	if s, ok := getStr(v.Map, "name"); ok {
		ed.Name = s
	}
	if pv, ok := v.Map.Get("input"); ok && pv.Kind == sexp.KindList {
		ed.Input = portsFromSexp(pv.List)
	}
	if pv, ok := v.Map.Get("output"); ok && pv.Kind == sexp.KindList {
		ed.Output = portsFromSexp(pv.List)
	}
	if pv, ok := v.Map.Get("parameters"); ok && pv.Kind == sexp.KindMap {
		ed.Parameters = sValueMapToGo(pv.Map)
	}

	dv, ok := v.Map.Get("deploy")
	if !ok || dv.Kind != sexp.KindMap {
		return ElementDef{}, fmt.Errorf("pipeline: element %q declares no deploy target", ed.Name)
	}
	if lv, ok := dv.Map.Get("local"); ok && lv.Kind == sexp.KindMap {
		ld := &LocalDeploy{}
		if s, ok := getStr(lv.Map, "module"); ok {
			ld.Module = s
		}
		if s, ok := getStr(lv.Map, "class_name"); ok {
			ld.ClassName = s
		}
		ed.Deploy.Local = ld
	} else if rv, ok := dv.Map.Get("remote"); ok && rv.Kind == sexp.KindMap {
		rd := &RemoteDeploy{
			ServiceFilter: service.Filter{TopicPath: "*", Name: "*", Owner: "*", Protocol: "*", Transport: "*"},
		}
		if s, ok := getStr(rv.Map, "module"); ok {
			rd.Module = s
		}
		if fv, ok := rv.Map.Get("service_filter"); ok && fv.Kind == sexp.KindMap {
			if s, ok := getStr(fv.Map, "topic_path"); ok {
				rd.ServiceFilter.TopicPath = defaultStar(s)
			}
			if s, ok := getStr(fv.Map, "name"); ok {
				rd.ServiceFilter.Name = defaultStar(s)
			}
			if s, ok := getStr(fv.Map, "owner"); ok {
				rd.ServiceFilter.Owner = defaultStar(s)
			}
			if s, ok := getStr(fv.Map, "protocol"); ok {
				rd.ServiceFilter.Protocol = defaultStar(s)
			}
			if s, ok := getStr(fv.Map, "transport"); ok {
				rd.ServiceFilter.Transport = defaultStar(s)
			}
		}
		ed.Deploy.Remote = rd
	} else {
		return ElementDef{}, fmt.Errorf("pipeline: element %q declares no deploy target", ed.Name)
	}
	return ed, nil
}

func portsFromSexp(items []sexp.Value) []Port {
	out := make([]Port, 0, len(items))
	for _, it := range items {
		if it.Kind != sexp.KindMap {
			continue
		}
		p := Port{}
		if s, ok := getStr(it.Map, "name"); ok {
			p.Name = s
		}
		if s, ok := getStr(it.Map, "type"); ok {
			p.Type = s
		}
		out = append(out, p)
	}
	return out
}

func getStr(m *sexp.OrderedMap, key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

func getInt(m *sexp.OrderedMap, key string) (int64, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	return v.AsInt64()
}
