// Package harness provides a small set of built-in fuzz targets for
// `edgefuzz fuzz --target=<name>`, the Go analogue of the reference
// implementation's standalone per-library example scripts
// (examples/fuzz_xml, examples/fuzz_codeop, etc.): each wraps a single
// parser call and swallows the errors that parser is expected to return
// on malformed input, leaving only genuine panics as crashes.
package harness

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"net/url"

	"github.com/fluxfuzzer/edgefuzz/internal/fuzzworker"
	"github.com/fluxfuzzer/edgefuzz/internal/tracer"
)

// Named returns the built-in target registered under name, or false if
// no such target exists.
func Named(name string) (fuzzworker.Target, bool) {
	t, ok := registry[name]
	return t, ok
}

// Names lists every built-in target name, for --help text.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

var registry = map[string]fuzzworker.Target{
	"noop":         noop,
	"panic-prefix": panicPrefix,
	"xml":          fuzzXML,
	"json":         fuzzJSON,
	"url":          fuzzURL,
}

// noop never crashes; used to exercise max_runs/max_time stopping
// conditions without a real parser, matching spec.md's "lambda b: no-op"
// acceptance scenario.
func noop(data []byte, tr *tracer.LineTracer) {
	tr.Hit("harness/noop.go", 1)
}

// panicPrefix panics iff data starts with 0x2a, matching spec.md's
// "lambda b: raise if b starts with 0x2a" acceptance scenario.
func panicPrefix(data []byte, tr *tracer.LineTracer) {
	tr.Hit("harness/panic_prefix.go", 1)
	if len(data) > 0 && data[0] == 0x2a {
		tr.Hit("harness/panic_prefix.go", 2)
		panic("input starts with 0x2a")
	}
}

func fuzzXML(data []byte, tr *tracer.LineTracer) {
	tr.Hit("harness/xml.go", 1)
	var v any
	_ = xml.NewDecoder(bytes.NewReader(data)).Decode(&v)
}

func fuzzJSON(data []byte, tr *tracer.LineTracer) {
	tr.Hit("harness/json.go", 1)
	var v any
	_ = json.Unmarshal(data, &v)
}

func fuzzURL(data []byte, tr *tracer.LineTracer) {
	tr.Hit("harness/url.go", 1)
	_, _ = url.Parse(string(data))
}
