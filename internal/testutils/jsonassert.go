package testutils

import (
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// PresencePlaceholder in expected JSON matches any actual value.
const PresencePlaceholder = "<<PRESENCE>>"

func MustJSON(v any) string {
	data, err := jsonAPI.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
	IgnoreArrayOrder         bool     `default:"false"`
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a new JSONAsserter with default options
func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies functional options to the JSONAsserter
func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Options returns a copy of the current options.
func (ja *JSONAsserter) Options() JSONAssertOptions {
	return ja.options
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertValue marshals v and compares it against expectedJSON.
func (ja *JSONAsserter) AssertValue(v any, expectedJSON string) {
	ja.Assert(MustJSON(v), expectedJSON)
}

// Diff returns a human readable diff, or "" when the documents match under
// the configured options.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := jsonAPI.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := jsonAPI.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root.
	if _, ok := expected.([]any); ok {
		expected = map[string]any{"array": expected}
		actual = map[string]any{"array": actual}
	}

	ignored := make(map[string]bool, len(ja.options.IgnoredFields))
	for _, f := range ja.options.IgnoredFields {
		ignored[f] = true
	}
	actual = ja.normalize(expected, actual, ignored)
	expected = dropFields(expected, ignored)

	// Sort after dropping ignored fields so they do not affect the order.
	if ja.options.IgnoreArrayOrder {
		sortArrays(expected)
		sortArrays(actual)
	}

	expectedBytes, _ := jsonAPI.Marshal(expected)
	actualBytes, _ := jsonAPI.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

// normalize rewrites actual so that it can be compared with expected: presence
// placeholders take the actual value, extra keys are pruned and ignored fields
// are dropped.
func (ja *JSONAsserter) normalize(expected, actual any, ignored map[string]bool) any {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return actual
		}
		out := make(map[string]any, len(act))
		for k, v := range act {
			if ignored[k] {
				continue
			}
			ev, inExpected := exp[k]
			if !inExpected {
				if !ja.options.IgnoreExtraKeys {
					out[k] = v
				}
				continue
			}
			if s, isStr := ev.(string); isStr && s == PresencePlaceholder && ja.options.AllowPresencePlaceholder {
				exp[k] = v
				out[k] = v
				continue
			}
			out[k] = ja.normalize(ev, v, ignored)
		}
		return out
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return actual
		}
		out := make([]any, len(act))
		for i := range act {
			if i < len(exp) {
				out[i] = ja.normalize(exp[i], act[i], ignored)
			} else {
				out[i] = act[i]
			}
		}
		return out
	}
	return actual
}

func dropFields(v any, ignored map[string]bool) any {
	switch t := v.(type) {
	case map[string]any:
		for k := range t {
			if ignored[k] {
				delete(t, k)
				continue
			}
			t[k] = dropFields(t[k], ignored)
		}
	case []any:
		for i := range t {
			t[i] = dropFields(t[i], ignored)
		}
	}
	return v
}

// sortArrays orders arrays by the JSON encoding of their elements.
func sortArrays(data any) {
	switch v := data.(type) {
	case map[string]any:
		for key := range v {
			sortArrays(v[key])
		}
	case []any:
		for _, elem := range v {
			sortArrays(elem)
		}
		sort.Slice(v, func(i, j int) bool {
			a, _ := jsonAPI.Marshal(v[i])
			b, _ := jsonAPI.Marshal(v[j])
			return string(a) < string(b)
		})
	}
}

func WithIgnoreExtraKeys(ignore bool) Option {
	return func(opts *JSONAssertOptions) { opts.IgnoreExtraKeys = ignore }
}

func WithAllowPresencePlaceholder(allow bool) Option {
	return func(opts *JSONAssertOptions) { opts.AllowPresencePlaceholder = allow }
}

// WithIgnoredFields drops the named keys at every level before comparing.
func WithIgnoredFields(fields ...string) Option {
	return func(opts *JSONAssertOptions) { opts.IgnoredFields = fields }
}

func WithIgnoreArrayOrder(ignore bool) Option {
	return func(opts *JSONAssertOptions) { opts.IgnoreArrayOrder = ignore }
}
