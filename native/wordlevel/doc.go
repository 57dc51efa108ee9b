// Package wordlevel is a pure Go tokenizer engine implementing
// native.Library.
//
// It reads the WordLevel subset of the tokenizer.json format and hands out
// generation-tagged handles from a resource.Table, the same handle protocol
// the shared library speaks. It lets the binding run without a native
// artifact and is what the binding's tests use.
//
//	e := wordlevel.New()
//	e.RegisterDefinition("demo", wordlevel.NewDefinition("hello", "world"))
//	h := e.FromPretrained("demo", native.Params{})
package wordlevel
