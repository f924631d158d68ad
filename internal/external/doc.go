// Package external is the module's entire boundary to the outside
// world: every interface here is exactly what spec.md §6 names — LLM
// gateway, vector memory, object/stream storage, KMS/secrets, and a
// read-through certificate cache — and nothing more. The core never
// imports a cloud vendor's SDK directly; it imports one of these
// narrow interfaces, and this package is the only place a concrete
// client lives.
//
// Each interface gets exactly one production-shaped implementation
// wired to a real library from the module's dependency stack
// (anthropic-sdk-go, go-redis) and, where a concrete SDK would be the
// wrong thing to hard-code (object storage, vector memory — per
// spec.md's non-goal on per-cloud SDK bindings), an in-memory
// implementation instead that this package's own tests exercise (and,
// for object storage, the CLI's incidents and serve subcommands) in
// place of a vendor client.
package external
