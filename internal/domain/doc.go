// Package domain models the weekly per-region panel assembled by the ETL:
// regions, weekly observations, and the nullable numeric type shared by
// every fetcher and the assembler.
//
// # Region identity
//
// Regions are identified by NUTS codes (EU hierarchical statistical region
// identifiers, country → NUTS1 → NUTS2 → NUTS3) or, for whole countries
// sourced from Natural Earth, two-letter ISO codes. The code is the join
// key for every dataset in the pipeline; it is assigned once by the
// boundary builder and never reinterpreted downstream. Some codes differ
// between the boundary source and Eurostat (e.g. Natural Earth "GB" vs.
// Eurostat "UK"); the boundary package holds the alias table that
// reconciles them before the code ever reaches this package.
//
// # Weekly keys
//
// Observations are keyed by (region code, ISO year, ISO week). ISO weeks
// follow ISO-8601: weeks start Monday and the year boundary follows the
// majority-day rule, so early January days can belong to week 52/53 of the
// previous ISO year. The assembled grid covers weeks 1–52; week 53 rows
// from source data survive joins but are not part of the completeness
// grid.
//
// # Null semantics
//
// Every numeric field is optional: a missing value means the source had no
// data for that key, which is ordinary, not an error. Float carries the
// valid flag explicitly so that 0.0 (a real measurement) is never confused
// with "absent". Derived fields (mortality rate) propagate null and guard
// against zero population instead of producing infinities.
package domain
