/*
Package requires implements the sandboxed resource-program evaluator that
decides whether a job applies to the machine under test.

A program is a newline-separated list of expressions. Each line references
one resource group (or joins two) and is true when ANY record of that group
satisfies it; the program is true when ALL lines are true. Both quantifiers
are implicit and deliberate: two lines over the same group may be satisfied
by different records, and there is no way to force two conditions onto one
record other than combining them in a single line.

Evaluation errors for one expression/record pairing are swallowed as false.
Resource schemas evolve and partially populated records are common; a job
whose requirement cannot be evaluated is simply not applicable.

The grammar is the HCL expression language restricted to literals,
comparison/boolean/arithmetic operators, one-level attribute access, and a
fixed set of helper functions (to_int, to_float, to_bool for explicit
coercion of the string-only store, bitand/bitor/bitxor for bit tests, since
HCL has no bitwise operator syntax). Everything else, including conditionals,
loops, indexing, and unknown function calls, is rejected when the program is
compiled, before any job runs.
*/
package requires
