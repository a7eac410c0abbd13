/*
Package scheduler turns a selected job set into a deterministic execution
order and decides, as the session advances, whether each job may actually
run.

Ordering is static: a dependency graph over depends/after/salvages edges
plus the implicit edges from a job to the resource producers its requires
program reads, topologically sorted with declaration order breaking ties
so identical inputs always produce identical runs. Cycles are rejected
with the full cycle path named.

Eligibility is dynamic: whether a depends target passed, an after target
reached any terminal state, or a salvages target actually failed is only
known at run time, so those checks live in Gate, consulted by the session
right before each launch.
*/
package scheduler
