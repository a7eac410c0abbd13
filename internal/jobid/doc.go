/*
Package jobid provides a structured, type-safe representation for job
identifiers, based on the canonical format `namespace::partial-id`.

A partial id is a slash-separated sequence of segments, e.g.,
`disk/stats_sda` or `suspend/cycle_reboots_10`. The namespace is a
reverse-domain provider name, e.g., `com.canonical.certification`.

This package enforces the identifier schema and centralizes all
formatting and parsing logic, so collision detection and namespace
resolution are structural checks rather than string surgery.
*/
package jobid
