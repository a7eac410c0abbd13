// Package unit defines the immutable data model of the catalog: jobs,
// templates, test plans, and the vocabulary of outcomes, kinds, and flags
// they share. Units never change after loading; all mutable run state
// lives with the session.
package unit
