// Package vela is an object-relational persistence engine.
//
// The model package builds an immutable schema model from declarations in
// the schema package. A session.Session tracks records of that model in an
// identity map and commits created, modified and deleted records in one
// transaction, ordered by the dependency graph of the model. Queries are
// built with the query package and translated into SQL fragment trees that a
// dialect renders into statement text and arguments.
//
// This package holds the error types shared by all of them.
package vela
