// Package model builds the immutable schema model from entity declarations.
//
// Build runs an ordered pipeline of phases. Each phase may append errors to
// the build log; the pipeline stops after the first phase that logged an
// error, and the aggregated failure is returned as a *vela.ModelError.
//
//	m, log, err := model.Build(decls, model.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	book := m.Entity("Book")
//
// Attributes are applied by processors registered with RegisterProcessor.
// System-tier processors create keys; references and lists are wired next;
// all remaining processors run in ascending apply order. The result does not
// depend on the processor order, which WithRandomizedOrder exercises.
//
// The last phase builds the entity dependency graph and assigns each entity
// its topological index (see package graph).
package model
