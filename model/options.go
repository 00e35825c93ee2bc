package model

import (
	"go.uber.org/zap"

	"github.com/syssam/vela/schema"
)

type options struct {
	logger   *zap.Logger
	replace  map[string]*schema.EntityDecl
	added    []addedMember
	indexes  []addedIndex
	seed     int64
	shuffled bool
}

type addedMember struct {
	entity string
	member *schema.MemberDecl
}

type addedIndex struct {
	entity  string
	members []string
}

// Option configures Build.
type Option func(*options)

// WithLogger sets the logger for build progress.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithReplace substitutes the declaration of entity old with decl. References
// to old resolve to the replacement.
func WithReplace(old string, decl *schema.EntityDecl) Option {
	return func(o *options) { o.replace[old] = decl }
}

// WithAddedMember adds a member to an entity declared elsewhere.
func WithAddedMember(entity string, m *schema.MemberDecl) Option {
	return func(o *options) { o.added = append(o.added, addedMember{entity: entity, member: m}) }
}

// WithAddedIndex adds an index to an entity declared elsewhere.
func WithAddedIndex(entity string, members ...string) Option {
	return func(o *options) { o.indexes = append(o.indexes, addedIndex{entity: entity, members: members}) }
}

// WithRandomizedOrder shuffles attribute processors with the given seed.
// The finished model must not depend on it.
func WithRandomizedOrder(seed int64) Option {
	return func(o *options) {
		o.seed = seed
		o.shuffled = true
	}
}
