package sqlgraph

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/syssam/vela"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("connection refused"), ""},
		{"pq unique", &pq.Error{Code: "23505"}, Unique},
		{"pq foreign key wrapped", fmt.Errorf("exec: %w", &pq.Error{Code: "23503"}), ForeignKey},
		{"pq check", &pq.Error{Code: "23514"}, Check},
		{"pq other", &pq.Error{Code: "42P01"}, ""},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, Unique},
		{"mysql parent row", &mysql.MySQLError{Number: 1451}, ForeignKey},
		{"mysql child row", &mysql.MySQLError{Number: 1452}, ForeignKey},
		{"mysql not null", &mysql.MySQLError{Number: 1048}, NotNull},
		{"sqlite text", errors.New("constraint failed: UNIQUE constraint failed: books.isbn (2067)"), Unique},
		{"sqlite foreign key text", errors.New("FOREIGN KEY constraint failed"), ForeignKey},
		{"postgres text", errors.New(`pq: null value violates not-null constraint "x"`), NotNull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
			assert.Equal(t, tt.want != "", IsConstraintError(tt.err))
		})
	}
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsUniqueConstraintError(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueConstraintError(&pq.Error{Code: "23503"}))
	assert.True(t, IsForeignKeyConstraintError(&mysql.MySQLError{Number: 1452}))
	assert.True(t, IsCheckConstraintError(errors.New("CHECK constraint failed: rating")))
}

func TestClassify(t *testing.T) {
	orig := &pq.Error{Code: "23505", Message: "duplicate key"}
	err := Classify(fmt.Errorf("dialect/sql: exec: %w", orig))
	assert.True(t, vela.IsConstraintError(err))
	assert.Contains(t, err.Error(), "unique constraint violated")
	var pe *pq.Error
	assert.ErrorAs(t, err, &pe)

	// Already classified errors and unrelated errors pass through.
	assert.Equal(t, err, Classify(err))
	plain := errors.New("timeout")
	assert.Same(t, plain, Classify(plain))
	assert.Nil(t, Classify(nil))
}
