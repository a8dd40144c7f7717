package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDriverURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/x?sslmode=disable", driverURL("postgres://u:p@db:5432/x?sslmode=disable"))
	assert.Equal(t, "pgx5://u@db/x", driverURL("postgresql://u@db/x"))
	assert.Equal(t, "pgx5://already", driverURL("pgx5://already"))
}

func TestApply_RejectsEmptyDSN(t *testing.T) {
	assert.Error(t, Apply(t.Context(), ""))
}
