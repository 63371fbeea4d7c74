package health

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMemoryMode(t *testing.T) {
	out, ok := NewService(nil).Status(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "memory", out["storage"])
}

func TestStatusPingsDatabase(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	out, ok := NewService(db).Status(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "ok", out["database"])

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	out, ok = NewService(db).Status(context.Background())
	assert.False(t, ok)
	assert.Equal(t, false, out["ok"])
	require.NoError(t, mock.ExpectationsWereMet())
}
