package iodb

import (
	"errors"
	"testing"

	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConnectionError_Structure verifies error structure.
func TestConnectionError_Structure(t *testing.T) {
	host := "localhost"
	port := 5432
	database := "test"
	user := "postgres"
	originalErr := errors.New("connection refused")

	err := ConnectionError(host, port, database, user,
		originalErr)

	require.NotNil(t, err)

	dexErr, ok := err.(*errcode.Error)
	require.True(t, ok, "Error should be of type *errcode.Error")

	assert.Equal(t, errcode.DBConnectionError, dexErr.Code)
	assert.NotEmpty(t, dexErr.Msg)
	assert.Len(t, dexErr.Vars, 4,
		"Should have 4 vars: host, port, database, user")
	assert.ErrorIs(t, dexErr.Err, originalErr)
}

// TestTableCheckError_Structure verifies error structure.
func TestTableCheckError_Structure(t *testing.T) {
	originalErr := errors.New("query failed")

	err := TableCheckError(originalErr)

	require.NotNil(t, err)

	dexErr, ok := err.(*errcode.Error)
	require.True(t, ok, "Error should be of type *errcode.Error")

	assert.Equal(t, errcode.DBTableCheckError, dexErr.Code)
	assert.NotEmpty(t, dexErr.Msg)
	assert.ErrorIs(t, dexErr.Err, originalErr)
}

// TestEmptyDatabaseError_Structure verifies error structure.
func TestEmptyDatabaseError_Structure(t *testing.T) {
	host := "localhost"
	database := "test_db"

	err := EmptyDatabaseError(host, database)

	require.NotNil(t, err)

	dexErr, ok := err.(*errcode.Error)
	require.True(t, ok, "Error should be of type *errcode.Error")

	assert.Equal(t, errcode.DBEmptyDatabaseError, dexErr.Code)
	assert.NotEmpty(t, dexErr.Msg)
	assert.Len(t, dexErr.Vars, 2)
	assert.Equal(t, host, dexErr.Vars[0])
	assert.Equal(t, database, dexErr.Vars[1])
}

// TestNotConnectedError_Structure verifies error structure.
func TestNotConnectedError_Structure(t *testing.T) {
	err := NotConnectedError()

	require.NotNil(t, err)

	dexErr, ok := err.(*errcode.Error)
	require.True(t, ok, "Error should be of type *errcode.Error")

	assert.Equal(t, errcode.DBNotConnectedError, dexErr.Code)
	assert.NotEmpty(t, dexErr.Msg)
}

// TestTableExistsCheckError_Structure verifies
// error structure.
func TestTableExistsCheckError_Structure(t *testing.T) {
	tableName := "test_table"
	originalErr := errors.New("check failed")

	err := TableExistsCheckError(tableName, originalErr)

	require.NotNil(t, err)

	dexErr, ok := err.(*errcode.Error)
	require.True(t, ok, "Error should be of type *errcode.Error")

	assert.Equal(t, errcode.DBTableExistsCheckError, dexErr.Code)
	assert.NotEmpty(t, dexErr.Msg)
	assert.Len(t, dexErr.Vars, 1)
	assert.Equal(t, tableName, dexErr.Vars[0])
	assert.ErrorIs(t, dexErr.Err, originalErr)
}

// TestQueryTablesError_Structure verifies error structure.
func TestQueryTablesError_Structure(t *testing.T) {
	originalErr := errors.New("query failed")

	err := QueryTablesError(originalErr)

	require.NotNil(t, err)

	dexErr, ok := err.(*errcode.Error)
	require.True(t, ok, "Error should be of type *errcode.Error")

	assert.Equal(t, errcode.DBQueryTablesError, dexErr.Code)
	assert.NotEmpty(t, dexErr.Msg)
	assert.ErrorIs(t, dexErr.Err, originalErr)
}

// TestScanTableError_Structure verifies error structure.
func TestScanTableError_Structure(t *testing.T) {
	originalErr := errors.New("scan failed")

	err := ScanTableError(originalErr)

	require.NotNil(t, err)

	dexErr, ok := err.(*errcode.Error)
	require.True(t, ok, "Error should be of type *errcode.Error")

	assert.Equal(t, errcode.DBScanTableError, dexErr.Code)
	assert.NotEmpty(t, dexErr.Msg)
	assert.ErrorIs(t, dexErr.Err, originalErr)
}

// TestDropTableError_Structure verifies error structure.
func TestDropTableError_Structure(t *testing.T) {
	tableName := "test_table"
	originalErr := errors.New("drop failed")

	err := DropTableError(tableName, originalErr)

	require.NotNil(t, err)

	dexErr, ok := err.(*errcode.Error)
	require.True(t, ok, "Error should be of type *errcode.Error")

	assert.Equal(t, errcode.DBDropTableError, dexErr.Code)
	assert.NotEmpty(t, dexErr.Msg)
	assert.Len(t, dexErr.Vars, 1)
	assert.Equal(t, tableName, dexErr.Vars[0])
	assert.ErrorIs(t, dexErr.Err, originalErr)
}

// TestAllErrors_ErrorWrapping verifies proper error
// wrapping.
func TestAllErrors_ErrorWrapping(t *testing.T) {
	originalErr := errors.New("root cause")

	tests := []struct {
		name  string
		error error
	}{
		{
			name: "ConnectionError",
			error: ConnectionError("host", 5432, "db", "user",
				originalErr),
		},
		{
			name:  "TableCheckError",
			error: TableCheckError(originalErr),
		},
		{
			name:  "TableExistsCheckError",
			error: TableExistsCheckError("table", originalErr),
		},
		{
			name:  "QueryTablesError",
			error: QueryTablesError(originalErr),
		},
		{
			name:  "ScanTableError",
			error: ScanTableError(originalErr),
		},
		{
			name:  "DropTableError",
			error: DropTableError("table", originalErr),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dexErr := tt.error.(*errcode.Error)
			assert.ErrorIs(t, dexErr.Err, originalErr,
				"Should wrap original error")
		})
	}
}
