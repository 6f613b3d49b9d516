package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chronos/internal/solarterm"
	"chronos/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// termMockRows implements pgx.Rows for almanac term queries
// (target_deg, name, sectional, at).
type termMockRows struct {
	data []struct {
		targetDeg int
		name      string
		sectional bool
		at        time.Time
	}
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func (r *termMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *termMockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	if r.idx >= 0 && r.idx < len(r.data) {
		*dest[0].(*int) = r.data[r.idx].targetDeg
		*dest[1].(*string) = r.data[r.idx].name
		*dest[2].(*bool) = r.data[r.idx].sectional
		*dest[3].(*time.Time) = r.data[r.idx].at
		return nil
	}
	return errors.New("no current row")
}

func (r *termMockRows) Close()                                       { r.closed = true }
func (r *termMockRows) Err() error                                   { return r.errVal }
func (r *termMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *termMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *termMockRows) RawValues() [][]byte                          { return nil }
func (r *termMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *termMockRows) Conn() *pgx.Conn                              { return nil }

// --- Test Fixtures ---

func sampleNodes() []solarterm.Node {
	return []solarterm.Node{
		{TargetDeg: 285, Name: "Xiaohan", Sectional: true, At: time.Date(2024, 1, 6, 4, 49, 0, 0, time.UTC)},
		{TargetDeg: 300, Name: "Dahan", Sectional: false, At: time.Date(2024, 1, 20, 22, 7, 0, 0, time.UTC)},
		{TargetDeg: 315, Name: "Lichun", Sectional: true, At: time.Date(2024, 2, 4, 8, 20, 0, 0, time.UTC)},
	}
}

// --- UpsertYear Tests ---

func TestTermRepository_UpsertYear_InsertsAllNodes(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewTermRepository(dbMock)
	nodes := sampleNodes()

	var captured [][]any
	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			captured = append(captured, args.Get(2).([]any))
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	inserted, err := repo.UpsertYear(context.Background(), 2024, nodes)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	dbMock.AssertNumberOfCalls(t, "Exec", 3)
	require.Len(t, captured, 3)

	// Second row: year, integer degree, name, sectional flag, UTC instant.
	require.Len(t, captured[1], 5)
	assert.Equal(t, 2024, captured[1][0])
	assert.Equal(t, 300, captured[1][1])
	assert.Equal(t, "Dahan", captured[1][2])
	assert.Equal(t, false, captured[1][3])
	assert.Equal(t, nodes[1].At, captured[1][4])
}

func TestTermRepository_UpsertYear_RedeliveryInsertsNothing(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewTermRepository(dbMock)

	// Every row hits the (year, target_deg) conflict.
	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	inserted, err := repo.UpsertYear(context.Background(), 2024, sampleNodes())
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	dbMock.AssertNumberOfCalls(t, "Exec", 3)
}

func TestTermRepository_UpsertYear_CountsOnlyNewRows(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewTermRepository(dbMock)

	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()
	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil).Once()
	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()

	inserted, err := repo.UpsertYear(context.Background(), 2024, sampleNodes())
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
}

func TestTermRepository_UpsertYear_NormalizesToUTC(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewTermRepository(dbMock)

	cst := time.FixedZone("CST", 8*3600)
	node := solarterm.Node{
		TargetDeg: 315,
		Name:      "Lichun",
		Sectional: true,
		At:        time.Date(2024, 2, 4, 16, 20, 0, 0, cst),
	}

	var captured []any
	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).([]any)
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	_, err := repo.UpsertYear(context.Background(), 2024, []solarterm.Node{node})
	require.NoError(t, err)

	require.Len(t, captured, 5)
	at, ok := captured[4].(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.UTC, at.Location())
	assert.True(t, at.Equal(node.At))
}

func TestTermRepository_UpsertYear_ExecError(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewTermRepository(dbMock)

	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()
	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection reset")).Once()

	inserted, err := repo.UpsertYear(context.Background(), 2024, sampleNodes())
	require.Error(t, err)
	assert.Equal(t, 1, inserted)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	dbMock.AssertNumberOfCalls(t, "Exec", 2)
}

// --- GetYear Tests ---

func TestTermRepository_GetYear_ReturnsOrderedNodes(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewTermRepository(dbMock)

	mockRows := &termMockRows{
		data: []struct {
			targetDeg int
			name      string
			sectional bool
			at        time.Time
		}{
			{285, "Xiaohan", true, time.Date(2024, 1, 6, 4, 49, 0, 0, time.UTC)},
			{300, "Dahan", false, time.Date(2024, 1, 20, 22, 7, 0, 0, time.UTC)},
			{315, "Lichun", true, time.Date(2024, 2, 4, 8, 20, 0, 0, time.UTC)},
		},
		idx: -1,
	}
	dbMock.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(mockRows, nil)

	nodes, err := repo.GetYear(context.Background(), 2024)
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	assert.Equal(t, 285.0, nodes[0].TargetDeg)
	assert.Equal(t, "Xiaohan", nodes[0].Name)
	assert.True(t, nodes[0].Sectional)
	assert.Equal(t, 300.0, nodes[1].TargetDeg)
	assert.False(t, nodes[1].Sectional)
	assert.Equal(t, "Lichun", nodes[2].Name)
	assert.True(t, nodes[1].At.After(nodes[0].At))
	assert.True(t, nodes[2].At.After(nodes[1].At))
	assert.True(t, mockRows.closed)
}

func TestTermRepository_GetYear_EmptyYear(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewTermRepository(dbMock)

	dbMock.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&termMockRows{idx: -1}, nil)

	nodes, err := repo.GetYear(context.Background(), 1850)
	require.NoError(t, err)
	assert.NotNil(t, nodes)
	assert.Len(t, nodes, 0)
}

func TestTermRepository_GetYear_QueryError(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewTermRepository(dbMock)

	dbMock.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	nodes, err := repo.GetYear(context.Background(), 2024)
	require.Error(t, err)
	assert.Nil(t, nodes)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestTermRepository_GetYear_ScanError(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewTermRepository(dbMock)

	mockRows := &termMockRows{
		data: []struct {
			targetDeg int
			name      string
			sectional bool
			at        time.Time
		}{
			{285, "Xiaohan", true, time.Date(2024, 1, 6, 4, 49, 0, 0, time.UTC)},
		},
		idx:     -1,
		scanErr: errors.New("type mismatch"),
	}
	dbMock.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(mockRows, nil)

	_, err := repo.GetYear(context.Background(), 2024)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestTermRepository_GetYear_RowsIterationError(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewTermRepository(dbMock)

	iterErr := errors.New("server closed connection")
	dbMock.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&termMockRows{idx: -1, errVal: iterErr}, nil)

	_, err := repo.GetYear(context.Background(), 2024)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	assert.ErrorIs(t, err, iterErr)
}
