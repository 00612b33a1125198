package test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
)

// MockMetadataSource is a testify mock of database.MetadataSource.
type MockMetadataSource struct {
	mock.Mock
}

// ListTables mocks the ListTables method.
func (m *MockMetadataSource) ListTables(ctx context.Context, h database.Handle) ([]database.TableRef, error) {
	args := m.Called(ctx, h)
	refs, _ := args.Get(0).([]database.TableRef)
	return refs, args.Error(1)
}

// Describe mocks the Describe method.
func (m *MockMetadataSource) Describe(ctx context.Context, h database.Handle, ref database.TableRef) ([]database.ColumnMetadata, error) {
	args := m.Called(ctx, h, ref)
	cols, _ := args.Get(0).([]database.ColumnMetadata)
	return cols, args.Error(1)
}

var _ database.MetadataSource = (*MockMetadataSource)(nil)

// StaticMetadataSource serves a fixed catalog. Tables listed in Fail return
// their error from Describe.
type StaticMetadataSource struct {
	Tables  map[database.TableRef][]database.ColumnMetadata
	Order   []database.TableRef
	Fail    map[database.TableRef]error
	ListErr error
}

// ListTables implements database.MetadataSource.
func (s *StaticMetadataSource) ListTables(ctx context.Context, h database.Handle) ([]database.TableRef, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return append([]database.TableRef(nil), s.Order...), nil
}

// Describe implements database.MetadataSource.
func (s *StaticMetadataSource) Describe(ctx context.Context, h database.Handle, ref database.TableRef) ([]database.ColumnMetadata, error) {
	if err, ok := s.Fail[ref]; ok {
		return nil, err
	}
	return s.Tables[ref], nil
}

var _ database.MetadataSource = (*StaticMetadataSource)(nil)
