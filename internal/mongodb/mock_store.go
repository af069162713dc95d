package mongodb

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
)

// MockStore is a mock implementation of the Store interface for testing.
type MockStore struct {
	mock.Mock
}

// InsertOne is the mock implementation of the InsertOne method.
func (m *MockStore) InsertOne(ctx context.Context, doc bson.Raw) error {
	args := m.Called(ctx, doc)
	return args.Error(0) //nolint:wrapcheck
}

// Close is the mock implementation of the Close method.
func (m *MockStore) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0) //nolint:wrapcheck
}

// MockConnector is a mock implementation of the Connector interface for testing.
type MockConnector struct {
	mock.Mock
}

// Connect is the mock implementation of the Connect method.
func (m *MockConnector) Connect(ctx context.Context, params *Parameters) (Store, error) {
	args := m.Called(ctx, params)
	store, _ := args.Get(0).(Store)
	return store, args.Error(1) //nolint:wrapcheck
}
