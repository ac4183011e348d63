package store

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/gistchat/gistchat/internal/types"
)

type MockRemoteStore struct {
	mock.Mock
}

func (m *MockRemoteStore) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockRemoteStore) Available() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockRemoteStore) LoadRegistry(ctx context.Context) (map[string]types.Room, error) {
	args := m.Called(ctx)
	if reg, ok := args.Get(0).(map[string]types.Room); ok {
		return reg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRemoteStore) SaveRegistry(ctx context.Context, reg map[string]types.Room) error {
	args := m.Called(ctx, reg)
	return args.Error(0)
}

func (m *MockRemoteStore) LoadMessages(ctx context.Context, room string) ([]types.Message, error) {
	args := m.Called(ctx, room)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRemoteStore) AppendMessage(ctx context.Context, room string, msg types.Message) error {
	args := m.Called(ctx, room, msg)
	return args.Error(0)
}
