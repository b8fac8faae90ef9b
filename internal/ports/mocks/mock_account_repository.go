package mocks

import (
	"context"

	"github.com/bnema/drawq/internal/domain"
	mock "github.com/stretchr/testify/mock"
)

// MockAccountRepository is a mock type for the ports.AccountRepository interface.
type MockAccountRepository struct {
	mock.Mock
}

type MockAccountRepository_Expecter struct {
	mock *mock.Mock
}

func (_m *MockAccountRepository) EXPECT() *MockAccountRepository_Expecter {
	return &MockAccountRepository_Expecter{mock: &_m.Mock}
}

func (_m *MockAccountRepository) GetByID(ctx context.Context, id domain.AccountID) (domain.Account, error) {
	ret := _m.Called(ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for GetByID")
	}

	return ret.Get(0).(domain.Account), ret.Error(1)
}

func (_m *MockAccountRepository) List(ctx context.Context) ([]domain.Account, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for List")
	}

	var r0 []domain.Account
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]domain.Account)
	}

	return r0, ret.Error(1)
}

func (_m *MockAccountRepository) Save(ctx context.Context, account domain.Account) error {
	ret := _m.Called(ctx, account)

	if len(ret) == 0 {
		panic("no return value specified for Save")
	}

	return ret.Error(0)
}

func (_m *MockAccountRepository) Delete(ctx context.Context, id domain.AccountID) error {
	ret := _m.Called(ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for Delete")
	}

	return ret.Error(0)
}

type MockAccountRepository_GetByID_Call struct {
	*mock.Call
}

func (_e *MockAccountRepository_Expecter) GetByID(ctx interface{}, id interface{}) *MockAccountRepository_GetByID_Call {
	return &MockAccountRepository_GetByID_Call{Call: _e.mock.On("GetByID", ctx, id)}
}

func (_c *MockAccountRepository_GetByID_Call) Return(_a0 domain.Account, _a1 error) *MockAccountRepository_GetByID_Call {
	_c.Call.Return(_a0, _a1)
	return _c
}

type MockAccountRepository_List_Call struct {
	*mock.Call
}

func (_e *MockAccountRepository_Expecter) List(ctx interface{}) *MockAccountRepository_List_Call {
	return &MockAccountRepository_List_Call{Call: _e.mock.On("List", ctx)}
}

func (_c *MockAccountRepository_List_Call) Return(_a0 []domain.Account, _a1 error) *MockAccountRepository_List_Call {
	_c.Call.Return(_a0, _a1)
	return _c
}

type MockAccountRepository_Save_Call struct {
	*mock.Call
}

func (_e *MockAccountRepository_Expecter) Save(ctx interface{}, account interface{}) *MockAccountRepository_Save_Call {
	return &MockAccountRepository_Save_Call{Call: _e.mock.On("Save", ctx, account)}
}

func (_c *MockAccountRepository_Save_Call) Return(_a0 error) *MockAccountRepository_Save_Call {
	_c.Call.Return(_a0)
	return _c
}

type MockAccountRepository_Delete_Call struct {
	*mock.Call
}

func (_e *MockAccountRepository_Expecter) Delete(ctx interface{}, id interface{}) *MockAccountRepository_Delete_Call {
	return &MockAccountRepository_Delete_Call{Call: _e.mock.On("Delete", ctx, id)}
}

func (_c *MockAccountRepository_Delete_Call) Return(_a0 error) *MockAccountRepository_Delete_Call {
	_c.Call.Return(_a0)
	return _c
}

// NewMockAccountRepository registers a cleanup that asserts the expectations.
func NewMockAccountRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAccountRepository {
	m := &MockAccountRepository{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
