package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/autopost-hq/tokenvault/cache"
	"github.com/autopost-hq/tokenvault/domain"
	"github.com/autopost-hq/tokenvault/internal/graph"
)

type MockGraphConnector struct {
	mock.Mock
}

func (m *MockGraphConnector) AuthorizeURL(state string) string {
	args := m.Called(state)
	return args.String(0)
}

func (m *MockGraphConnector) ExchangeCode(ctx context.Context, code string) (string, error) {
	args := m.Called(ctx, code)
	return args.String(0), args.Error(1)
}

func (m *MockGraphConnector) ExchangeLongLivedToken(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *MockGraphConnector) FetchProfile(ctx context.Context, token string) (*graph.Profile, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*graph.Profile), args.Error(1)
}

func (m *MockGraphConnector) FetchGrantedPermissions(ctx context.Context, token string) ([]string, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockGraphConnector) ListPages(ctx context.Context, token string) ([]graph.Page, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]graph.Page), args.Error(1)
}

func newConnectFixture(t *testing.T) (*MockCredentialRepository, *MockGraphConnector, *cache.MemoryStateStore, *ConnectService) {
	t.Helper()
	repo := new(MockCredentialRepository)
	connector := new(MockGraphConnector)
	states := cache.NewMemoryStateStore()
	t.Cleanup(states.Close)
	store := newTestStore(repo, new(MockExchanger))
	svc := NewConnectService(store, connector, states, 10*time.Minute)
	return repo, connector, states, svc
}

func TestBeginConnect_IssuesOneTimeState(t *testing.T) {
	_, connector, states, svc := newConnectFixture(t)
	ctx := context.Background()

	var state string
	connector.On("AuthorizeURL", mock.AnythingOfType("string")).Run(func(args mock.Arguments) {
		state = args.String(0)
	}).Return("https://facebook.example/dialog/oauth").Once()

	url, err := svc.BeginConnect(ctx, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.Equal(t, "https://facebook.example/dialog/oauth", url)

	userID, ok := states.Verify(ctx, state)
	assert.True(t, ok)
	assert.Equal(t, "u1", userID)

	// Consumed on first verify.
	_, ok = states.Verify(ctx, state)
	assert.False(t, ok)
}

func TestCompleteConnect_FullFlow(t *testing.T) {
	repo, connector, states, svc := newConnectFixture(t)
	ctx := context.Background()

	require.NoError(t, states.Issue(ctx, "state-1", "u1", time.Minute))

	connector.On("ExchangeCode", ctx, "auth-code").Return("short-token", nil).Once()
	connector.On("ExchangeLongLivedToken", ctx, "short-token").Return("long-token", nil).Once()
	connector.On("FetchProfile", ctx, "long-token").
		Return(&graph.Profile{ID: "meta-1", Name: "Ada", Email: "ada@example.com"}, nil).Once()
	connector.On("FetchGrantedPermissions", ctx, "long-token").
		Return([]string{"pages_show_list", "pages_manage_posts"}, nil).Once()
	connector.On("ListPages", ctx, "long-token").Return([]graph.Page{
		{PageID: "p1", PageName: "Main Street Realty", AccessToken: "page-token-1", Category: "Real Estate"},
	}, nil).Once()

	repo.On("FindByUserID", ctx, "u1", true).Return(nil, domain.ErrCredentialNotFound).Once()

	var created *domain.Credential
	repo.On("Create", ctx, mock.AnythingOfType("*domain.Credential")).Run(func(args mock.Arguments) {
		created = args.Get(1).(*domain.Credential)
	}).Return(nil).Once()

	cred, err := svc.CompleteConnect(ctx, "state-1", "auth-code")
	require.NoError(t, err)

	require.NotNil(t, created)
	assert.Equal(t, "u1", cred.UserID)
	assert.Equal(t, "meta-1", created.MetaUserID)
	assert.Equal(t, "Ada", created.UserName)
	require.Len(t, created.Pages, 1)
	assert.Equal(t, "p1", created.ActivePageID)

	decrypted, err := testCodec.Decrypt(created.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "long-token", decrypted)

	connector.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestCompleteConnect_RejectsUnknownState(t *testing.T) {
	_, connector, _, svc := newConnectFixture(t)

	_, err := svc.CompleteConnect(context.Background(), "never-issued", "auth-code")
	require.Error(t, err)
	connector.AssertNotCalled(t, "ExchangeCode", mock.Anything, mock.Anything)
}

func TestCompleteConnect_StateIsSingleUse(t *testing.T) {
	repo, connector, states, svc := newConnectFixture(t)
	ctx := context.Background()

	require.NoError(t, states.Issue(ctx, "state-1", "u1", time.Minute))

	connector.On("ExchangeCode", ctx, "auth-code").Return("short-token", nil).Once()
	connector.On("ExchangeLongLivedToken", ctx, "short-token").Return("long-token", nil).Once()
	connector.On("FetchProfile", ctx, "long-token").
		Return(&graph.Profile{ID: "meta-1", Name: "Ada"}, nil).Once()
	connector.On("FetchGrantedPermissions", ctx, "long-token").Return([]string{}, nil).Once()
	connector.On("ListPages", ctx, "long-token").Return([]graph.Page{}, nil).Once()
	repo.On("FindByUserID", ctx, "u1", true).Return(nil, domain.ErrCredentialNotFound).Once()
	repo.On("Create", ctx, mock.AnythingOfType("*domain.Credential")).Return(nil).Once()

	_, err := svc.CompleteConnect(ctx, "state-1", "auth-code")
	require.NoError(t, err)

	_, err = svc.CompleteConnect(ctx, "state-1", "auth-code")
	require.Error(t, err, "a consumed state cannot be replayed")
}

func TestCompleteConnect_PermissionFetchFailureFallsBack(t *testing.T) {
	repo, connector, states, svc := newConnectFixture(t)
	ctx := context.Background()

	require.NoError(t, states.Issue(ctx, "state-1", "u1", time.Minute))

	connector.On("ExchangeCode", ctx, "auth-code").Return("short-token", nil).Once()
	connector.On("ExchangeLongLivedToken", ctx, "short-token").Return("long-token", nil).Once()
	connector.On("FetchProfile", ctx, "long-token").
		Return(&graph.Profile{ID: "meta-1", Name: "Ada"}, nil).Once()
	connector.On("FetchGrantedPermissions", ctx, "long-token").
		Return(nil, errors.New("permissions endpoint down")).Once()
	connector.On("ListPages", ctx, "long-token").Return([]graph.Page{}, nil).Once()
	repo.On("FindByUserID", ctx, "u1", true).Return(nil, domain.ErrCredentialNotFound).Once()

	var created *domain.Credential
	repo.On("Create", ctx, mock.AnythingOfType("*domain.Credential")).Run(func(args mock.Arguments) {
		created = args.Get(1).(*domain.Credential)
	}).Return(nil).Once()

	_, err := svc.CompleteConnect(ctx, "state-1", "auth-code")
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.ElementsMatch(t, graph.RequiredPermissions, created.Permissions)
}

func TestHasRequiredPermissions(t *testing.T) {
	all := append([]string{}, graph.RequiredPermissions...)
	assert.True(t, HasRequiredPermissions(all))

	assert.False(t, HasRequiredPermissions(all[:len(all)-1]))
	assert.False(t, HasRequiredPermissions(nil))
}
