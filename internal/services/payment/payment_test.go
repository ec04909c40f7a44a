package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/perfumeclub/subscription-bot/internal/models"
	"github.com/perfumeclub/subscription-bot/internal/paymentprovider"
	"github.com/perfumeclub/subscription-bot/internal/storage/repository"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) CreatePayment(ctx context.Context, p models.Payment) (int64, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(int64), args.Error(1)
}
func (m *RepoMock) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}
func (m *RepoMock) GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}
func (m *RepoMock) FindPendingPaymentBySubscription(ctx context.Context, subscriptionID int64) (*models.Payment, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}
func (m *RepoMock) UpdatePaymentStatus(ctx context.Context, id int64, status models.PaymentStatus) error {
	return m.Called(ctx, id, status).Error(0)
}
func (m *RepoMock) ListPendingPayments(ctx context.Context) ([]*models.Payment, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Payment), args.Error(1)
}

type GatewayMock struct{ mock.Mock }

func (m *GatewayMock) CreatePayment(ctx context.Context, req paymentprovider.CreatePaymentRequest) (*paymentprovider.PaymentResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.PaymentResponse), args.Error(1)
}
func (m *GatewayMock) GetPayment(ctx context.Context, paymentID string) (*paymentprovider.PaymentResponse, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.PaymentResponse), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTestService() (*Service, *RepoMock, *GatewayMock) {
	repo := new(RepoMock)
	gateway := new(GatewayMock)
	return New(repo, gateway, "perfume_bot", newNoopLogger()), repo, gateway
}

func TestCreate_NewPayment(t *testing.T) {
	svc, repo, gateway := newTestService()

	extID := "yk-123"
	repo.On("FindPendingPaymentBySubscription", mock.Anything, int64(10)).Return(nil, repository.ErrNotFound).Once()
	gateway.On("CreatePayment", mock.Anything, mock.MatchedBy(func(req paymentprovider.CreatePaymentRequest) bool {
		return req.Amount.Value == "249.00" &&
			req.Amount.Currency == "RUB" &&
			req.Capture &&
			req.Confirmation.Type == "redirect" &&
			req.Confirmation.ReturnURL == "https://t.me/perfume_bot" &&
			req.Metadata["subscription_id"] == "10"
	})).Return(&paymentprovider.PaymentResponse{
		ID:     extID,
		Status: "pending",
		Confirmation: paymentprovider.Confirmation{
			ConfirmationURL: "https://pay.example/abc",
		},
	}, nil).Once()
	repo.On("CreatePayment", mock.Anything, mock.MatchedBy(func(p models.Payment) bool {
		return p.UserID == 1 && *p.SubscriptionID == 10 && *p.ExternalID == extID && p.Status == models.PaymentPending
	})).Return(int64(55), nil).Once()
	repo.On("GetPayment", mock.Anything, int64(55)).Return(&models.Payment{ID: 55, ExternalID: &extID}, nil).Once()

	p, url, err := svc.Create(context.Background(), 1, 10, 249.00)
	assert.NoError(t, err)
	assert.Equal(t, int64(55), p.ID)
	assert.Equal(t, "https://pay.example/abc", url)
	repo.AssertExpectations(t)
	gateway.AssertExpectations(t)
}

func TestCreate_ReusesPendingPayment(t *testing.T) {
	svc, repo, gateway := newTestService()

	extID := "yk-777"
	existing := &models.Payment{ID: 40, UserID: 1, ExternalID: &extID, Status: models.PaymentPending}
	repo.On("FindPendingPaymentBySubscription", mock.Anything, int64(10)).Return(existing, nil).Once()
	gateway.On("GetPayment", mock.Anything, extID).Return(&paymentprovider.PaymentResponse{
		ID:     extID,
		Status: "pending",
		Confirmation: paymentprovider.Confirmation{
			ConfirmationURL: "https://pay.example/old",
		},
	}, nil).Once()

	p, url, err := svc.Create(context.Background(), 1, 10, 249.00)
	assert.NoError(t, err)
	assert.Equal(t, int64(40), p.ID)
	assert.Equal(t, "https://pay.example/old", url)
	gateway.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
}

func TestCreate_GatewayFailureLeavesNoRow(t *testing.T) {
	svc, repo, gateway := newTestService()

	repo.On("FindPendingPaymentBySubscription", mock.Anything, int64(10)).Return(nil, repository.ErrNotFound).Once()
	gateway.On("CreatePayment", mock.Anything, mock.Anything).Return(nil, errors.New("gateway timeout")).Once()

	_, _, err := svc.Create(context.Background(), 1, 10, 249.00)
	assert.Error(t, err)
	repo.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
}

func TestCheckStatus_TerminalSkipsGateway(t *testing.T) {
	svc, repo, gateway := newTestService()

	extID := "yk-1"
	repo.On("GetPayment", mock.Anything, int64(5)).Return(&models.Payment{
		ID: 5, ExternalID: &extID, Status: models.PaymentSucceeded,
	}, nil).Once()

	status, err := svc.CheckStatus(context.Background(), 5)
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded, status)
	gateway.AssertNotCalled(t, "GetPayment", mock.Anything, mock.Anything)
}

func TestCheckStatus_PollFailureKeepsPending(t *testing.T) {
	svc, repo, gateway := newTestService()

	extID := "yk-2"
	repo.On("GetPayment", mock.Anything, int64(6)).Return(&models.Payment{
		ID: 6, ExternalID: &extID, Status: models.PaymentPending,
	}, nil).Once()
	gateway.On("GetPayment", mock.Anything, extID).Return(nil, errors.New("timeout")).Once()

	status, err := svc.CheckStatus(context.Background(), 6)
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentPending, status)
	repo.AssertNotCalled(t, "UpdatePaymentStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckStatus_PersistsChangedStatus(t *testing.T) {
	svc, repo, gateway := newTestService()

	extID := "yk-3"
	repo.On("GetPayment", mock.Anything, int64(7)).Return(&models.Payment{
		ID: 7, ExternalID: &extID, Status: models.PaymentPending,
	}, nil).Once()
	gateway.On("GetPayment", mock.Anything, extID).Return(&paymentprovider.PaymentResponse{
		ID: extID, Status: paymentprovider.StatusSucceeded,
	}, nil).Once()
	repo.On("UpdatePaymentStatus", mock.Anything, int64(7), models.PaymentSucceeded).Return(nil).Once()

	status, err := svc.CheckStatus(context.Background(), 7)
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded, status)
	repo.AssertExpectations(t)
}

func TestCheckStatus_UnchangedStatusNotPersisted(t *testing.T) {
	svc, repo, gateway := newTestService()

	extID := "yk-4"
	repo.On("GetPayment", mock.Anything, int64(8)).Return(&models.Payment{
		ID: 8, ExternalID: &extID, Status: models.PaymentPending,
	}, nil).Once()
	gateway.On("GetPayment", mock.Anything, extID).Return(&paymentprovider.PaymentResponse{
		ID: extID, Status: "waiting_for_capture",
	}, nil).Once()

	status, err := svc.CheckStatus(context.Background(), 8)
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentPending, status)
	repo.AssertNotCalled(t, "UpdatePaymentStatus", mock.Anything, mock.Anything, mock.Anything)
}
