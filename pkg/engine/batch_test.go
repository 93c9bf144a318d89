package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/evgeny-myasishchev/ledger.allowances/pkg/allowances"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/events"
	mocks "github.com/evgeny-myasishchev/ledger.allowances/pkg/internal/testing"
	"github.com/evgeny-myasishchev/ledger.allowances/pkg/store"
)

type fakeStorage struct {
	store.Storage

	guardians        []store.GuardianDTO
	accounts         map[string][]store.AccountDTO
	listGuardiansErr error
	listAccountsErr  error
}

func (s *fakeStorage) ListGuardians(ctx context.Context) ([]store.GuardianDTO, error) {
	return s.guardians, s.listGuardiansErr
}

func (s *fakeStorage) ListGuardianAccounts(ctx context.Context, guardianID string) ([]store.AccountDTO, error) {
	return s.accounts[guardianID], s.listAccountsErr
}

type fakeDisburser struct {
	fn func(ctx context.Context, account *store.AccountDTO) (*Outcome, error)
}

func (d *fakeDisburser) Disburse(ctx context.Context, account *store.AccountDTO) (*Outcome, error) {
	return d.fn(ctx, account)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.DisbursementCompleted
}

func (p *recordingPublisher) PublishDisbursementCompleted(ctx context.Context, event *events.DisbursementCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func appliedOutcome(account *store.AccountDTO) *Outcome {
	return &Outcome{
		Applied: true,
		Entry: &store.LedgerEntryDTO{
			ID:        "ent-" + account.ID,
			AccountID: account.ID,
			WalletID:  "wlt-" + account.ID,
			Amount:    account.Schedule.WeeklyAmount,
			Timestamp: monday,
		},
	}
}

func Test_batchCoordinator_Run_classifiesOutcomes(t *testing.T) {
	eligibleOne := mocks.RandomAccount("grd-1")
	eligibleTwo := mocks.RandomAccount("grd-2")
	disabled := mocks.RandomAccount("grd-1", mocks.WithEnabled(false))
	alreadyProcessed := mocks.RandomAccount("grd-2")
	failing := mocks.RandomAccount("grd-2")

	storage := &fakeStorage{
		guardians: []store.GuardianDTO{{ID: "grd-1"}, {ID: "grd-2"}},
		accounts: map[string][]store.AccountDTO{
			"grd-1": {*eligibleOne, *disabled},
			"grd-2": {*eligibleTwo, *alreadyProcessed, *failing},
		},
	}
	disburser := &fakeDisburser{fn: func(ctx context.Context, account *store.AccountDTO) (*Outcome, error) {
		switch account.ID {
		case disabled.ID:
			t.Errorf("disburser should not be invoked for ineligible account %v", account.ID)
			return nil, errors.New("unexpected")
		case alreadyProcessed.ID:
			return &Outcome{Reason: allowances.ReasonAlreadyProcessedToday}, nil
		case failing.ID:
			return nil, errors.New("boom")
		default:
			return appliedOutcome(account), nil
		}
	}}
	publisher := &recordingPublisher{}

	coordinator := NewBatchCoordinator(
		WithStorage(storage),
		WithDisburser(disburser),
		WithPublisher(publisher),
		WithNowService(mocks.NewMockNowService(monday)),
		WithWorkers(3),
	)

	summary, err := coordinator.Run(context.Background())
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, &RunSummary{
		Processed: 2,
		Skipped:   2,
		Errored:   1,
		Day:       "Monday",
	}, summary)

	assert.Len(t, publisher.events, 2)
	published := map[string]bool{}
	for _, event := range publisher.events {
		published[event.AccountID] = true
		assert.Equal(t, "Monday", event.Day)
	}
	assert.True(t, published[eligibleOne.ID])
	assert.True(t, published[eligibleTwo.ID])
}

func Test_batchCoordinator_Run_enumerationFailure(t *testing.T) {
	type testCase struct {
		name    string
		storage *fakeStorage
	}
	tests := []testCase{
		{
			name:    "guardians enumeration fails",
			storage: &fakeStorage{listGuardiansErr: errors.New("guardians boom")},
		},
		{
			name: "accounts enumeration fails",
			storage: &fakeStorage{
				guardians:       []store.GuardianDTO{{ID: "grd-1"}},
				listAccountsErr: errors.New("accounts boom"),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coordinator := NewBatchCoordinator(
				WithStorage(tt.storage),
				WithDisburser(&fakeDisburser{}),
				WithNowService(mocks.NewMockNowService(monday)),
			)
			summary, err := coordinator.Run(context.Background())
			assert.Error(t, err)
			assert.Nil(t, summary)
		})
	}
}

func Test_batchCoordinator_Run_panicIsolation(t *testing.T) {
	panicking := mocks.RandomAccount("grd-1")
	healthy := mocks.RandomAccount("grd-1")

	storage := &fakeStorage{
		guardians: []store.GuardianDTO{{ID: "grd-1"}},
		accounts: map[string][]store.AccountDTO{
			"grd-1": {*panicking, *healthy},
		},
	}
	disburser := &fakeDisburser{fn: func(ctx context.Context, account *store.AccountDTO) (*Outcome, error) {
		if account.ID == panicking.ID {
			panic("totally unexpected")
		}
		return appliedOutcome(account), nil
	}}

	coordinator := NewBatchCoordinator(
		WithStorage(storage),
		WithDisburser(disburser),
		WithNowService(mocks.NewMockNowService(monday)),
		WithWorkers(1),
	)

	summary, err := coordinator.Run(context.Background())
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Errored)
}

func Test_batchCoordinator_Run_cancelledContext(t *testing.T) {
	storage := &fakeStorage{
		guardians: []store.GuardianDTO{{ID: "grd-1"}},
		accounts: map[string][]store.AccountDTO{
			"grd-1": {*mocks.RandomAccount("grd-1"), *mocks.RandomAccount("grd-1")},
		},
	}
	disburser := &fakeDisburser{fn: func(ctx context.Context, account *store.AccountDTO) (*Outcome, error) {
		t.Error("no account should be disbursed after the deadline")
		return nil, errors.New("unexpected")
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coordinator := NewBatchCoordinator(
		WithStorage(storage),
		WithDisburser(disburser),
		WithNowService(mocks.NewMockNowService(monday)),
		WithWorkers(1),
	)

	summary, err := coordinator.Run(ctx)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, &RunSummary{Day: "Monday"}, summary)
}

// End to end over a real storage: broken accounts must not affect the rest
func Test_batchCoordinator_Run_faultIsolation(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	assert.NoError(t, storage.SaveGuardian(ctx, &store.GuardianDTO{ID: "grd-1"}))

	var healthy []*store.AccountDTO
	for i := 0; i < 3; i++ {
		account := mocks.RandomAccount("grd-1")
		assert.NoError(t, storage.SaveAccount(ctx, account))
		assert.NoError(t, storage.SaveWallet(ctx, mocks.RandomWallet(account.ID)))
		healthy = append(healthy, account)
	}

	// Two accounts with no wallet record at all
	for i := 0; i < 2; i++ {
		assert.NoError(t, storage.SaveAccount(ctx, mocks.RandomAccount("grd-1")))
	}

	// And one disabled, it should not even be attempted
	disabled := mocks.RandomAccount("grd-1", mocks.WithEnabled(false))
	assert.NoError(t, storage.SaveAccount(ctx, disabled))

	nowSvc := mocks.NewMockNowService(monday)
	coordinator := NewBatchCoordinator(
		WithStorage(storage),
		WithDisburser(NewDisburser(
			WithDisburserStorage(storage),
			WithDisburserNowService(nowSvc),
		)),
		WithNowService(nowSvc),
	)

	summary, err := coordinator.Run(ctx)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, &RunSummary{
		Processed: 3,
		Skipped:   1,
		Errored:   2,
		Day:       "Monday",
	}, summary)

	for _, account := range healthy {
		entries, err := storage.ListLedgerEntries(ctx, account.ID)
		assert.NoError(t, err)
		assert.Len(t, entries, 1)
	}
}
