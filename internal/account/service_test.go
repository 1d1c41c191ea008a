package account

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/internal/store"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/models"
)

// --- Mocks ---

type mockPublisher struct {
	publishFn func(ctx context.Context, externalID, reason string) error

	mu    sync.Mutex
	calls []publishCall
}

type publishCall struct {
	ExternalID string
	Reason     string
}

func (m *mockPublisher) PublishAccountDeletion(ctx context.Context, externalID, reason string) error {
	m.mu.Lock()
	m.calls = append(m.calls, publishCall{ExternalID: externalID, Reason: reason})
	m.mu.Unlock()
	if m.publishFn != nil {
		return m.publishFn(ctx, externalID, reason)
	}
	return nil
}

type mockIdentityProvider struct {
	deleteUserFn func(ctx context.Context, externalID string) error

	mu    sync.Mutex
	calls []string
}

func (m *mockIdentityProvider) DeleteUser(ctx context.Context, externalID string) error {
	m.mu.Lock()
	m.calls = append(m.calls, externalID)
	m.mu.Unlock()
	if m.deleteUserFn != nil {
		return m.deleteUserFn(ctx, externalID)
	}
	return nil
}

// spyStore wraps the in-memory store and lets tests override single methods.
type spyStore struct {
	*store.MemoryUserStore
	findFn   func(ctx context.Context, externalID string) (*models.User, error)
	saveFn   func(ctx context.Context, user *models.User) error
	deleteFn func(ctx context.Context, externalID string) (bool, error)

	deleteCalls int
}

func newSpyStore() *spyStore {
	return &spyStore{MemoryUserStore: store.NewMemoryUserStore()}
}

func (s *spyStore) FindByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	if s.findFn != nil {
		return s.findFn(ctx, externalID)
	}
	return s.MemoryUserStore.FindByExternalID(ctx, externalID)
}

func (s *spyStore) Save(ctx context.Context, user *models.User) error {
	if s.saveFn != nil {
		return s.saveFn(ctx, user)
	}
	return s.MemoryUserStore.Save(ctx, user)
}

func (s *spyStore) Delete(ctx context.Context, externalID string) (bool, error) {
	s.deleteCalls++
	if s.deleteFn != nil {
		return s.deleteFn(ctx, externalID)
	}
	return s.MemoryUserStore.Delete(ctx, externalID)
}

type mockAudit struct {
	recorded []models.DeletionAudit
	err      error
}

func (m *mockAudit) Record(ctx context.Context, audit models.DeletionAudit) error {
	m.recorded = append(m.recorded, audit)
	return m.err
}

type mockMetrics struct {
	registrations []bool
	deletions     []string
}

func (m *mockMetrics) RegistrationRecorded(created bool) {
	m.registrations = append(m.registrations, created)
}

func (m *mockMetrics) DeletionRecorded(state string) {
	m.deletions = append(m.deletions, state)
}

type fixture struct {
	svc     *Service
	store   *spyStore
	pub     *mockPublisher
	idp     *mockIdentityProvider
	audit   *mockAudit
	metrics *mockMetrics
}

func newFixture() *fixture {
	f := &fixture{
		store:   newSpyStore(),
		pub:     &mockPublisher{},
		idp:     &mockIdentityProvider{},
		audit:   &mockAudit{},
		metrics: &mockMetrics{},
	}
	f.svc = NewService(f.store, f.pub, f.idp, f.audit, f.metrics)
	return f
}

func (f *fixture) seed(t *testing.T, externalID string, roles ...string) *models.User {
	t.Helper()
	u, _, err := f.svc.Register(context.Background(), RegisterInput{
		ExternalID: externalID,
		Username:   "user-" + externalID,
		Roles:      roles,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", externalID, err)
	}
	return u
}

// --- Registration ---

func TestRegister_CreatesUser(t *testing.T) {
	f := newFixture()
	fixed := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }

	email := "john@example.com"
	u, created, err := f.svc.Register(context.Background(), RegisterInput{
		ExternalID: "kc-1",
		Username:   "jdoe",
		Email:      &email,
		FirstName:  "John",
		LastName:   "Doe",
		Roles:      []string{"therapist", "patient", "therapist"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !created {
		t.Error("expected created=true for a new external id")
	}
	if u.ID == "" {
		t.Error("expected id to be assigned")
	}
	if !u.CreatedAt.Equal(fixed) {
		t.Errorf("expected createdAt %s, got %s", fixed, u.CreatedAt)
	}
	if len(u.Roles) != 2 || u.Roles[0] != "patient" || u.Roles[1] != "therapist" {
		t.Errorf("expected deduplicated roles, got %v", u.Roles)
	}
	if len(f.metrics.registrations) != 1 || !f.metrics.registrations[0] {
		t.Errorf("unexpected registration metrics: %v", f.metrics.registrations)
	}
}

func TestRegister_IdempotentSameArguments(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	in := RegisterInput{ExternalID: "kc-1", Username: "jdoe", FirstName: "John", Roles: []string{"patient"}}

	first, _, err := f.svc.Register(ctx, in)
	if err != nil {
		t.Fatalf("first register: %v", err)
	}

	f.svc.now = func() time.Time { return first.CreatedAt.Add(time.Hour) }
	second, created, err := f.svc.Register(ctx, in)
	if err != nil {
		t.Fatalf("second register: %v", err)
	}

	if created {
		t.Error("expected created=false on the second call")
	}
	if second.ID != first.ID {
		t.Errorf("id changed: %s -> %s", first.ID, second.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("createdAt changed: %s -> %s", first.CreatedAt, second.CreatedAt)
	}
	if len(second.Roles) != 1 || second.Roles[0] != "patient" {
		t.Errorf("unexpected roles: %v", second.Roles)
	}
	if f.store.Len() != 1 {
		t.Errorf("expected a single stored user, got %d", f.store.Len())
	}
}

func TestRegister_RolesReplacedNotMerged(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.seed(t, "E", "A")
	if _, _, err := f.svc.Register(ctx, RegisterInput{ExternalID: "E", Username: "user-E", Roles: []string{"B"}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	stored, _ := f.store.FindByExternalID(ctx, "E")
	if len(stored.Roles) != 1 || stored.Roles[0] != "B" {
		t.Errorf("expected roles exactly [B], got %v", stored.Roles)
	}
}

func TestRegister_EmptyRolesClear(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.seed(t, "E", "A")
	u, _, err := f.svc.Register(ctx, RegisterInput{ExternalID: "E", Username: "user-E", Roles: []string{}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(u.Roles) != 0 {
		t.Errorf("expected no roles, got %v", u.Roles)
	}
}

func TestRegister_NilRolesKeepStored(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.seed(t, "E", "A")
	u, _, err := f.svc.Register(ctx, RegisterInput{ExternalID: "E", Username: "renamed"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(u.Roles) != 1 || u.Roles[0] != "A" {
		t.Errorf("expected stored roles to survive, got %v", u.Roles)
	}
	if u.Username != "renamed" {
		t.Errorf("expected profile fields to be overwritten, got %s", u.Username)
	}
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"missing external id", RegisterInput{Username: "jdoe"}},
		{"blank external id", RegisterInput{ExternalID: "   ", Username: "jdoe"}},
		{"missing username", RegisterInput{ExternalID: "kc-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.svc.Register(context.Background(), tt.in)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestRegister_StoreFailure(t *testing.T) {
	f := newFixture()
	dbErr := errors.New("db down")
	f.store.saveFn = func(ctx context.Context, user *models.User) error { return dbErr }

	_, _, err := f.svc.Register(context.Background(), RegisterInput{ExternalID: "kc-1", Username: "jdoe"})
	if !errors.Is(err, ErrLocalStoreFailure) || !errors.Is(err, dbErr) {
		t.Fatalf("expected ErrLocalStoreFailure wrapping the cause, got %v", err)
	}
}

// --- Listing ---

func TestListByRole(t *testing.T) {
	f := newFixture()
	f.seed(t, "kc-1", "therapist")
	f.seed(t, "kc-2", "patient")

	users, err := f.svc.ListByRole(context.Background(), "therapist")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(users) != 1 || users[0].ExternalID != "kc-1" {
		t.Errorf("unexpected users: %+v", users)
	}

	if _, err := f.svc.ListByRole(context.Background(), " "); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for blank role, got %v", err)
	}
}

func TestGetByExternalID_NotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.GetByExternalID(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Deletion ---

func TestDeleteAccount_FullSuccess(t *testing.T) {
	f := newFixture()
	f.seed(t, "E", "patient")

	if err := f.svc.DeleteAccount(context.Background(), "E", "GDPR request"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if exists, _ := f.store.Exists(context.Background(), "E"); exists {
		t.Error("expected local record to be gone")
	}
	if len(f.pub.calls) != 1 {
		t.Fatalf("expected exactly 1 publish, got %d", len(f.pub.calls))
	}
	if f.pub.calls[0] != (publishCall{ExternalID: "E", Reason: "GDPR request"}) {
		t.Errorf("unexpected publish payload: %+v", f.pub.calls[0])
	}
	if len(f.idp.calls) != 1 || f.idp.calls[0] != "E" {
		t.Errorf("unexpected identity provider calls: %v", f.idp.calls)
	}
	if len(f.audit.recorded) != 1 || f.audit.recorded[0].Stage != string(StateLocallyDeleted) {
		t.Errorf("unexpected audit: %+v", f.audit.recorded)
	}
	if len(f.metrics.deletions) != 1 || f.metrics.deletions[0] != string(StateLocallyDeleted) {
		t.Errorf("unexpected deletion metrics: %v", f.metrics.deletions)
	}
}

func TestDeleteAccount_DefaultReason(t *testing.T) {
	f := newFixture()
	f.seed(t, "E")

	if err := f.svc.DeleteAccount(context.Background(), "E", ""); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.pub.calls[0].Reason != DefaultDeletionReason {
		t.Errorf("expected default reason, got %q", f.pub.calls[0].Reason)
	}
}

func TestDeleteAccount_UnknownAccount(t *testing.T) {
	f := newFixture()

	err := f.svc.DeleteAccount(context.Background(), "does-not-exist", "any")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var derr *DeletionError
	if errors.As(err, &derr) {
		t.Errorf("unknown account must not be reported as a stage failure: %v", derr)
	}
	if len(f.pub.calls) != 0 {
		t.Errorf("publisher should not be called, got %d calls", len(f.pub.calls))
	}
	if len(f.idp.calls) != 0 {
		t.Errorf("identity provider should not be called, got %d calls", len(f.idp.calls))
	}
	if f.store.deleteCalls != 0 {
		t.Errorf("store delete should not be called, got %d calls", f.store.deleteCalls)
	}
	if len(f.audit.recorded) != 0 {
		t.Errorf("no audit expected, got %+v", f.audit.recorded)
	}
}

func TestDeleteAccount_PublishFailureStopsEverything(t *testing.T) {
	f := newFixture()
	f.seed(t, "E")
	brokerErr := errors.New("broker unreachable")
	f.pub.publishFn = func(ctx context.Context, externalID, reason string) error { return brokerErr }
	f.idp.deleteUserFn = func(ctx context.Context, externalID string) error {
		t.Fatal("identity provider should not be called")
		return nil
	}
	f.store.deleteFn = func(ctx context.Context, externalID string) (bool, error) {
		t.Fatal("store delete should not be called")
		return false, nil
	}

	err := f.svc.DeleteAccount(context.Background(), "E", "any")

	var derr *DeletionError
	if !errors.As(err, &derr) {
		t.Fatalf("expected *DeletionError, got %v", err)
	}
	if derr.Stage != StagePublish {
		t.Errorf("expected stage %s, got %s", StagePublish, derr.Stage)
	}
	if !errors.Is(err, ErrEventPublishFailed) || !errors.Is(err, brokerErr) {
		t.Errorf("expected ErrEventPublishFailed wrapping cause, got %v", err)
	}
	if exists, _ := f.store.Exists(context.Background(), "E"); !exists {
		t.Error("local record must survive a publish failure")
	}
	if f.audit.recorded[0].Stage != string(StatePublishFailed) {
		t.Errorf("expected audit stage %s, got %s", StatePublishFailed, f.audit.recorded[0].Stage)
	}
}

func TestDeleteAccount_IdentityProviderFailureKeepsLocalRecord(t *testing.T) {
	f := newFixture()
	before := f.seed(t, "E", "therapist")
	f.idp.deleteUserFn = func(ctx context.Context, externalID string) error {
		return ErrAuthentication
	}

	err := f.svc.DeleteAccount(context.Background(), "E", "any")

	var derr *DeletionError
	if !errors.As(err, &derr) || derr.Stage != StageIdentityProvider {
		t.Fatalf("expected identity provider stage failure, got %v", err)
	}
	if !errors.Is(err, ErrIdentityProviderDeletionFailed) {
		t.Errorf("expected ErrIdentityProviderDeletionFailed, got %v", err)
	}
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("expected cause ErrAuthentication to be reachable, got %v", err)
	}
	if len(f.pub.calls) != 1 {
		t.Errorf("expected the event to have been published once, got %d", len(f.pub.calls))
	}
	if f.store.deleteCalls != 0 {
		t.Errorf("store delete should not be called, got %d", f.store.deleteCalls)
	}

	after, _ := f.store.FindByExternalID(context.Background(), "E")
	if after == nil {
		t.Fatal("local record must still exist")
	}
	if after.ID != before.ID || !after.CreatedAt.Equal(before.CreatedAt) || len(after.Roles) != 1 || after.Roles[0] != "therapist" {
		t.Errorf("local record changed: before=%+v after=%+v", before, after)
	}
}

func TestDeleteAccount_LocalStoreFailureIsInconsistent(t *testing.T) {
	f := newFixture()
	f.seed(t, "E")
	dbErr := errors.New("connection reset")
	f.store.deleteFn = func(ctx context.Context, externalID string) (bool, error) { return false, dbErr }

	err := f.svc.DeleteAccount(context.Background(), "E", "any")

	var derr *DeletionError
	if !errors.As(err, &derr) || derr.Stage != StageLocalStore {
		t.Fatalf("expected local store stage failure, got %v", err)
	}
	if !derr.Inconsistent() {
		t.Error("expected the failure to be flagged inconsistent")
	}
	if !errors.Is(err, ErrLocalStoreFailure) || !errors.Is(err, dbErr) {
		t.Errorf("expected ErrLocalStoreFailure wrapping cause, got %v", err)
	}
	if len(f.idp.calls) != 1 {
		t.Errorf("expected identity provider delete, got %d calls", len(f.idp.calls))
	}
	last := f.audit.recorded[len(f.audit.recorded)-1]
	if last.Stage != string(StateLocalDeleteFailed) || last.Error == "" {
		t.Errorf("unexpected audit: %+v", last)
	}
}

func TestDeleteAccount_RowVanishedBeforeDelete(t *testing.T) {
	f := newFixture()
	f.seed(t, "E")
	f.store.deleteFn = func(ctx context.Context, externalID string) (bool, error) { return false, nil }

	err := f.svc.DeleteAccount(context.Background(), "E", "any")

	var derr *DeletionError
	if !errors.As(err, &derr) || derr.Stage != StageLocalStore {
		t.Fatalf("expected local store stage failure, got %v", err)
	}
	if derr.Inconsistent() {
		t.Error("a row removed by someone else is not an inconsistent state")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound as cause, got %v", err)
	}
}

func TestDeleteAccount_ConcurrentSameAccount(t *testing.T) {
	f := newFixture()
	f.seed(t, "E")

	entered := make(chan struct{})
	release := make(chan struct{})
	f.pub.publishFn = func(ctx context.Context, externalID, reason string) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- f.svc.DeleteAccount(context.Background(), "E", "first")
	}()
	<-entered

	err := f.svc.DeleteAccount(context.Background(), "E", "second")
	if !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("expected ErrConcurrentModification, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first deletion failed: %v", err)
	}
	if len(f.pub.calls) != 1 {
		t.Errorf("expected a single publish, got %d", len(f.pub.calls))
	}
	if f.svc.locks.size() != 0 {
		t.Errorf("expected lock table to be empty, got %d entries", f.svc.locks.size())
	}

	// Once finished, a repeat deletion sees the account as gone.
	if err := f.svc.DeleteAccount(context.Background(), "E", "third"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAccount_WhileRegistrationRunning(t *testing.T) {
	f := newFixture()
	f.seed(t, "E")

	entered := make(chan struct{})
	release := make(chan struct{})
	f.store.saveFn = func(ctx context.Context, user *models.User) error {
		close(entered)
		<-release
		return f.store.MemoryUserStore.Save(ctx, user)
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := f.svc.Register(context.Background(), RegisterInput{ExternalID: "E", Username: "renamed"})
		done <- err
	}()
	<-entered

	err := f.svc.DeleteAccount(context.Background(), "E", "")
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if strings.Contains(err.Error(), "deletion") {
		t.Errorf("error should not claim a deletion is running: %q", err.Error())
	}
	if len(f.pub.calls) != 0 {
		t.Errorf("expected no publish, got %d", len(f.pub.calls))
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("registration failed: %v", err)
	}
}

func TestDeleteAccount_AuditFailureDoesNotChangeResult(t *testing.T) {
	f := newFixture()
	f.seed(t, "E")
	f.audit.err = errors.New("audit table missing")

	if err := f.svc.DeleteAccount(context.Background(), "E", "any"); err != nil {
		t.Fatalf("expected success despite audit failure, got %v", err)
	}
}

func TestDeleteAccount_BlankID(t *testing.T) {
	f := newFixture()
	if err := f.svc.DeleteAccount(context.Background(), " ", "any"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
