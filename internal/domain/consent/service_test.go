package consent

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/portal/internal/platform/apperr"
)

// -- Mock Repository --

type mockRepo struct {
	reqs map[uuid.UUID]*ConsentRequest
}

func newMockRepo() *mockRepo {
	return &mockRepo{reqs: make(map[uuid.UUID]*ConsentRequest)}
}

func (m *mockRepo) Create(_ context.Context, req *ConsentRequest) error {
	req.ID = uuid.New()
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	m.reqs[req.ID] = req
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*ConsentRequest, error) {
	r, ok := m.reqs[id]
	if !ok {
		return nil, apperr.NotFoundf("consent request")
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*ConsentRequest, int, error) {
	return m.filter(func(r *ConsentRequest) bool { return r.PatientID == patientID })
}

func (m *mockRepo) ListByRequester(_ context.Context, requesterID string, limit, offset int) ([]*ConsentRequest, int, error) {
	return m.filter(func(r *ConsentRequest) bool { return r.RequesterID == requesterID })
}

func (m *mockRepo) ListByPair(_ context.Context, patientID, requesterID string) ([]*ConsentRequest, error) {
	out, _, _ := m.filter(func(r *ConsentRequest) bool {
		return r.PatientID == patientID && r.RequesterID == requesterID
	})
	return out, nil
}

func (m *mockRepo) filter(keep func(*ConsentRequest) bool) ([]*ConsentRequest, int, error) {
	var out []*ConsentRequest
	for _, r := range m.reqs {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, len(out), nil
}

func (m *mockRepo) MarkResponded(_ context.Context, id uuid.UUID, status Status, granted []DataType, respondedAt time.Time, expiresAt *time.Time, message, signature *string) (bool, error) {
	r, ok := m.reqs[id]
	if !ok || r.Status != StatusPending {
		return false, nil
	}
	r.Status = status
	r.GrantedDataTypes = granted
	r.RespondedAt = &respondedAt
	r.ExpiresAt = expiresAt
	if message != nil {
		r.Message = message
	}
	r.Signature = signature
	r.UpdatedAt = respondedAt
	return true, nil
}

func (m *mockRepo) MarkRevoked(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	r, ok := m.reqs[id]
	if !ok || r.Status != StatusApproved || r.ExpiresAt == nil || r.ExpiresAt.Before(now) {
		return false, nil
	}
	r.Status = StatusRevoked
	r.UpdatedAt = now
	return true, nil
}

// -- Mock Notifier --

type sentNotification struct {
	event       string
	recipientID string
	consentID   uuid.UUID
}

type mockNotifier struct {
	sent []sentNotification
	err  error
}

func (m *mockNotifier) NotifyConsent(_ context.Context, event, recipientID string, req *ConsentRequest) error {
	m.sent = append(m.sent, sentNotification{event, recipientID, req.ID})
	return m.err
}

// -- Helpers --

func newTestService(t *testing.T) (*Service, *mockRepo, *mockNotifier) {
	t.Helper()
	repo := newMockRepo()
	notifier := &mockNotifier{}
	svc := NewService(repo, notifier, zerolog.Nop())
	return svc, repo, notifier
}

func fixedClock(s *Service, at time.Time) {
	s.now = func() time.Time { return at }
}

func createPending(t *testing.T, svc *Service) *ConsentRequest {
	t.Helper()
	req, err := svc.Create(context.Background(), "doc-1", "Dr. Osei", CreateInput{
		PatientID:    "pat-1",
		Purpose:      "follow-up review",
		DataTypes:    []DataType{DataTypeLabResults, DataTypeImaging},
		DurationDays: 30,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return req
}

// -- Create --

func TestCreate_Valid(t *testing.T) {
	svc, _, notifier := newTestService(t)
	req := createPending(t, svc)

	if req.Status != StatusPending {
		t.Errorf("status = %s, want pending", req.Status)
	}
	if req.ID == uuid.Nil {
		t.Error("expected an assigned id")
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.sent))
	}
	if n := notifier.sent[0]; n.event != EventRequested || n.recipientID != "pat-1" {
		t.Errorf("notification = %+v, want consent_requested to pat-1", n)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, notifier := newTestService(t)
	base := CreateInput{
		PatientID:    "pat-1",
		Purpose:      "review",
		DataTypes:    []DataType{DataTypeLabResults},
		DurationDays: 30,
	}

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"missing patient", func(in *CreateInput) { in.PatientID = "" }},
		{"missing purpose", func(in *CreateInput) { in.Purpose = "" }},
		{"empty data types", func(in *CreateInput) { in.DataTypes = nil }},
		{"unknown data type", func(in *CreateInput) { in.DataTypes = []DataType{"diary"} }},
		{"zero duration", func(in *CreateInput) { in.DurationDays = 0 }},
		{"negative duration", func(in *CreateInput) { in.DurationDays = -7 }},
		{"self request", func(in *CreateInput) { in.PatientID = "doc-1" }},
		{"inverted window", func(in *CreateInput) {
			start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
			end := start.AddDate(0, -1, 0)
			in.RangeStart, in.RangeEnd = &start, &end
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			_, err := svc.Create(context.Background(), "doc-1", "Dr. Osei", in)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
	if len(notifier.sent) != 0 {
		t.Errorf("rejected creates must not notify, got %d", len(notifier.sent))
	}
}

func TestCreate_DedupesDataTypes(t *testing.T) {
	svc, _, _ := newTestService(t)
	req, err := svc.Create(context.Background(), "doc-1", "Dr. Osei", CreateInput{
		PatientID:    "pat-1",
		Purpose:      "review",
		DataTypes:    []DataType{DataTypeLabResults, DataTypeLabResults, DataTypeImaging},
		DurationDays: 7,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(req.RequestedDataTypes) != 2 {
		t.Errorf("requested types = %v, want 2 distinct", req.RequestedDataTypes)
	}
}

// -- Respond --

func TestRespond_Approve(t *testing.T) {
	svc, _, notifier := newTestService(t)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	fixedClock(svc, now)

	req := createPending(t, svc)
	got, err := svc.Respond(context.Background(), req.ID, "pat-1", RespondInput{Approve: true})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if got.Status != StatusApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	if got.RespondedAt == nil || !got.RespondedAt.Equal(now) {
		t.Errorf("responded_at = %v, want %v", got.RespondedAt, now)
	}
	wantExp := now.AddDate(0, 0, 30)
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(wantExp) {
		t.Errorf("expires_at = %v, want %v", got.ExpiresAt, wantExp)
	}
	// Omitted granted set means everything requested.
	if len(got.GrantedDataTypes) != len(req.RequestedDataTypes) {
		t.Errorf("granted = %v, want full requested set", got.GrantedDataTypes)
	}
	// Exactly one notification per transition: the create plus this approval.
	if len(notifier.sent) != 2 {
		t.Fatalf("notifications = %d, want 2", len(notifier.sent))
	}
	if n := notifier.sent[1]; n.event != EventApproved || n.recipientID != "doc-1" {
		t.Errorf("notification = %+v, want consent_approved to doc-1", n)
	}
}

func TestRespond_ApproveNarrowedScope(t *testing.T) {
	svc, _, _ := newTestService(t)
	req := createPending(t, svc)

	got, err := svc.Respond(context.Background(), req.ID, "pat-1", RespondInput{
		Approve:          true,
		GrantedDataTypes: []DataType{DataTypeLabResults},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(got.GrantedDataTypes) != 1 || got.GrantedDataTypes[0] != DataTypeLabResults {
		t.Errorf("granted = %v, want only lab_results", got.GrantedDataTypes)
	}
}

func TestRespond_GrantOutsideRequestRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	req := createPending(t, svc)

	_, err := svc.Respond(context.Background(), req.ID, "pat-1", RespondInput{
		Approve:          true,
		GrantedDataTypes: []DataType{DataTypeVaccinations},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestRespond_StoresSignature(t *testing.T) {
	svc, repo, _ := newTestService(t)
	req := createPending(t, svc)

	sig := "sig:pat-1:2025-06-01"
	got, err := svc.Respond(context.Background(), req.ID, "pat-1", RespondInput{
		Approve:   true,
		Signature: &sig,
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got.Signature == nil || *got.Signature != sig {
		t.Errorf("returned signature = %v, want %q", got.Signature, sig)
	}

	stored, err := repo.GetByID(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Signature == nil || *stored.Signature != sig {
		t.Errorf("stored signature = %v, want %q", stored.Signature, sig)
	}
}

func TestRespond_Deny(t *testing.T) {
	svc, _, notifier := newTestService(t)
	req := createPending(t, svc)

	msg := "not comfortable sharing imaging"
	got, err := svc.Respond(context.Background(), req.ID, "pat-1", RespondInput{Approve: false, Message: &msg})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got.Status != StatusDenied {
		t.Errorf("status = %s, want denied", got.Status)
	}
	if got.ExpiresAt != nil {
		t.Error("denied requests must not carry an expiry")
	}
	if n := notifier.sent[len(notifier.sent)-1]; n.event != EventDenied || n.recipientID != "doc-1" {
		t.Errorf("notification = %+v, want consent_denied to doc-1", n)
	}
}

func TestRespond_OnlyOnce(t *testing.T) {
	svc, _, notifier := newTestService(t)
	req := createPending(t, svc)

	if _, err := svc.Respond(context.Background(), req.ID, "pat-1", RespondInput{Approve: false}); err != nil {
		t.Fatalf("first respond: %v", err)
	}
	_, err := svc.Respond(context.Background(), req.ID, "pat-1", RespondInput{Approve: true})
	if !errors.Is(err, apperr.ErrInvalidStateTransition) {
		t.Errorf("second respond err = %v, want ErrInvalidStateTransition", err)
	}
	// The failed second attempt must not notify.
	if len(notifier.sent) != 2 {
		t.Errorf("notifications = %d, want 2 (request + deny)", len(notifier.sent))
	}
}

func TestRespond_LostRace(t *testing.T) {
	svc, repo, _ := newTestService(t)
	req := createPending(t, svc)

	// Simulate another writer landing between our read and our write by
	// flipping the stored row after the service has already validated.
	raced := &racingRepo{mockRepo: repo, flipOnRead: req.ID}
	svc.repo = raced

	_, err := svc.Respond(context.Background(), req.ID, "pat-1", RespondInput{Approve: true})
	if !errors.Is(err, apperr.ErrConcurrentModification) {
		t.Errorf("err = %v, want ErrConcurrentModification", err)
	}
}

// racingRepo reports pending on read, then lets a concurrent deny land
// before the conditional write runs.
type racingRepo struct {
	*mockRepo
	flipOnRead uuid.UUID
	flipped    bool
}

func (r *racingRepo) GetByID(ctx context.Context, id uuid.UUID) (*ConsentRequest, error) {
	got, err := r.mockRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if id == r.flipOnRead && !r.flipped {
		r.flipped = true
		now := time.Now()
		r.mockRepo.MarkResponded(ctx, id, StatusDenied, nil, now, nil, nil, nil)
		got.Status = StatusPending
	}
	return got, nil
}

func TestRespond_WrongParty(t *testing.T) {
	svc, _, _ := newTestService(t)
	req := createPending(t, svc)

	// The requester must not respond to their own request.
	_, err := svc.Respond(context.Background(), req.ID, "doc-1", RespondInput{Approve: true})
	if !errors.Is(err, apperr.ErrAccessDenied) {
		t.Errorf("requester respond err = %v, want ErrAccessDenied", err)
	}

	// A third party learns nothing, not even that the request exists.
	_, err = svc.Respond(context.Background(), req.ID, "pat-other", RespondInput{Approve: true})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("third-party respond err = %v, want ErrNotFound", err)
	}
}

func TestRespond_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Respond(context.Background(), uuid.New(), "pat-1", RespondInput{Approve: true})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// -- Revoke --

func TestRevoke_Approved(t *testing.T) {
	svc, _, notifier := newTestService(t)
	req := createPending(t, svc)
	if _, err := svc.Respond(context.Background(), req.ID, "pat-1", RespondInput{Approve: true}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	got, err := svc.Revoke(context.Background(), req.ID, "pat-1")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if got.Status != StatusRevoked {
		t.Errorf("status = %s, want revoked", got.Status)
	}
	if got.ExpiresAt == nil {
		t.Error("revocation must keep the original expiry for the audit trail")
	}
	if n := notifier.sent[len(notifier.sent)-1]; n.event != EventRevoked || n.recipientID != "doc-1" {
		t.Errorf("notification = %+v, want consent_revoked to doc-1", n)
	}
}

func TestRevoke_AtExpiryInstant(t *testing.T) {
	// EffectiveStatus still reads approved when now equals expires_at, so
	// a revoke at that exact instant must succeed rather than surface as a
	// lost race.
	svc, _, _ := newTestService(t)
	t0 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	fixedClock(svc, t0)

	req := createPending(t, svc)
	if _, err := svc.Respond(context.Background(), req.ID, "pat-1", RespondInput{Approve: true}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	fixedClock(svc, t0.AddDate(0, 0, 30))
	got, err := svc.Revoke(context.Background(), req.ID, "pat-1")
	if err != nil {
		t.Fatalf("Revoke at the expiry instant: %v", err)
	}
	if got.Status != StatusRevoked {
		t.Errorf("status = %s, want revoked", got.Status)
	}
}

func TestRevoke_GuardedStates(t *testing.T) {
	svc, _, _ := newTestService(t)

	t.Run("pending", func(t *testing.T) {
		req := createPending(t, svc)
		_, err := svc.Revoke(context.Background(), req.ID, "pat-1")
		if !errors.Is(err, apperr.ErrInvalidStateTransition) {
			t.Errorf("err = %v, want ErrInvalidStateTransition", err)
		}
	})

	t.Run("denied", func(t *testing.T) {
		req := createPending(t, svc)
		if _, err := svc.Respond(context.Background(), req.ID, "pat-1", RespondInput{Approve: false}); err != nil {
			t.Fatalf("deny: %v", err)
		}
		_, err := svc.Revoke(context.Background(), req.ID, "pat-1")
		if !errors.Is(err, apperr.ErrInvalidStateTransition) {
			t.Errorf("err = %v, want ErrInvalidStateTransition", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
		fixedClock(svc, now)
		req := createPending(t, svc)
		if _, err := svc.Respond(context.Background(), req.ID, "pat-1", RespondInput{Approve: true}); err != nil {
			t.Fatalf("approve: %v", err)
		}
		fixedClock(svc, now.AddDate(0, 0, 31))
		_, err := svc.Revoke(context.Background(), req.ID, "pat-1")
		if !errors.Is(err, apperr.ErrInvalidStateTransition) {
			t.Errorf("revoking an expired grant: err = %v, want ErrInvalidStateTransition", err)
		}
	})

	t.Run("already revoked", func(t *testing.T) {
		fixedClock(svc, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
		req := createPending(t, svc)
		if _, err := svc.Respond(context.Background(), req.ID, "pat-1", RespondInput{Approve: true}); err != nil {
			t.Fatalf("approve: %v", err)
		}
		if _, err := svc.Revoke(context.Background(), req.ID, "pat-1"); err != nil {
			t.Fatalf("first revoke: %v", err)
		}
		_, err := svc.Revoke(context.Background(), req.ID, "pat-1")
		if !errors.Is(err, apperr.ErrInvalidStateTransition) {
			t.Errorf("second revoke err = %v, want ErrInvalidStateTransition", err)
		}
	})
}

// -- Notification failure isolation --

func TestNotifierFailureDoesNotRollBack(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	notifier.err = errors.New("broker down")

	req := createPending(t, svc)
	got, err := svc.Respond(context.Background(), req.ID, "pat-1", RespondInput{Approve: true})
	if err != nil {
		t.Fatalf("Respond should succeed despite notifier failure: %v", err)
	}
	if got.Status != StatusApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	stored, _ := repo.GetByID(context.Background(), req.ID)
	if stored.Status != StatusApproved {
		t.Errorf("stored status = %s, transition must persist", stored.Status)
	}
}

// -- Listing --

func TestList_ProjectsExpiry(t *testing.T) {
	svc, _, _ := newTestService(t)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	fixedClock(svc, now)

	req := createPending(t, svc)
	if _, err := svc.Respond(context.Background(), req.ID, "pat-1", RespondInput{Approve: true}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	fixedClock(svc, now.AddDate(0, 2, 0))
	items, total, err := svc.ListForPatient(context.Background(), "pat-1", 20, 0)
	if err != nil {
		t.Fatalf("ListForPatient: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("total = %d, items = %d, want 1", total, len(items))
	}
	if items[0].Status != StatusExpired {
		t.Errorf("listed status = %s, want expired projection", items[0].Status)
	}
}

// End to end: request, approve, access inside and past the window,
// revoke, access after revocation.
func TestConsentLifecycleScenario(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	enf := NewEnforcer(repo)
	ctx := context.Background()

	t0 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	fixedClock(svc, t0)

	req, err := svc.Create(ctx, "doc-1", "Dr. Osei", CreateInput{
		PatientID:    "pat-1",
		Purpose:      "checkup",
		DataTypes:    []DataType{DataTypeLabResults},
		DurationDays: 30,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if req.Status != StatusPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}

	approved, err := svc.Respond(ctx, req.ID, "pat-1", RespondInput{
		Approve:          true,
		GrantedDataTypes: []DataType{DataTypeLabResults},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !approved.ExpiresAt.Equal(t0.AddDate(0, 0, 30)) {
		t.Errorf("expires_at = %v, want approval time + 30d", approved.ExpiresAt)
	}

	if err := enf.CanAccess(ctx, "doc-1", "pat-1", DataTypeLabResults, t0.AddDate(0, 0, 10)); err != nil {
		t.Errorf("access at +10d should pass: %v", err)
	}
	if err := enf.CanAccess(ctx, "doc-1", "pat-1", DataTypeLabResults, t0.AddDate(0, 0, 31)); err == nil {
		t.Error("access at +31d should be refused, the grant has lapsed")
	}

	fixedClock(svc, t0.AddDate(0, 0, 10))
	revoked, err := svc.Revoke(ctx, req.ID, "pat-1")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked.Status != StatusRevoked {
		t.Errorf("status = %s, want revoked", revoked.Status)
	}
	if err := enf.CanAccess(ctx, "doc-1", "pat-1", DataTypeLabResults, t0.AddDate(0, 0, 11)); err == nil {
		t.Error("access after revocation should be refused")
	}

	// One notification per state change: request to the patient, then
	// approval and revocation to the requester.
	want := []sentNotification{
		{EventRequested, "pat-1", req.ID},
		{EventApproved, "doc-1", req.ID},
		{EventRevoked, "doc-1", req.ID},
	}
	if len(notifier.sent) != len(want) {
		t.Fatalf("notifications = %d, want %d", len(notifier.sent), len(want))
	}
	for i, n := range notifier.sent {
		if n != want[i] {
			t.Errorf("notification[%d] = %+v, want %+v", i, n, want[i])
		}
	}
}

func TestGet_PartyScoped(t *testing.T) {
	svc, _, _ := newTestService(t)
	req := createPending(t, svc)

	for _, uid := range []string{"pat-1", "doc-1"} {
		if _, err := svc.Get(context.Background(), req.ID, uid); err != nil {
			t.Errorf("Get as %s: %v", uid, err)
		}
	}
	_, err := svc.Get(context.Background(), req.ID, "doc-2")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("third-party get err = %v, want ErrNotFound", err)
	}
}
