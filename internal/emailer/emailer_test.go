package emailer_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushkindt/pushkind-hedwig/internal/emailer"
	"github.com/pushkindt/pushkind-hedwig/internal/mailer"
	"github.com/pushkindt/pushkind-hedwig/internal/models"
	"github.com/pushkindt/pushkind-hedwig/internal/storage"
)

type fakeStore struct {
	mu          sync.Mutex
	hubs        map[int32]*models.Hub
	emails      map[int32]*models.Email
	recipients  map[int32][]models.Recipient
	nextID      int32
	markSentErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		hubs:       make(map[int32]*models.Hub),
		emails:     make(map[int32]*models.Email),
		recipients: make(map[int32][]models.Recipient),
		nextID:     1,
	}
}

func (f *fakeStore) GetHub(_ context.Context, hubID int32) (*models.Hub, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hubs[hubID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *h
	return &copied, nil
}

func (f *fakeStore) ListHubs(context.Context) ([]models.Hub, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hubs []models.Hub
	for _, h := range f.hubs {
		hubs = append(hubs, *h)
	}
	return hubs, nil
}

func (f *fakeStore) GetEmail(_ context.Context, hubID, emailID int32) (*models.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.emails[emailID]
	if !ok || e.HubID != hubID {
		return nil, storage.ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (f *fakeStore) ListRecipients(_ context.Context, hubID, emailID int32) ([]models.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.emails[emailID]
	if !ok || e.HubID != hubID {
		return nil, nil
	}
	return append([]models.Recipient(nil), f.recipients[emailID]...), nil
}

func (f *fakeStore) CreateEmail(_ context.Context, payload models.NewEmailPayload) (*models.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &models.Email{
		ID:      f.nextID,
		HubID:   payload.HubID,
		Subject: payload.Subject,
		Body:    payload.Body,
	}
	f.nextID++
	f.emails[e.ID] = e
	for _, r := range payload.Recipients {
		f.recipients[e.ID] = append(f.recipients[e.ID], models.Recipient{
			ID:      f.nextID,
			EmailID: e.ID,
			Address: r.Address,
			Name:    r.Name,
			Fields:  r.Fields,
		})
		f.nextID++
	}
	return e, nil
}

func (f *fakeStore) MarkSent(_ context.Context, recipientID int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markSentErr != nil {
		return f.markSentErr
	}
	for emailID, rs := range f.recipients {
		for i := range rs {
			if rs[i].ID == recipientID {
				f.recipients[emailID][i].IsSent = true
				return nil
			}
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStore) ApplyReply(context.Context, int32, *string) error { return nil }
func (f *fakeStore) MarkOpened(context.Context, int32) error          { return nil }
func (f *fakeStore) AddUnsubscribe(context.Context, int32, string, *string) error {
	return nil
}

func (f *fakeStore) recipient(t *testing.T, id int32) models.Recipient {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rs := range f.recipients {
		for _, r := range rs {
			if r.ID == id {
				return r
			}
		}
	}
	t.Fatalf("recipient %d not found", id)
	return models.Recipient{}
}

type fakeMailer struct {
	mu    sync.Mutex
	sends []string
	fail  map[string]error
}

func (f *fakeMailer) Send(_ context.Context, _ *models.Hub, msg *mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[msg.To]; err != nil {
		return err
	}
	f.sends = append(f.sends, msg.To)
	return nil
}

func (f *fakeMailer) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

type fakeSub struct {
	ch chan []byte
}

func (f *fakeSub) Recv() ([]byte, error) {
	payload, ok := <-f.ch
	if !ok {
		return nil, io.EOF
	}
	return payload, nil
}

func (f *fakeSub) Close() error { return nil }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seed creates hub 1 with email 10 and two recipients (11 unsent, 12 sent).
func seed(store *fakeStore) {
	store.hubs[1] = &models.Hub{
		ID:             1,
		Sender:         "news@example.com",
		Template:       "{message}",
		UnsubscribeURL: "https://mail.example.com/u",
	}
	store.emails[10] = &models.Email{ID: 10, HubID: 1, Subject: "Hi", Body: "Hello {name}"}
	store.recipients[10] = []models.Recipient{
		{ID: 11, EmailID: 10, Address: "unsent@x.org", Fields: map[string]string{"name": "Ada"}},
		{ID: 12, EmailID: 10, Address: "sent@x.org", Fields: map[string]string{}, IsSent: true},
	}
	store.nextID = 100
}

func run(t *testing.T, store *fakeStore, m *fakeMailer, payloads ...string) {
	t.Helper()
	sub := &fakeSub{ch: make(chan []byte, len(payloads))}
	for _, p := range payloads {
		sub.ch <- []byte(p)
	}
	close(sub.ch)

	svc := emailer.New(store, m, sub, "example.com", 0, discard())
	err := svc.Run(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestRetryEmail_SkipsSentRecipients(t *testing.T) {
	store := newFakeStore()
	seed(store)
	m := &fakeMailer{}

	run(t, store, m, `{"RetryEmail":[10,1]}`)

	assert.Eventually(t, func() bool {
		return len(m.sentTo()) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"unsent@x.org"}, m.sentTo())
	assert.True(t, store.recipient(t, 11).IsSent)
}

func TestNewEmail_InsertsAndSends(t *testing.T) {
	store := newFakeStore()
	seed(store)
	m := &fakeMailer{}

	payload := models.NewEmailPayload{
		HubID:   1,
		Subject: "Launch",
		Body:    "Dear {title}",
		Recipients: []models.NewRecipient{
			{Address: "a@x.org", Name: "Ada", Fields: map[string]string{"title": "Dr"}},
			{Address: "b@x.org", Name: "Bob", Fields: map[string]string{}},
		},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	run(t, store, m, `{"NewEmail":[null,`+string(body)+`]}`)

	assert.Eventually(t, func() bool {
		return len(m.sentTo()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"a@x.org", "b@x.org"}, m.sentTo())
}

func TestMalformedPayloadSkipped(t *testing.T) {
	store := newFakeStore()
	seed(store)
	m := &fakeMailer{}

	run(t, store, m, `not json at all`, `{"Nonsense":1}`, `{"RetryEmail":[10,1]}`)

	assert.Eventually(t, func() bool {
		return len(m.sentTo()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSendFailureContinuesWithNextRecipient(t *testing.T) {
	store := newFakeStore()
	seed(store)
	store.recipients[10] = []models.Recipient{
		{ID: 11, EmailID: 10, Address: "first@x.org", Fields: map[string]string{}},
		{ID: 12, EmailID: 10, Address: "second@x.org", Fields: map[string]string{}},
	}
	m := &fakeMailer{fail: map[string]error{"first@x.org": errors.New("relay refused")}}

	run(t, store, m, `{"RetryEmail":[10,1]}`)

	assert.Eventually(t, func() bool {
		return len(m.sentTo()) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"second@x.org"}, m.sentTo())
	assert.False(t, store.recipient(t, 11).IsSent)
	assert.True(t, store.recipient(t, 12).IsSent)
}

func TestRepositoryFailureAbandonsJob(t *testing.T) {
	store := newFakeStore()
	seed(store)
	store.recipients[10] = []models.Recipient{
		{ID: 11, EmailID: 10, Address: "first@x.org", Fields: map[string]string{}},
		{ID: 12, EmailID: 10, Address: "second@x.org", Fields: map[string]string{}},
	}
	store.markSentErr = errors.New("db gone")
	m := &fakeMailer{}

	run(t, store, m, `{"RetryEmail":[10,1]}`)

	// The first recipient is submitted, the MarkSent failure abandons the
	// job before the second is attempted.
	assert.Eventually(t, func() bool {
		return len(m.sentTo()) == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"first@x.org"}, m.sentTo())
}

func TestUnknownEmailAbandonsJob(t *testing.T) {
	store := newFakeStore()
	seed(store)
	m := &fakeMailer{}

	// Email 10 belongs to hub 1; hub 2 must not see it.
	run(t, store, m, `{"RetryEmail":[10,2]}`)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, m.sentTo())
}
