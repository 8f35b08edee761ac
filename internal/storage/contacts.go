package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/havenmind/crisis-engine/internal/notify"
)

// ContactStore keeps each user's emergency contact list as one sealed blob.
// It satisfies notify.ContactDirectory.
type ContactStore struct {
	store *SealedStore
}

func NewContactStore(store *SealedStore) *ContactStore {
	if store == nil {
		panic("storage: sealed store cannot be nil")
	}
	return &ContactStore{store: store}
}

var _ notify.ContactDirectory = (*ContactStore)(nil)

func contactKey(userRef string) string {
	return "contacts/" + userRef
}

// Contacts returns the user's contact list. Users with no stored list get an
// empty slice.
func (s *ContactStore) Contacts(ctx context.Context, userRef string) ([]notify.Contact, error) {
	data, err := s.store.Get(ctx, contactKey(userRef))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var contacts []notify.Contact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, fmt.Errorf("storage: decode contacts: %w", err)
	}
	return contacts, nil
}

// SaveContacts replaces the user's contact list.
func (s *ContactStore) SaveContacts(ctx context.Context, userRef string, contacts []notify.Contact) error {
	data, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("storage: encode contacts: %w", err)
	}
	return s.store.Put(ctx, contactKey(userRef), data)
}
