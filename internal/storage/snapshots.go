package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/havenmind/crisis-engine/internal/escalation"
	"github.com/havenmind/crisis-engine/internal/ledger"
)

// SnapshotStore mirrors escalation snapshots and consent records into the
// sealed KV so the mobile sync surface can read them offline. The orchestrator
// and the consent table stay canonical; a stale or missing mirror is never an
// application error upstream.
type SnapshotStore struct {
	store *SealedStore
}

func NewSnapshotStore(store *SealedStore) *SnapshotStore {
	if store == nil {
		panic("storage: sealed store cannot be nil")
	}
	return &SnapshotStore{store: store}
}

func sessionKey(sessionID string) string {
	return "sessions/" + sessionID
}

func consentKey(userRef string) string {
	return "consent/" + userRef
}

// SaveSnapshot stores the latest session snapshot.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap escalation.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("storage: encode snapshot: %w", err)
	}
	return s.store.Put(ctx, sessionKey(snap.ID), data)
}

// Snapshot returns the stored snapshot for a session. Missing sessions yield
// ErrNotFound.
func (s *SnapshotStore) Snapshot(ctx context.Context, sessionID string) (escalation.Snapshot, error) {
	data, err := s.store.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return escalation.Snapshot{}, err
	}
	var snap escalation.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return escalation.Snapshot{}, fmt.Errorf("storage: decode snapshot: %w", err)
	}
	return snap, nil
}

// SaveConsent mirrors a consent record.
func (s *SnapshotStore) SaveConsent(ctx context.Context, record ledger.ConsentRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("storage: encode consent: %w", err)
	}
	return s.store.Put(ctx, consentKey(record.UserRef), data)
}

// Consent returns the mirrored consent record for a user.
func (s *SnapshotStore) Consent(ctx context.Context, userRef string) (ledger.ConsentRecord, error) {
	data, err := s.store.Get(ctx, consentKey(userRef))
	if err != nil {
		return ledger.ConsentRecord{}, err
	}
	var record ledger.ConsentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return ledger.ConsentRecord{}, fmt.Errorf("storage: decode consent: %w", err)
	}
	return record, nil
}
