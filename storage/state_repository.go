// Package storage keeps the local participant state between runs.
package storage

import (
	"fmt"
	"log/slog"

	"chat-engine/domain"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const statePrefix = "state:"

type StateRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewStateRepository(db *badger.DB, log *slog.Logger) StateRepository {
	return StateRepository{db: db, log: log}
}

// Save replaces the stored state of identity.
// The key is "state:{identity}", the value a protobuf Struct, so only
// JSON-like values survive: numbers come back as float64.
func (r StateRepository) Save(identity string, state domain.State) error {
	pbState, err := structpb.NewStruct(state)
	if err != nil {
		return fmt.Errorf("encode state of %s: %w", identity, err)
	}
	bytes, err := proto.Marshal(pbState)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(statePrefix+identity), bytes)
	})
}

// Load returns the stored state of identity, empty when nothing was saved.
func (r StateRepository) Load(identity string) (domain.State, error) {
	var bytes []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(statePrefix + identity))
		if err != nil {
			return err
		}
		bytes, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case err == badger.ErrKeyNotFound:
		r.log.Debug("No stored state", "identity", identity)
		return domain.State{}, nil
	case err != nil:
		return nil, err
	}

	var pbState structpb.Struct
	if err := proto.Unmarshal(bytes, &pbState); err != nil {
		return nil, fmt.Errorf("decode state of %s: %w", identity, err)
	}
	return pbState.AsMap(), nil
}

// Delete forgets the stored state of identity.
func (r StateRepository) Delete(identity string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(statePrefix + identity))
	})
}

// Open opens the badger database at dir with quiet logging.
func Open(dir string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open state store %s: %w", dir, err)
	}
	return db, nil
}
