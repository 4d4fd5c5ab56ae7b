package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ifgsweep/internal/config"
	"ifgsweep/internal/logging"
	"ifgsweep/internal/scenekey"
	"ifgsweep/internal/search"
	"ifgsweep/internal/services"
)

// Entry is a record together with its derived key.
type Entry struct {
	Key    scenekey.Key
	Record search.Record
	Pair   scenekey.ScenePair
}

// Index maps keys to entries. Iteration follows the order in which each key
// first appeared, even when a later record replaced the stored entry.
type Index struct {
	entries   []Entry
	positions map[scenekey.Key]int

	// Collisions counts records whose key was already present.
	Collisions int
	// Skipped counts records dropped as malformed.
	Skipped int
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{positions: make(map[scenekey.Key]int)}
}

// Len returns the number of distinct keys.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.entries)
}

// Has reports whether key is present.
func (ix *Index) Has(key scenekey.Key) bool {
	if ix == nil {
		return false
	}
	_, ok := ix.positions[key]
	return ok
}

// Get returns the entry stored under key.
func (ix *Index) Get(key scenekey.Key) (Entry, bool) {
	if ix == nil {
		return Entry{}, false
	}
	pos, ok := ix.positions[key]
	if !ok {
		return Entry{}, false
	}
	return ix.entries[pos], true
}

// Entries returns a copy of the entries in first-appearance order.
func (ix *Index) Entries() []Entry {
	if ix == nil {
		return nil
	}
	return append([]Entry(nil), ix.entries...)
}

// Indexer builds key indexes from search records.
type Indexer struct {
	// CollisionPolicy is one of config.CollisionKeepLast (default),
	// config.CollisionKeepFirst, or config.CollisionReject.
	CollisionPolicy string
	// MalformedPolicy is config.MalformedSkip (default) or config.MalformedAbort.
	MalformedPolicy string
	// Paths are the _source object paths searched for scene lists.
	Paths  []string
	Logger *slog.Logger
}

// ErrKeyCollision is returned under the reject policy when two records share a key.
var ErrKeyCollision = errors.New("key collision")

// Index keys every record. name labels the collection in logs and errors.
func (ixr Indexer) Index(ctx context.Context, name string, records []search.Record) (*Index, error) {
	logger := logging.WithContext(ctx, logging.NewComponentLogger(ixr.Logger, "indexer"))
	policy := ixr.CollisionPolicy
	if policy == "" {
		policy = config.CollisionKeepLast
	}
	switch policy {
	case config.CollisionKeepLast, config.CollisionKeepFirst, config.CollisionReject:
	default:
		return nil, services.Wrap(services.ErrConfiguration, "index", name, fmt.Sprintf("unknown collision policy %q", policy), nil)
	}

	ix := NewIndex()
	for _, rec := range records {
		key, pair, err := scenekey.DeriveSource(rec.Source, ixr.Paths...)
		if err != nil {
			if skipErr := ixr.handleMalformed(logger, name, rec, err); skipErr != nil {
				return nil, skipErr
			}
			ix.Skipped++
			continue
		}
		entry := Entry{Key: key, Record: rec, Pair: pair}
		pos, exists := ix.positions[key]
		if !exists {
			ix.positions[key] = len(ix.entries)
			ix.entries = append(ix.entries, entry)
			continue
		}

		ix.Collisions++
		previous := ix.entries[pos].Record
		switch policy {
		case config.CollisionReject:
			return nil, services.Wrap(services.ErrValidation, "index", name,
				fmt.Sprintf("%s and %s share key %s", previous.Label(), rec.Label(), key), ErrKeyCollision)
		case config.CollisionKeepFirst:
			logging.WarnWithContext(logger, "key collision; keeping first record", "key_collision",
				append(logging.DecisionAttrs("key_collision", "kept_first", "collision_policy="+policy),
					logging.String(logging.FieldKey, key.String()),
					logging.String("kept_record", previous.Label()),
					logging.String("dropped_record", rec.Label()),
					logging.String(logging.FieldImpact, "later record ignored"),
					logging.String(logging.FieldErrorHint, "inspect the duplicate records in "+name),
				)...)
		default:
			ix.entries[pos] = entry
			logging.WarnWithContext(logger, "key collision; keeping last record", "key_collision",
				append(logging.DecisionAttrs("key_collision", "kept_last", "collision_policy="+policy),
					logging.String(logging.FieldKey, key.String()),
					logging.String("kept_record", rec.Label()),
					logging.String("dropped_record", previous.Label()),
					logging.String(logging.FieldImpact, "earlier record replaced"),
					logging.String(logging.FieldErrorHint, "inspect the duplicate records in "+name),
				)...)
		}
	}

	logger.Info("collection indexed",
		logging.String("collection_name", name),
		logging.Int("record_count", len(records)),
		logging.Int("key_count", ix.Len()),
		logging.Int("collisions", ix.Collisions),
		logging.Int("skipped", ix.Skipped),
	)
	return ix, nil
}

func (ixr Indexer) handleMalformed(logger *slog.Logger, name string, rec search.Record, err error) error {
	if ixr.MalformedPolicy == config.MalformedAbort {
		return services.Wrap(services.ErrMalformedRecord, "index", name, rec.Label(), err)
	}
	logging.WarnWithContext(logger, "malformed record skipped", "malformed_record",
		logging.String(logging.FieldRecordID, rec.Label()),
		logging.String("collection_name", name),
		logging.Error(err),
		logging.String(logging.FieldImpact, "record excluded from reconciliation"),
		logging.String(logging.FieldErrorHint, "check master_scenes and slave_scenes on the record"),
	)
	return nil
}
