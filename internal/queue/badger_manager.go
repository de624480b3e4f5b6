package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
)

// txnRetries bounds optimistic transaction retries when concurrent pops
// race for the same message
const txnRetries = 20

// bands in strict pop-precedence order
var bands = []string{models.QueueHigh, models.QueueMedium, models.QueueLow}

// BadgerManager implements the three-band persistent queue on BadgerDB.
//
// Key layout per band:
//
//	queue:{band}:msg:{id}                   -> message JSON
//	queue:{band}:ready:{seq:020d}:{id}      -> arrival order (tail pushes)
//	queue:{band}:hidden:{visible:020d}:{id} -> due order (head pushes,
//	                                           delayed retries, claims)
//
// Every message holds exactly one index entry. Pop serves due hidden
// entries before ready entries, which is what gives head pushes and
// redeliveries their place ahead of the tail.
type BadgerManager struct {
	db                *badger.DB
	logger            arbor.ILogger
	visibilityTimeout time.Duration
	maxReceive        int
	seq               uint64
}

// NewBadgerManager creates a new Badger-backed queue manager. The database
// handle is shared with the storage layer and stays open after Close.
func NewBadgerManager(db *badger.DB, logger arbor.ILogger, visibilityTimeout time.Duration, maxReceive int) (*BadgerManager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 5
	}

	return &BadgerManager{
		db:                db,
		logger:            logger,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		// Seeding from the clock keeps new ready keys sorting after the
		// ones persisted by a previous run.
		seq: uint64(time.Now().UnixNano()),
	}, nil
}

// update retries the transaction on commit conflicts. Transactions passed
// here must reset any captured state at the top, they can run more than
// once.
func (m *BadgerManager) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < txnRetries; i++ {
		err = m.db.Update(fn)
		if err != badger.ErrConflict {
			return err
		}
	}
	return fmt.Errorf("queue transaction conflict persisted after %d retries: %w", txnRetries, err)
}

// PushTail appends an item to the back of a band
func (m *BadgerManager) PushTail(ctx context.Context, band string, item *models.WorkItem) error {
	msg, data, err := m.newMessage(band, item, time.Now())
	if err != nil {
		return err
	}

	seq := atomic.AddUint64(&m.seq, 1)
	return m.update(func(txn *badger.Txn) error {
		if err := txn.Set(m.msgKey(band, msg.ID), data); err != nil {
			return err
		}
		return txn.Set(m.readyKey(band, seq, msg.ID), []byte{})
	})
}

// PushHead inserts an item at the front of a band
func (m *BadgerManager) PushHead(ctx context.Context, band string, item *models.WorkItem) error {
	return m.PushHeadDelayed(ctx, band, item, 0)
}

// PushHeadDelayed inserts an item at the front of a band, hidden until the
// delay elapses
func (m *BadgerManager) PushHeadDelayed(ctx context.Context, band string, item *models.WorkItem, delay time.Duration) error {
	visibleAt := time.Now().Add(delay)
	msg, data, err := m.newMessage(band, item, visibleAt)
	if err != nil {
		return err
	}

	return m.update(func(txn *badger.Txn) error {
		if err := txn.Set(m.msgKey(band, msg.ID), data); err != nil {
			return err
		}
		return txn.Set(m.hiddenKey(band, visibleAt, msg.ID), []byte{})
	})
}

// Pop claims the first deliverable message, scanning high, medium, low in
// order. Claimed messages stay hidden for the visibility timeout; the
// returned func acknowledges (deletes) the message once the work is done.
// Returns models.ErrNoMessage when every band is empty.
func (m *BadgerManager) Pop(ctx context.Context) (*models.QueueMessage, func() error, error) {
	var claimed models.QueueMessage
	found := false

	err := m.update(func(txn *badger.Txn) error {
		found = false

		now := time.Now()
		for _, band := range bands {
			msg, indexKey, err := m.nextDeliverable(txn, band, now)
			if err != nil {
				return err
			}
			if msg == nil {
				continue
			}

			// Claim: move the index entry to the new visibility deadline
			msg.ReceiveCount++
			msg.VisibleAt = now.Add(m.visibilityTimeout)

			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("failed to marshal queue message: %w", err)
			}
			if err := txn.Set(m.msgKey(band, msg.ID), data); err != nil {
				return err
			}
			if err := txn.Delete(indexKey); err != nil {
				return err
			}
			if err := txn.Set(m.hiddenKey(band, msg.VisibleAt, msg.ID), []byte{}); err != nil {
				return err
			}

			claimed = *msg
			found = true
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, models.ErrNoMessage
	}

	band, msgID := claimed.Band, claimed.ID
	ackFn := func() error {
		return m.ack(band, msgID)
	}
	return &claimed, ackFn, nil
}

// nextDeliverable returns the first due message of a band together with
// the index key holding its slot, or nil when nothing in the band is due.
// Poison messages found along the way are dropped in place.
func (m *BadgerManager) nextDeliverable(txn *badger.Txn, band string, now time.Time) (*models.QueueMessage, []byte, error) {
	// Due hidden entries first (head pushes, expired claims), then the
	// ready tail in arrival order
	msg, key, err := m.scanIndex(txn, band, m.hiddenPrefix(band), true, now)
	if err != nil || msg != nil {
		return msg, key, err
	}
	return m.scanIndex(txn, band, m.readyPrefix(band), false, now)
}

func (m *BadgerManager) scanIndex(txn *badger.Txn, band string, prefix []byte, timeOrdered bool, now time.Time) (*models.QueueMessage, []byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)

		id, ts, err := m.parseIndexKey(prefix, key)
		if err != nil {
			continue
		}
		if timeOrdered && time.Unix(0, ts).After(now) {
			// Keys sort by due time, nothing further is due either
			break
		}

		item, err := txn.Get(m.msgKey(band, id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				// Dangling index entry, clean it up
				if err := txn.Delete(key); err != nil {
					return nil, nil, err
				}
				continue
			}
			return nil, nil, err
		}

		var msg models.QueueMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return nil, nil, err
		}

		if msg.ReceiveCount >= m.maxReceive {
			// Poison message, drop it to keep the band moving
			if err := txn.Delete(key); err != nil {
				return nil, nil, err
			}
			if err := txn.Delete(m.msgKey(band, id)); err != nil {
				return nil, nil, err
			}
			m.logger.Warn().
				Str("band", band).
				Str("message_id", id).
				Str("article_id", msg.Item.ArticleID).
				Int("receive_count", msg.ReceiveCount).
				Msg("Dropping message after too many deliveries")
			continue
		}

		return &msg, key, nil
	}
	return nil, nil, nil
}

// ack deletes a claimed message and its index entry. Missing keys are
// tolerated so a late ack after a drain or poison drop is a no-op.
func (m *BadgerManager) ack(band, msgID string) error {
	return m.update(func(txn *badger.Txn) error {
		item, err := txn.Get(m.msgKey(band, msgID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}

		var msg models.QueueMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return err
		}

		if err := txn.Delete(m.hiddenKey(band, msg.VisibleAt, msgID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Delete(m.msgKey(band, msgID))
	})
}

// Extend pushes out the visibility deadline of a claimed message
func (m *BadgerManager) Extend(ctx context.Context, band, messageID string, duration time.Duration) error {
	return m.update(func(txn *badger.Txn) error {
		item, err := txn.Get(m.msgKey(band, messageID))
		if err != nil {
			return err
		}

		var msg models.QueueMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return err
		}

		oldVisibleAt := msg.VisibleAt
		msg.VisibleAt = time.Now().Add(duration)

		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(band, messageID), data); err != nil {
			return err
		}
		if err := txn.Delete(m.hiddenKey(band, oldVisibleAt, messageID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(m.hiddenKey(band, msg.VisibleAt, messageID), []byte{})
	})
}

// DrainMatching removes every message belonging to the given job across
// all bands, waiting or claimed. Returns the number removed.
func (m *BadgerManager) DrainMatching(ctx context.Context, jobID string) (int, error) {
	drained := 0
	err := m.update(func(txn *badger.Txn) error {
		drained = 0
		for _, band := range bands {
			for _, prefix := range [][]byte{m.readyPrefix(band), m.hiddenPrefix(band)} {
				n, err := m.drainIndex(txn, band, prefix, jobID)
				if err != nil {
					return err
				}
				drained += n
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if drained > 0 {
		m.logger.Info().
			Str("job_id", jobID).
			Int("drained", drained).
			Msg("Drained queued messages for job")
	}
	return drained, nil
}

func (m *BadgerManager) drainIndex(txn *badger.Txn, band string, prefix []byte, jobID string) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	drained := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)

		id, _, err := m.parseIndexKey(prefix, key)
		if err != nil {
			continue
		}

		item, err := txn.Get(m.msgKey(band, id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				if err := txn.Delete(key); err != nil {
					return 0, err
				}
				continue
			}
			return 0, err
		}

		var msg models.QueueMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return 0, err
		}
		if msg.Item.JobID != jobID {
			continue
		}

		if err := txn.Delete(key); err != nil {
			return 0, err
		}
		if err := txn.Delete(m.msgKey(band, id)); err != nil {
			return 0, err
		}
		drained++
	}
	return drained, nil
}

// ContainsArticle reports whether any band holds a message for the
// article, claimed or not
func (m *BadgerManager) ContainsArticle(ctx context.Context, articleID string) (bool, error) {
	found := false
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for _, band := range bands {
			prefix := []byte(fmt.Sprintf("queue:%s:msg:", band))
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				var msg models.QueueMessage
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &msg)
				}); err != nil {
					m.logger.Warn().Err(err).Str("key", string(it.Item().KeyCopy(nil))).Msg("Skipping unreadable queue message")
					continue
				}
				if msg.Item.ArticleID == articleID {
					found = true
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to scan queue for article: %w", err)
	}
	return found, nil
}

// Lengths reports the number of stored messages per band, claimed
// messages included
func (m *BadgerManager) Lengths(ctx context.Context) (map[string]int, error) {
	lengths := make(map[string]int, len(bands))
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, band := range bands {
			prefix := []byte(fmt.Sprintf("queue:%s:msg:", band))
			count := 0
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				count++
			}
			lengths[band] = count
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lengths, nil
}

// Close is a no-op, the shared database is closed by the storage manager
func (m *BadgerManager) Close() error {
	return nil
}

// Helpers

func (m *BadgerManager) newMessage(band string, item *models.WorkItem, visibleAt time.Time) (*models.QueueMessage, []byte, error) {
	if item == nil {
		return nil, nil, errors.New("work item is required")
	}
	if band != models.QueueHigh && band != models.QueueMedium && band != models.QueueLow {
		return nil, nil, fmt.Errorf("unknown queue band: %s", band)
	}

	msg := &models.QueueMessage{
		ID:           uuid.New().String(),
		Band:         band,
		Item:         *item,
		ReceiveCount: 0,
		VisibleAt:    visibleAt,
		EnqueuedAt:   time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal queue message: %w", err)
	}
	return msg, data, nil
}

func (m *BadgerManager) msgKey(band, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", band, id))
}

func (m *BadgerManager) readyKey(band string, seq uint64, id string) []byte {
	// Zero pad so byte order matches numeric order
	return []byte(fmt.Sprintf("queue:%s:ready:%020d:%s", band, seq, id))
}

func (m *BadgerManager) hiddenKey(band string, visibleAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:hidden:%020d:%s", band, visibleAt.UnixNano(), id))
}

func (m *BadgerManager) readyPrefix(band string) []byte {
	return []byte(fmt.Sprintf("queue:%s:ready:", band))
}

func (m *BadgerManager) hiddenPrefix(band string) []byte {
	return []byte(fmt.Sprintf("queue:%s:hidden:", band))
}

// parseIndexKey splits "{prefix}{20-digit-number}:{id}" into its parts
func (m *BadgerManager) parseIndexKey(prefix, key []byte) (string, int64, error) {
	if len(key) <= len(prefix) {
		return "", 0, fmt.Errorf("invalid key length")
	}
	suffix := string(key[len(prefix):])
	if len(suffix) < 22 {
		return "", 0, fmt.Errorf("invalid suffix length")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return "", 0, err
	}
	return suffix[21:], ts, nil
}
