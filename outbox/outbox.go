package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"evledger/entity"
	"evledger/internal"
	"evledger/metrics/counters"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	featureName      = "Outbox"
	queueSize        = 4096
	sessionPrefix    = "session/"
	connectorPrefix  = "connector/"
	defaultFlushTime = 5 * time.Second
)

// Store is the durable destination of queued records
type Store interface {
	SaveSession(session *entity.Session) error
	SaveConnectorSnapshot(snapshot *entity.ConnectorSnapshot) error
}

type record struct {
	key   []byte
	value []byte
}

// Outbox keeps finalized sessions and connector snapshots in badger until the store accepts them.
// Enqueueing never blocks: a full queue drops the record and counts it. Records survive
// a restart when a path is configured.
type Outbox struct {
	db       *badger.DB
	store    Store
	logger   internal.LogHandler
	interval time.Duration
	queue    chan record
	wg       sync.WaitGroup
	flushMux sync.Mutex
	closed   chan struct{}
	once     sync.Once
	dropped  atomic.Int64
}

// Open uses an in-memory database when path is empty
func Open(path string, store Store, logger internal.LogHandler) (*Outbox, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	return &Outbox{
		db:       db,
		store:    store,
		logger:   logger,
		interval: defaultFlushTime,
		queue:    make(chan record, queueSize),
		closed:   make(chan struct{}),
	}, nil
}

func (o *Outbox) SetFlushInterval(interval time.Duration) {
	if interval > 0 {
		o.interval = interval
	}
}

// Start runs the writer and the periodic flush until ctx ends or Close is called
func (o *Outbox) Start(ctx context.Context) {
	o.wg.Add(2)
	go o.writer()
	go o.flusher(ctx)
}

func (o *Outbox) OnSessionFinalized(session *entity.Session) {
	o.enqueue([]byte(fmt.Sprintf("%s%010d", sessionPrefix, session.Id)), session)
}

func (o *Outbox) OnConnectorChanged(snapshot *entity.ConnectorSnapshot) {
	o.enqueue([]byte(fmt.Sprintf("%s%s/%d", connectorPrefix, snapshot.ChargePointId, snapshot.ConnectorId)), snapshot)
}

func (o *Outbox) enqueue(key []byte, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		o.logError(fmt.Sprintf("encode %s", key), err)
		return
	}
	r := record{key: key, value: data}
	select {
	case <-o.closed:
		o.drop(r, "closed")
		return
	default:
	}
	select {
	case o.queue <- r:
	default:
		o.drop(r, "queue full")
	}
}

func (o *Outbox) drop(r record, reason string) {
	o.dropped.Add(1)
	kind := "connector"
	if bytes.HasPrefix(r.key, []byte(sessionPrefix)) {
		kind = "session"
	}
	counters.CountDroppedRecord(kind)
	o.logError(fmt.Sprintf("drop %s", r.key), errors.New(reason))
}

// Dropped returns the number of records lost to a full or closed queue
func (o *Outbox) Dropped() int64 {
	return o.dropped.Load()
}

func (o *Outbox) writer() {
	defer o.wg.Done()
	for {
		select {
		case r := <-o.queue:
			o.put(r)
		case <-o.closed:
			for {
				select {
				case r := <-o.queue:
					o.put(r)
				default:
					return
				}
			}
		}
	}
}

func (o *Outbox) put(r record) {
	err := o.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.key, r.value)
	})
	if err != nil {
		o.logError(fmt.Sprintf("write %s", r.key), err)
	}
}

func (o *Outbox) flusher(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := o.Flush(); err != nil {
				o.logError("flush", err)
			}
		case <-ctx.Done():
			return
		case <-o.closed:
			return
		}
	}
}

// Flush hands every pending record to the store and removes the accepted ones.
// Records the store rejects stay queued for the next flush.
func (o *Outbox) Flush() (int, error) {
	o.flushMux.Lock()
	defer o.flushMux.Unlock()
	if o.store == nil {
		return 0, nil
	}
	pending, err := o.pending()
	if err != nil {
		return 0, err
	}
	flushed := 0
	var errs []error
	for _, r := range pending {
		if err = o.save(r); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.key, err))
			continue
		}
		if err = o.remove(r); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.key, err))
			continue
		}
		flushed++
	}
	return flushed, errors.Join(errs...)
}

// Pending returns the number of records not yet accepted by the store
func (o *Outbox) Pending() int {
	pending, _ := o.pending()
	return len(pending)
}

func (o *Outbox) pending() ([]record, error) {
	var pending []record
	err := o.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			pending = append(pending, record{key: item.KeyCopy(nil), value: value})
		}
		return nil
	})
	return pending, err
}

func (o *Outbox) save(r record) error {
	switch {
	case bytes.HasPrefix(r.key, []byte(sessionPrefix)):
		session := &entity.Session{}
		if err := json.Unmarshal(r.value, session); err != nil {
			return err
		}
		return o.store.SaveSession(session)
	case bytes.HasPrefix(r.key, []byte(connectorPrefix)):
		snapshot := &entity.ConnectorSnapshot{}
		if err := json.Unmarshal(r.value, snapshot); err != nil {
			return err
		}
		return o.store.SaveConnectorSnapshot(snapshot)
	}
	return fmt.Errorf("unknown record")
}

// remove deletes the record unless it was overwritten after it was read
func (o *Outbox) remove(r record) error {
	return o.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(r.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(current, r.value) {
			return nil
		}
		return txn.Delete(r.key)
	})
}

// Close drains the queue, makes a last flush attempt and closes the database
func (o *Outbox) Close() error {
	o.once.Do(func() {
		close(o.closed)
	})
	o.wg.Wait()
	// the writer may not have been started
drain:
	for {
		select {
		case r := <-o.queue:
			o.put(r)
		default:
			break drain
		}
	}
	if _, err := o.Flush(); err != nil {
		o.logError("final flush", err)
	}
	return o.db.Close()
}

func (o *Outbox) logError(text string, err error) {
	if o.logger != nil {
		o.logger.Error(fmt.Sprintf("%s: %s", featureName, text), err)
	}
}
