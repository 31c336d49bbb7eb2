package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cryptorafts/platform/internal/common"
	"cryptorafts/platform/internal/logging"
	gormModels "cryptorafts/platform/internal/models/gorm"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
)

// Snapshot is a read view of one stored document
type Snapshot struct {
	Collection string
	ID         string
	Data       json.RawMessage
	CreateTime time.Time
	UpdateTime time.Time
}

// DataTo decodes the document body into v
func (s *Snapshot) DataTo(v any) error {
	return json.Unmarshal(s.Data, v)
}

// DocumentChange is one entry of a collection listener delivery
type DocumentChange struct {
	Type common.ChangeType
	Doc  *Snapshot
}

// Filter is an equality condition on a top-level document field
type Filter struct {
	Field string
	Value any
}

func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// DocumentRepository is a JSON document store with change listeners,
// backed by a single gorm table.
type DocumentRepository struct {
	db  *gorm.DB
	hub common.ChangeHub
}

// NewDocumentRepository creates a document store. A nil hub gets a process-local one.
func NewDocumentRepository(db *gorm.DB, hub common.ChangeHub) *DocumentRepository {
	if hub == nil {
		hub = common.NewLocalChangeHub()
	}
	return &DocumentRepository{db: db, hub: hub}
}

func (r *DocumentRepository) Get(ctx context.Context, collection, id string) (*Snapshot, error) {
	var doc gormModels.Document
	err := r.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		Take(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("failed to fetch %s/%s: %w", collection, id, err)
	}
	return toSnapshot(&doc), nil
}

// Set writes the whole document, creating it when missing
func (r *DocumentRepository) Set(ctx context.Context, collection, id string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}

	var (
		doc        gormModels.Document
		changeType common.ChangeType
	)
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("collection = ? AND id = ?", collection, id).Take(&doc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			doc = gormModels.Document{Collection: collection, ID: id, Data: datatypes.JSON(body)}
			changeType = common.ChangeAdded
			return tx.Create(&doc).Error
		}
		if err != nil {
			return err
		}
		doc.Data = datatypes.JSON(body)
		changeType = common.ChangeModified
		return tx.Save(&doc).Error
	})
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", collection, id, err)
	}

	r.publish(ctx, changeType, &doc)
	return nil
}

// Create inserts the document only if no document with the same id exists.
// The duplicate check is done by the primary key, so concurrent creators
// cannot both succeed.
func (r *DocumentRepository) Create(ctx context.Context, collection, id string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}

	doc := gormModels.Document{Collection: collection, ID: id, Data: datatypes.JSON(body)}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&doc)
	if result.Error != nil {
		return fmt.Errorf("failed to create %s/%s: %w", collection, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentExists)
	}

	r.publish(ctx, common.ChangeAdded, &doc)
	return nil
}

// Update merges fields into the top level of an existing document
func (r *DocumentRepository) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	var doc gormModels.Document
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection = ? AND id = ?", collection, id).Take(&doc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDocumentNotFound
			}
			return err
		}

		current := map[string]json.RawMessage{}
		if len(doc.Data) > 0 {
			if err := json.Unmarshal(doc.Data, &current); err != nil {
				return fmt.Errorf("stored document is not an object: %w", err)
			}
		}
		for k, v := range fields {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode field %s: %w", k, err)
			}
			current[k] = raw
		}
		merged, err := json.Marshal(current)
		if err != nil {
			return err
		}

		doc.Data = datatypes.JSON(merged)
		doc.UpdatedAt = time.Now()
		return tx.Model(&doc).Updates(map[string]any{
			"data":       doc.Data,
			"updated_at": doc.UpdatedAt,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentNotFound)
		}
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}

	r.publish(ctx, common.ChangeModified, &doc)
	return nil
}

func (r *DocumentRepository) Delete(ctx context.Context, collection, id string) error {
	var doc gormModels.Document
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection = ? AND id = ?", collection, id).Take(&doc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDocumentNotFound
			}
			return err
		}
		return tx.Where("collection = ? AND id = ?", collection, id).Delete(&gormModels.Document{}).Error
	})
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentNotFound)
		}
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}

	r.publish(ctx, common.ChangeRemoved, &doc)
	return nil
}

// Query returns the documents of collection matching every filter, oldest first
func (r *DocumentRepository) Query(ctx context.Context, collection string, filters ...Filter) ([]*Snapshot, error) {
	q := r.db.WithContext(ctx).Where("collection = ?", collection)
	for _, f := range filters {
		q = q.Where(datatypes.JSONQuery("data").Equals(f.Value, f.Field))
	}

	var docs []gormModels.Document
	if err := q.Order("created_at ASC, id ASC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}

	snaps := make([]*Snapshot, 0, len(docs))
	for i := range docs {
		snaps = append(snaps, toSnapshot(&docs[i]))
	}
	return snaps, nil
}

// ListenDocument calls fn with the current state of one document and again
// after every change to it. fn receives nil while the document does not exist.
// The returned func stops the listener.
func (r *DocumentRepository) ListenDocument(ctx context.Context, collection, id string, fn func(*Snapshot)) (func(), error) {
	events, unsubscribe := r.hub.Subscribe(collection, 64)

	initial, err := r.Get(ctx, collection, id)
	if err != nil && !errors.Is(err, ErrDocumentNotFound) {
		unsubscribe()
		return nil, err
	}

	lctx, cancel := context.WithCancel(ctx)
	go func() {
		defer unsubscribe()
		fn(initial)
		for {
			select {
			case <-lctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.DocumentID != id {
					continue
				}
				if ev.Type == common.ChangeRemoved {
					fn(nil)
					continue
				}
				fn(eventSnapshot(ev))
			}
		}
	}()
	return cancel, nil
}

// ListenCollection calls fn with every existing document as an added change,
// then with each subsequent change to the collection.
func (r *DocumentRepository) ListenCollection(ctx context.Context, collection string, fn func([]DocumentChange)) (func(), error) {
	events, unsubscribe := r.hub.Subscribe(collection, 256)

	existing, err := r.Query(ctx, collection)
	if err != nil {
		unsubscribe()
		return nil, err
	}
	initial := make([]DocumentChange, 0, len(existing))
	for _, snap := range existing {
		initial = append(initial, DocumentChange{Type: common.ChangeAdded, Doc: snap})
	}

	lctx, cancel := context.WithCancel(ctx)
	go func() {
		defer unsubscribe()
		fn(initial)
		for {
			select {
			case <-lctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				fn([]DocumentChange{{Type: ev.Type, Doc: eventSnapshot(ev)}})
			}
		}
	}()
	return cancel, nil
}

func (r *DocumentRepository) publish(ctx context.Context, changeType common.ChangeType, doc *gormModels.Document) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("Change hub panicked", "collection", doc.Collection, "document_id", doc.ID, "panic", rec)
		}
	}()
	r.hub.Publish(context.WithoutCancel(ctx), common.ChangeEvent{
		Type:       changeType,
		Collection: doc.Collection,
		DocumentID: doc.ID,
		Data:       json.RawMessage(doc.Data),
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	})
}

func toSnapshot(doc *gormModels.Document) *Snapshot {
	return &Snapshot{
		Collection: doc.Collection,
		ID:         doc.ID,
		Data:       json.RawMessage(doc.Data),
		CreateTime: doc.CreatedAt,
		UpdateTime: doc.UpdatedAt,
	}
}

func eventSnapshot(ev common.ChangeEvent) *Snapshot {
	return &Snapshot{
		Collection: ev.Collection,
		ID:         ev.DocumentID,
		Data:       ev.Data,
		CreateTime: ev.CreatedAt,
		UpdateTime: ev.UpdatedAt,
	}
}
