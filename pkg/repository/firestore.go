package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionRecommendations = "recommendations"
	collectionIndex           = "recommendation_index"
)

// Firestore keeps full records and index projections in two collections and
// updates them inside a transaction so the projection never disagrees with
// the record.
type Firestore struct {
	client *firestore.Client
}

var _ RecommendationRepository = (*Firestore)(nil)

// NewFirestore creates a Firestore-backed recommendation repository
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	return &Firestore{client: client}, nil
}

// Close releases the underlying client
func (s *Firestore) Close() error {
	return s.client.Close()
}

func (s *Firestore) recordDoc(id model.RecommendationID) *firestore.DocumentRef {
	return s.client.Collection(collectionRecommendations).Doc(string(id))
}

func (s *Firestore) indexDoc(id model.RecommendationID) *firestore.DocumentRef {
	return s.client.Collection(collectionIndex).Doc(string(id))
}

func (s *Firestore) Create(ctx context.Context, rec *model.Recommendation) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(s.recordDoc(rec.ID)); err == nil {
			return goerr.Wrap(model.ErrStateConflict, "recommendation already exists", goerr.V("id", rec.ID))
		} else if status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to check existing record", goerr.T(model.TagPersistence))
		}

		if err := tx.Set(s.recordDoc(rec.ID), rec); err != nil {
			return goerr.Wrap(err, "failed to write record", goerr.T(model.TagPersistence))
		}
		if err := tx.Set(s.indexDoc(rec.ID), model.NewIndexEntry(rec)); err != nil {
			return goerr.Wrap(err, "failed to write index entry", goerr.T(model.TagPersistence))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

func (s *Firestore) Get(ctx context.Context, id model.RecommendationID) (*model.Recommendation, error) {
	doc, err := s.recordDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrRecommendationNotFound, "no such document", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get recommendation",
			goerr.T(model.TagPersistence), goerr.V("id", id))
	}

	var rec model.Recommendation
	if err := doc.DataTo(&rec); err != nil {
		return nil, goerr.Wrap(err, "failed to decode recommendation",
			goerr.T(model.TagPersistence), goerr.V("id", id))
	}

	return &rec, nil
}

func (s *Firestore) UpdateStatus(ctx context.Context, id model.RecommendationID, next model.Status) (*model.Recommendation, error) {
	if err := next.Validate(); err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, func(rec *model.Recommendation) error {
		if !rec.Status.CanTransit(next) {
			return goerr.Wrap(model.ErrStateConflict, "transition rejected",
				goerr.V("id", id),
				goerr.V("from", rec.Status),
				goerr.V("to", next))
		}
		rec.Status = next
		return nil
	})
}

func (s *Firestore) Complete(ctx context.Context, id model.RecommendationID, result *model.ExperimentResult) (*model.Recommendation, error) {
	return s.mutate(ctx, id, func(rec *model.Recommendation) error {
		if !rec.Status.CanTransit(model.StatusCompleted) {
			return goerr.Wrap(model.ErrStateConflict, "cannot complete",
				goerr.V("id", id),
				goerr.V("from", rec.Status))
		}
		rec.Status = model.StatusCompleted
		rec.ExperimentResult = result
		return nil
	})
}

func (s *Firestore) mutate(ctx context.Context, id model.RecommendationID, fn func(*model.Recommendation) error) (*model.Recommendation, error) {
	var updated *model.Recommendation

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(s.recordDoc(id))
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(model.ErrRecommendationNotFound, "no such document", goerr.V("id", id))
			}
			return goerr.Wrap(err, "failed to get recommendation",
				goerr.T(model.TagPersistence), goerr.V("id", id))
		}

		var rec model.Recommendation
		if err := doc.DataTo(&rec); err != nil {
			return goerr.Wrap(err, "failed to decode recommendation",
				goerr.T(model.TagPersistence), goerr.V("id", id))
		}

		if err := fn(&rec); err != nil {
			return err
		}
		rec.UpdatedAt = time.Now()
		updated = &rec

		if err := tx.Set(s.recordDoc(id), &rec); err != nil {
			return goerr.Wrap(err, "failed to write record", goerr.T(model.TagPersistence))
		}
		if err := tx.Set(s.indexDoc(id), model.NewIndexEntry(&rec)); err != nil {
			return goerr.Wrap(err, "failed to write index entry", goerr.T(model.TagPersistence))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (s *Firestore) indexQuery(opts ListOptions) firestore.Query {
	query := s.client.Collection(collectionIndex).Query
	if opts.Status != "" {
		query = query.Where("Status", "==", string(opts.Status))
	}
	if opts.TargetMaterial != "" {
		query = query.Where("TargetMaterial", "==", opts.TargetMaterial)
	}
	return query
}

func (s *Firestore) Count(ctx context.Context, opts ListOptions) (int, error) {
	query := s.indexQuery(opts)
	result, err := query.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count index entries", goerr.T(model.TagPersistence))
	}

	value, ok := result["total"]
	if !ok {
		return 0, goerr.New("count aggregation returned no value", goerr.T(model.TagPersistence))
	}
	count, ok := value.(*firestorepb.Value)
	if !ok {
		return 0, goerr.New("unexpected count aggregation type", goerr.T(model.TagPersistence))
	}
	return int(count.GetIntegerValue()), nil
}

func (s *Firestore) List(ctx context.Context, opts ListOptions) ([]*model.IndexEntry, error) {
	query := s.indexQuery(opts).OrderBy("CreatedAt", firestore.Desc)
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var entries []*model.IndexEntry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate index entries", goerr.T(model.TagPersistence))
		}

		var entry model.IndexEntry
		if err := doc.DataTo(&entry); err != nil {
			return nil, goerr.Wrap(err, "failed to decode index entry",
				goerr.T(model.TagPersistence), goerr.V("id", doc.Ref.ID))
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}
