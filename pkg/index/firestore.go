package index

import (
	"context"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/m-mizutani/goerr/v2"
	"github.com/wwetzel/maven-demo-day/pkg/model"
	"google.golang.org/api/iterator"
)

const (
	firestoreCollection    = "survey_documents"
	firestoreEmbedding     = "embedding"
	firestoreDistanceField = "vector_distance"
	firestoreBatchSize     = 400
)

// Firestore stores documents in a collection and searches them with FindNearest
type Firestore struct {
	client     *firestore.Client
	collection string
}

func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	return &Firestore{client: client, collection: firestoreCollection}, nil
}

func (x *Firestore) Close() error {
	return x.client.Close()
}

func (x *Firestore) Exists(ctx context.Context) (bool, error) {
	iter := x.client.Collection(x.collection).Limit(1).Documents(ctx)
	defer iter.Stop()

	_, err := iter.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to check collection", goerr.V("collection", x.collection))
	}
	return true, nil
}

func (x *Firestore) Count(ctx context.Context) (int, error) {
	result, err := x.client.Collection(x.collection).NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count documents", goerr.V("collection", x.collection))
	}

	v, ok := result["all"].(*firestorepb.Value)
	if !ok {
		return 0, goerr.New("unexpected count result type")
	}
	return int(v.GetIntegerValue()), nil
}

func (x *Firestore) Reset(ctx context.Context) error {
	bw := x.client.BulkWriter(ctx)
	iter := x.client.Collection(x.collection).Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return goerr.Wrap(err, "failed to iterate documents")
		}
		if _, err := bw.Delete(doc.Ref); err != nil {
			return goerr.Wrap(err, "failed to delete document", goerr.V("id", doc.Ref.ID))
		}
	}
	bw.End()
	return nil
}

func (x *Firestore) Add(ctx context.Context, docs []*model.Document) error {
	col := x.client.Collection(x.collection)

	for start := 0; start < len(docs); start += firestoreBatchSize {
		end := min(start+firestoreBatchSize, len(docs))
		bw := x.client.BulkWriter(ctx)
		jobs := make([]*firestore.BulkWriterJob, 0, end-start)

		for _, doc := range docs[start:end] {
			data := map[string]any{
				"id":               doc.ID,
				"content":          doc.Content,
				firestoreEmbedding: firestore.Vector32(doc.Embedding),
			}
			for k, v := range doc.Metadata {
				data[k] = v
			}

			job, err := bw.Set(col.Doc(doc.ID), data)
			if err != nil {
				return goerr.Wrap(err, "failed to enqueue document", goerr.V("id", doc.ID))
			}
			jobs = append(jobs, job)
		}
		bw.End()

		for _, job := range jobs {
			if _, err := job.Results(); err != nil {
				return goerr.Wrap(err, "failed to write document")
			}
		}
	}
	return nil
}

var firestoreOps = map[model.Op]string{
	model.OpEq:  "==",
	model.OpNe:  "!=",
	model.OpGt:  ">",
	model.OpGte: ">=",
	model.OpLt:  "<",
	model.OpLte: "<=",
	model.OpIn:  "in",
}

// Search applies the filter as Where clauses before the nearest neighbor stage
func (x *Firestore) Search(ctx context.Context, vec []float32, filter *model.Filter, k int) ([]*model.ScoredDocument, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	q := x.client.Collection(x.collection).Query
	if !filter.IsEmpty() {
		for _, c := range filter.Conditions {
			q = q.Where(c.Field, firestoreOps[c.Op], c.Value)
		}
	}

	vq := q.FindNearest(firestoreEmbedding, firestore.Vector32(vec), k, firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: firestoreDistanceField})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	var hits []*model.ScoredDocument
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to run vector search", goerr.V("filter", filter.String()))
		}

		data := snap.Data()
		doc := model.Document{Metadata: map[string]any{}}
		doc.ID, _ = data["id"].(string)
		doc.Content, _ = data["content"].(string)
		for _, f := range model.MetadataFields {
			if v, ok := data[f.Name]; ok {
				doc.Metadata[f.Name] = v
			}
		}

		distance, _ := data[firestoreDistanceField].(float64)
		hits = append(hits, &model.ScoredDocument{Document: doc, Score: 1 - distance})
	}

	return topK(hits, k), nil
}
