package pgstore

import (
	"github.com/liveqa/project/internal/contracts"
	"github.com/liveqa/project/internal/docstore"
	"github.com/sirupsen/logrus"
)

// queryView tracks which documents a subscription currently shows and the
// newest version seen per id, turning raw envelopes into query changes.
type queryView struct {
	collection string
	orders     []docstore.Order
	visible    map[string]bool
	versions   map[string]int64
}

func newQueryView(collection string, orders []docstore.Order) *queryView {
	return &queryView{
		collection: collection,
		orders:     orders,
		visible:    map[string]bool{},
		versions:   map[string]int64{},
	}
}

func (v *queryView) seed(docs []docstore.Document) docstore.ChangeBatch {
	batch := docstore.ChangeBatch{Collection: v.collection, Snapshot: true, Changes: make([]docstore.Change, 0, len(docs))}
	for _, d := range docs {
		v.visible[d.Ref.ID] = true
		v.versions[d.Ref.ID] = d.Version
		batch.Changes = append(batch.Changes, docstore.Change{Kind: docstore.Added, Doc: d})
	}
	return batch
}

func (v *queryView) apply(env contracts.ChangeEnvelope, log logrus.FieldLogger) docstore.ChangeBatch {
	batch := docstore.ChangeBatch{Collection: v.collection}
	for _, c := range env.Changes {
		if c.Version <= v.versions[c.ID] {
			continue
		}
		v.versions[c.ID] = c.Version
		ref := docstore.Doc(v.collection, c.ID)

		var doc *docstore.Document
		if docstore.ChangeKind(c.Kind) != docstore.Removed {
			fields, err := docstore.DecodeFields(c.Fields)
			if err != nil {
				log.WithError(err).WithField("document", ref.Path()).Warn("drop undecodable change")
				continue
			}
			doc = &docstore.Document{Ref: ref, Fields: fields, Version: c.Version, UpdateTime: env.CommittedAt}
		}

		inQuery := doc != nil && docstore.HasFields(doc.Fields, v.orders)
		switch {
		case inQuery && v.visible[c.ID]:
			batch.Changes = append(batch.Changes, docstore.Change{Kind: docstore.Modified, Doc: *doc})
		case inQuery:
			v.visible[c.ID] = true
			batch.Changes = append(batch.Changes, docstore.Change{Kind: docstore.Added, Doc: *doc})
		case v.visible[c.ID]:
			delete(v.visible, c.ID)
			batch.Changes = append(batch.Changes, docstore.Change{Kind: docstore.Removed, Doc: docstore.Document{Ref: ref}})
		}
	}
	return batch
}
