package questions

import (
	"sort"

	"github.com/liveqa/project/internal/docstore"
)

// Collection is the reconciled id -> question mapping of one view.
// It is not safe for concurrent use; Session guards it.
type Collection struct {
	items    map[string]Question
	selected map[string]bool

	// versions and removed let a late initial load skip documents the
	// change stream has already superseded.
	versions map[string]int64
	removed  map[string]bool
	// synced is set once the stream's snapshot has been applied. From
	// then on the stream alone decides which ids exist.
	synced bool
}

func NewCollection() *Collection {
	return &Collection{
		items:    map[string]Question{},
		selected: map[string]bool{},
		versions: map[string]int64{},
		removed:  map[string]bool{},
	}
}

// Apply merges one change batch. Added and modified entries replace the
// stored question wholesale; removed entries delete it. A snapshot batch
// also evicts every held question it does not list, since a document
// deleted before the subscription started never produces a removal.
func (c *Collection) Apply(batch docstore.ChangeBatch) {
	if batch.Snapshot {
		c.evictMissing(batch.Changes)
		c.synced = true
	}
	for _, change := range batch.Changes {
		id := change.Doc.ID()
		switch change.Kind {
		case docstore.Added, docstore.Modified:
			c.items[id] = FromDocument(change.Doc)
			c.versions[id] = change.Doc.Version
			delete(c.removed, id)
		case docstore.Removed:
			delete(c.items, id)
			delete(c.selected, id)
			delete(c.versions, id)
			c.removed[id] = true
		}
	}
}

func (c *Collection) evictMissing(changes []docstore.Change) {
	listed := make(map[string]bool, len(changes))
	for _, change := range changes {
		listed[change.Doc.ID()] = true
	}
	for id := range c.items {
		if listed[id] {
			continue
		}
		delete(c.items, id)
		delete(c.selected, id)
		delete(c.versions, id)
		c.removed[id] = true
	}
}

// Upsert stores loaded documents the same way an added change does,
// except for documents the stream removed or already reported at a newer
// version. After the snapshot, ids the stream does not hold are skipped.
func (c *Collection) Upsert(docs []docstore.Document) {
	for _, doc := range docs {
		id := doc.ID()
		if c.removed[id] {
			continue
		}
		if _, held := c.items[id]; c.synced && !held {
			continue
		}
		if seen, ok := c.versions[id]; ok && doc.Version < seen {
			continue
		}
		c.items[id] = FromDocument(doc)
		c.versions[id] = doc.Version
	}
}

func (c *Collection) Len() int { return len(c.items) }

func (c *Collection) Get(id string) (Question, bool) {
	q, ok := c.items[id]
	if ok {
		q.Selected = c.selected[id]
	}
	return q, ok
}

// All returns every question ordered by id.
func (c *Collection) All() []Question {
	out := make([]Question, 0, len(c.items))
	for id, q := range c.items {
		q.Selected = c.selected[id]
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Filtered returns the tab's questions in display order.
func (c *Collection) Filtered(tab Tab) []Question {
	return Rank(c.All(), tab)
}

// ToggleSelected flips the local selection mark of a known question.
func (c *Collection) ToggleSelected(id string) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}
	if c.selected[id] {
		delete(c.selected, id)
		return false
	}
	c.selected[id] = true
	return true
}

func (c *Collection) SelectedIDs() []string {
	ids := make([]string, 0, len(c.selected))
	for id := range c.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Collection) ClearSelection() {
	c.selected = map[string]bool{}
}
