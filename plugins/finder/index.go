package finder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"chat-engine/domain"

	"github.com/blugelabs/bluge"
)

const (
	idField  = "_id"
	allField = "_all"
)

// Index is an in-memory bluge index of the presence state of known users.
// One document per identity, one keyword field per state key.
type Index struct {
	log    *slog.Logger
	writer *bluge.Writer
}

func NewIndex(log *slog.Logger) (*Index, error) {
	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	return &Index{log: log, writer: writer}, nil
}

// Put replaces the document of identity with state.
func (i *Index) Put(identity string, state domain.State) error {
	doc := bluge.NewDocument(identity)
	var all []string
	for _, key := range state.Keys() {
		if key == domain.InitializedKey {
			continue
		}
		value := fmt.Sprint(state[key])
		doc.AddField(bluge.NewKeywordField(key, value).StoreValue())
		all = append(all, value)
	}
	doc.AddField(bluge.NewTextField(allField, strings.Join(all, " ")))
	return i.writer.Update(doc.ID(), doc)
}

func (i *Index) Remove(identity string) error {
	return i.writer.Delete(bluge.Identifier(identity))
}

// Find returns the identities whose field equals term exactly, sorted.
func (i *Index) Find(ctx context.Context, field, term string) ([]string, error) {
	return i.search(ctx, bluge.NewTermQuery(term).SetField(field))
}

// Match returns the identities having any state value matching text, sorted.
func (i *Index) Match(ctx context.Context, text string) ([]string, error) {
	return i.search(ctx, bluge.NewMatchQuery(text).SetField(allField))
}

func (i *Index) search(ctx context.Context, query bluge.Query) ([]string, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	dmi, err := reader.Search(ctx, bluge.NewAllMatches(query))
	if err != nil {
		return nil, err
	}
	var identities []string
	match, err := dmi.Next()
	for err == nil && match != nil {
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == idField {
				identities = append(identities, string(value))
				return false
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		match, err = dmi.Next()
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(identities)
	return identities, nil
}

// Count returns the number of indexed identities.
func (i *Index) Count() (uint64, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return 0, err
	}
	defer reader.Close()
	return reader.Count()
}

func (i *Index) Close() error {
	return i.writer.Close()
}
