package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/tnguyen14/lists/internal/authz"
	"github.com/tnguyen14/lists/internal/docstore"
)

const listsCollection = "lists"

func listPath(listType, listName string) string {
	return fmt.Sprintf("%s/%s!%s", listsCollection, listType, listName)
}

func itemsPath(listType, listName string) string {
	return listPath(listType, listName) + "/items"
}

func itemPath(listType, listName, itemID string) string {
	return itemsPath(listType, listName) + "/" + itemID
}

// List is a named list document. Its composite key (type, name) is
// denormalized into the document alongside the access-control sets.
type List struct {
	Type string `json:"type"`
	Name string `json:"name"`
	authz.ACL
	Meta map[string]any `json:"meta"`
}

func (l *List) acl() *authz.ACL {
	if l == nil {
		return nil
	}
	return &l.ACL
}

type CreateListInput struct {
	Editors []string       `json:"editors"`
	Viewers []string       `json:"viewers"`
	Meta    map[string]any `json:"meta"`
}

// UpdateListInput carries a partial update: nil fields are left
// untouched, present fields replace the stored field wholesale.
type UpdateListInput struct {
	Meta    map[string]any `json:"meta"`
	Admins  []string       `json:"admins"`
	Editors []string       `json:"editors"`
	Viewers []string       `json:"viewers"`
}

type ItemQuery struct {
	Limit   int
	OrderBy string
	Order   string
	Where   []docstore.Filter
}

type Item = map[string]any

type Service struct {
	store docstore.Store
	authz *authz.Authorizer
}

func New(store docstore.Store, authorizer *authz.Authorizer) *Service {
	return &Service{store: store, authz: authorizer}
}

func (s *Service) IsSuperAdmin(user authz.User) bool {
	return s.authz.IsSuperAdmin(user)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ListAll returns the lists the user administers. This is a personal
// index; editor and viewer roles do not appear here.
func (s *Service) ListAll(ctx context.Context, user authz.User) ([]List, error) {
	docs, err := s.ownedListDocs(ctx, user)
	if err != nil {
		return nil, err
	}
	lists := make([]List, 0, len(docs))
	for _, doc := range docs {
		list, err := listFromDoc(doc.Data)
		if err != nil {
			return nil, err
		}
		lists = append(lists, list)
	}
	return lists, nil
}

// DeleteAllOwned removes every list the user administers, concurrently
// and document-by-document. Owning no lists is not an error.
func (s *Service) DeleteAllOwned(ctx context.Context, user authz.User) error {
	docs, err := s.ownedListDocs(ctx, user)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, doc := range docs {
		path := listsCollection + "/" + doc.ID
		g.Go(func() error {
			return s.store.Delete(gctx, path)
		})
	}
	return g.Wait()
}

func (s *Service) ownedListDocs(ctx context.Context, user authz.User) ([]docstore.Document, error) {
	return s.store.Query(ctx, listsCollection, docstore.Query{
		Where: []docstore.Filter{{Field: "admins", Op: "array-contains", Value: user.Sub}},
	})
}

func (s *Service) GetList(ctx context.Context, user authz.User, listType, listName string) (*List, error) {
	list, err := s.loadList(ctx, listType, listName)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, notFound("%q is not found.", listName)
	}
	// The list document exposes its own membership sets, so reading it
	// takes editor, not viewer.
	if !authz.IsEditor(user, list.acl()) {
		return nil, unauthorized("user is not authorized for list")
	}
	return list, nil
}

func (s *Service) CreateList(ctx context.Context, user authz.User, listType, listName string, payload CreateListInput) error {
	if listType == "" {
		return badRequest("%q is required", "type")
	}
	if listName == "" {
		return badRequest("%q is required", "name")
	}
	if !s.authz.IsSuperAdmin(user) {
		return unauthorized("user is not authorized to create list")
	}

	list := List{
		Type: listType,
		Name: listName,
		ACL: authz.ACL{
			Admins:  []string{user.Sub},
			Editors: orEmpty(payload.Editors),
			Viewers: orEmpty(payload.Viewers),
		},
		Meta: payload.Meta,
	}
	if list.Meta == nil {
		list.Meta = map[string]any{}
	}

	doc, err := listToDoc(list)
	if err != nil {
		return err
	}
	if err := s.store.Create(ctx, listPath(listType, listName), doc); err != nil {
		if errors.Is(err, docstore.ErrExists) {
			return conflict("List %q of type %q already exists", listName, listType)
		}
		return err
	}
	return nil
}

func (s *Service) UpdateList(ctx context.Context, user authz.User, listType, listName string, payload UpdateListInput) error {
	list, err := s.loadList(ctx, listType, listName)
	if err != nil {
		return err
	}
	if list == nil {
		return notFound("%q is not found.", listName)
	}
	if !authz.IsAdmin(user, list.acl()) {
		return unauthorized("user is not authorized to perform modification of list")
	}

	// Allow-listed fields only; each present field replaces the stored
	// one wholesale (no deep merge into meta).
	patch := docstore.Doc{}
	if payload.Meta != nil {
		patch["meta"] = payload.Meta
	}
	if payload.Admins != nil {
		patch["admins"] = payload.Admins
	}
	if payload.Editors != nil {
		patch["editors"] = payload.Editors
	}
	if payload.Viewers != nil {
		patch["viewers"] = payload.Viewers
	}
	return s.store.Set(ctx, listPath(listType, listName), patch)
}

// UpdateListMeta replaces the list's meta with the entire payload,
// unlike UpdateList which extracts a meta field from it.
func (s *Service) UpdateListMeta(ctx context.Context, user authz.User, listType, listName string, meta map[string]any) error {
	list, err := s.loadList(ctx, listType, listName)
	if err != nil {
		return err
	}
	if list == nil {
		return notFound("%q is not found.", listName)
	}
	if !authz.IsAdmin(user, list.acl()) {
		return unauthorized("user is not authorized to perform modification of list")
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return s.store.Set(ctx, listPath(listType, listName), docstore.Doc{"meta": meta})
}

func (s *Service) DeleteList(ctx context.Context, user authz.User, listType, listName string) error {
	list, err := s.loadList(ctx, listType, listName)
	if err != nil {
		return err
	}
	if list == nil {
		return notFound("%q is not found.", listName)
	}
	if !authz.IsAdmin(user, list.acl()) {
		return unauthorized("user is not authorized to perform deletion of list")
	}
	// Items first, then the list document.
	if err := s.store.DeleteCollection(ctx, listPath(listType, listName)); err != nil {
		return err
	}
	return s.store.Delete(ctx, listPath(listType, listName))
}

func (s *Service) GetItems(ctx context.Context, user authz.User, listType, listName string, query ItemQuery) ([]Item, error) {
	list, err := s.loadList(ctx, listType, listName)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, notFound("%q is not found.", listName)
	}
	if !authz.IsViewer(user, list.acl()) {
		return nil, unauthorized("user is not authorized for list")
	}

	docs, err := s.store.Query(ctx, itemsPath(listType, listName), docstore.Query{
		Where:   query.Where,
		OrderBy: query.OrderBy,
		Order:   query.Order,
		Limit:   query.Limit,
	})
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data)
	}
	return items, nil
}

func (s *Service) GetItem(ctx context.Context, user authz.User, listType, listName, itemID string) (Item, error) {
	list, err := s.loadList(ctx, listType, listName)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, notFound("%q is not found.", listName)
	}
	if !authz.IsViewer(user, list.acl()) {
		return nil, unauthorized("user is not authorized for list")
	}
	item, err := s.store.Get(ctx, itemPath(listType, listName, itemID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, notFound("%q is not found.", itemID)
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) CreateItem(ctx context.Context, user authz.User, listType, listName string, item Item) error {
	list, err := s.loadList(ctx, listType, listName)
	if err != nil {
		return err
	}
	if list == nil {
		return notFound("%q is not found.", listName)
	}
	if !authz.IsEditor(user, list.acl()) {
		return unauthorized("user is not authorized to create item")
	}
	itemID, err := itemIDOf(item)
	if err != nil {
		return err
	}
	if err := s.store.Create(ctx, itemPath(listType, listName, itemID), item); err != nil {
		if errors.Is(err, docstore.ErrExists) {
			return conflict("Item %q already exists", itemID)
		}
		return err
	}
	return nil
}

func (s *Service) UpdateItem(ctx context.Context, user authz.User, listType, listName, itemID string, patch Item) error {
	list, err := s.loadList(ctx, listType, listName)
	if err != nil {
		return err
	}
	if list == nil {
		return notFound("%q is not found.", listName)
	}
	if !authz.IsEditor(user, list.acl()) {
		return unauthorized("user is not authorized to update item")
	}
	path := itemPath(listType, listName, itemID)
	if _, err := s.store.Get(ctx, path); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return notFound("%q is not found.", itemID)
		}
		return err
	}
	// Shallow merge: patch fields overwrite, the rest is retained.
	return s.store.Set(ctx, path, patch)
}

// AddItemsBulk upserts items in batches sized to the store's maximum
// batch capacity, committed concurrently. Unlike CreateItem there is no
// conflict check: ingestion reruns overwrite on stable item ids. A
// failing batch leaves earlier batches committed; callers retry.
func (s *Service) AddItemsBulk(ctx context.Context, user authz.User, listType, listName string, items []Item) error {
	list, err := s.loadList(ctx, listType, listName)
	if err != nil {
		return err
	}
	if list == nil {
		return notFound("%q is not found.", listName)
	}
	if !authz.IsEditor(user, list.acl()) {
		return unauthorized("user is not authorized to add items to list")
	}

	ids := make([]string, len(items))
	for i, item := range items {
		itemID, err := itemIDOf(item)
		if err != nil {
			return err
		}
		ids[i] = itemID
	}

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(items); start += docstore.MaxBatchSize {
		end := min(start+docstore.MaxBatchSize, len(items))
		chunkItems := items[start:end]
		chunkIDs := ids[start:end]
		g.Go(func() error {
			batch := s.store.Batch()
			for i, item := range chunkItems {
				batch.Set(itemPath(listType, listName, chunkIDs[i]), item)
			}
			return batch.Commit(gctx)
		})
	}
	return g.Wait()
}

func (s *Service) DeleteItem(ctx context.Context, user authz.User, listType, listName, itemID string) error {
	list, err := s.loadList(ctx, listType, listName)
	if err != nil {
		return err
	}
	if list == nil {
		return notFound("%q is not found.", listName)
	}
	if !authz.IsEditor(user, list.acl()) {
		return unauthorized("user is not authorized to delete item")
	}
	path := itemPath(listType, listName, itemID)
	if _, err := s.store.Get(ctx, path); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return notFound("%q is not found.", itemID)
		}
		return err
	}
	return s.store.Delete(ctx, path)
}

// loadList returns nil without error when the list does not exist, so
// callers decide between not-found and unauthorized; absence always
// wins to avoid leaking membership of private lists.
func (s *Service) loadList(ctx context.Context, listType, listName string) (*List, error) {
	doc, err := s.store.Get(ctx, listPath(listType, listName))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	list, err := listFromDoc(doc)
	if err != nil {
		return nil, err
	}
	return &list, nil
}

func itemIDOf(item Item) (string, error) {
	itemID, ok := item["id"].(string)
	if !ok || itemID == "" {
		return "", badRequest("%q is required", "item.id")
	}
	// A slash would nest the document below the items collection, out
	// of reach of queries and the item routes.
	if strings.Contains(itemID, "/") {
		return "", badRequest("%q must not contain %q", "item.id", "/")
	}
	return itemID, nil
}

func listToDoc(list List) (docstore.Doc, error) {
	raw, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode list: %w", err)
	}
	var doc docstore.Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return doc, nil
}

func listFromDoc(doc docstore.Doc) (List, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return List{}, fmt.Errorf("encode list doc: %w", err)
	}
	var list List
	if err := json.Unmarshal(raw, &list); err != nil {
		return List{}, fmt.Errorf("decode list doc: %w", err)
	}
	list.Admins = orEmpty(list.Admins)
	list.Editors = orEmpty(list.Editors)
	list.Viewers = orEmpty(list.Viewers)
	if list.Meta == nil {
		list.Meta = map[string]any{}
	}
	return list, nil
}

func orEmpty(subs []string) []string {
	if subs == nil {
		return []string{}
	}
	return subs
}
