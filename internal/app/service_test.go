package app

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tnguyen14/lists/internal/authz"
	"github.com/tnguyen14/lists/internal/docstore"
)

var (
	superUser  = authz.User{Sub: "super"}
	editorUser = authz.User{Sub: "edith"}
	viewerUser = authz.User{Sub: "vera"}
	strangeUsr = authz.User{Sub: "stranger"}
	anonymous  = authz.User{}
)

func newTestService(t *testing.T) (*Service, *docstore.Memory) {
	t.Helper()
	store := docstore.NewMemory()
	return New(store, authz.New([]string{"super"})), store
}

func seedList(t *testing.T, svc *Service, listType, listName string) {
	t.Helper()
	require.NoError(t, svc.CreateList(context.Background(), superUser, listType, listName, CreateListInput{
		Editors: []string{"edith"},
		Viewers: []string{"vera"},
	}))
}

func assertDomainStatus(t *testing.T, err error, status int) {
	t.Helper()
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, status, domainErr.Status)
}

func TestCreateList(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	err := svc.CreateList(ctx, superUser, "", "demo", CreateListInput{})
	assertDomainStatus(t, err, http.StatusBadRequest)
	err = svc.CreateList(ctx, superUser, "checkbook", "", CreateListInput{})
	assertDomainStatus(t, err, http.StatusBadRequest)

	err = svc.CreateList(ctx, strangeUsr, "checkbook", "demo", CreateListInput{})
	assertDomainStatus(t, err, http.StatusUnauthorized)

	require.NoError(t, svc.CreateList(ctx, superUser, "checkbook", "demo", CreateListInput{}))

	// The creator is seeded as the sole admin.
	list, err := svc.GetList(ctx, superUser, "checkbook", "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"super"}, list.Admins)
	assert.Equal(t, []string{}, list.Editors)
	assert.Equal(t, []string{}, list.Viewers)
	assert.Equal(t, map[string]any{}, list.Meta)

	err = svc.CreateList(ctx, superUser, "checkbook", "demo", CreateListInput{})
	assertDomainStatus(t, err, http.StatusConflict)
	assert.Contains(t, err.Error(), `List "demo" of type "checkbook" already exists`)
}

func TestGetListRequiresEditor(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	seedList(t, svc, "checkbook", "demo")

	_, err := svc.GetList(ctx, superUser, "checkbook", "demo")
	assert.NoError(t, err)
	_, err = svc.GetList(ctx, editorUser, "checkbook", "demo")
	assert.NoError(t, err)

	// Viewer role reads items, not the list document itself.
	_, err = svc.GetList(ctx, viewerUser, "checkbook", "demo")
	assertDomainStatus(t, err, http.StatusUnauthorized)

	_, err = svc.GetList(ctx, superUser, "checkbook", "missing")
	assertDomainStatus(t, err, http.StatusNotFound)
}

func TestMissingListBeatsUnauthorized(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	// Absence reports not-found even to users with no access at all.
	_, err := svc.GetItems(ctx, strangeUsr, "checkbook", "missing", ItemQuery{})
	assertDomainStatus(t, err, http.StatusNotFound)
	err = svc.DeleteList(ctx, strangeUsr, "checkbook", "missing")
	assertDomainStatus(t, err, http.StatusNotFound)
	err = svc.UpdateItem(ctx, strangeUsr, "checkbook", "missing", "i1", Item{"x": 1})
	assertDomainStatus(t, err, http.StatusNotFound)
}

func TestUpdateListReplacesFieldsWholesale(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	seedList(t, svc, "checkbook", "demo")

	err := svc.UpdateList(ctx, editorUser, "checkbook", "demo", UpdateListInput{Viewers: []string{"x"}})
	assertDomainStatus(t, err, http.StatusUnauthorized)

	require.NoError(t, svc.UpdateList(ctx, superUser, "checkbook", "demo", UpdateListInput{
		Meta:    map[string]any{"currency": "USD"},
		Viewers: []string{"public"},
	}))

	list, err := svc.GetList(ctx, superUser, "checkbook", "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"public"}, list.Viewers)
	// Untouched fields survive the partial update.
	assert.Equal(t, []string{"edith"}, list.Editors)
	assert.Equal(t, map[string]any{"currency": "USD"}, list.Meta)

	// A present meta replaces the stored meta, it is not deep-merged.
	require.NoError(t, svc.UpdateList(ctx, superUser, "checkbook", "demo", UpdateListInput{
		Meta: map[string]any{"locale": "en"},
	}))
	list, err = svc.GetList(ctx, superUser, "checkbook", "demo")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"locale": "en"}, list.Meta)
	assert.Equal(t, []string{"public"}, list.Viewers)
}

func TestUpdateListMetaReplacesWholePayload(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	seedList(t, svc, "checkbook", "demo")

	require.NoError(t, svc.UpdateListMeta(ctx, superUser, "checkbook", "demo", map[string]any{"a": 1, "b": 2}))
	require.NoError(t, svc.UpdateListMeta(ctx, superUser, "checkbook", "demo", map[string]any{"b": 3}))

	list, err := svc.GetList(ctx, superUser, "checkbook", "demo")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": 3}, list.Meta)

	err = svc.UpdateListMeta(ctx, editorUser, "checkbook", "demo", map[string]any{})
	assertDomainStatus(t, err, http.StatusUnauthorized)
}

func TestPublicViewerSentinel(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	seedList(t, svc, "checkbook", "demo")
	require.NoError(t, svc.CreateItem(ctx, editorUser, "checkbook", "demo", Item{"id": "i1"}))

	_, err := svc.GetItems(ctx, strangeUsr, "checkbook", "demo", ItemQuery{})
	assertDomainStatus(t, err, http.StatusUnauthorized)
	_, err = svc.GetItems(ctx, anonymous, "checkbook", "demo", ItemQuery{})
	assertDomainStatus(t, err, http.StatusUnauthorized)

	require.NoError(t, svc.UpdateList(ctx, superUser, "checkbook", "demo", UpdateListInput{
		Viewers: []string{"public"},
	}))

	// Everyone can read items now, including anonymous callers.
	items, err := svc.GetItems(ctx, strangeUsr, "checkbook", "demo", ItemQuery{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	_, err = svc.GetItem(ctx, anonymous, "checkbook", "demo", "i1")
	assert.NoError(t, err)

	// Writes still require editor.
	err = svc.CreateItem(ctx, strangeUsr, "checkbook", "demo", Item{"id": "i2"})
	assertDomainStatus(t, err, http.StatusUnauthorized)

	// Flipping back revokes access again.
	require.NoError(t, svc.UpdateList(ctx, superUser, "checkbook", "demo", UpdateListInput{
		Viewers: []string{},
	}))
	_, err = svc.GetItems(ctx, strangeUsr, "checkbook", "demo", ItemQuery{})
	assertDomainStatus(t, err, http.StatusUnauthorized)
}

func TestItemLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	seedList(t, svc, "checkbook", "demo")

	err := svc.CreateItem(ctx, editorUser, "checkbook", "demo", Item{"amount": 5})
	assertDomainStatus(t, err, http.StatusBadRequest)
	assert.Contains(t, err.Error(), `"item.id" is required`)

	// A slash in the id would escape the items collection.
	err = svc.CreateItem(ctx, editorUser, "checkbook", "demo", Item{"id": "a/b"})
	assertDomainStatus(t, err, http.StatusBadRequest)
	assert.Contains(t, err.Error(), `"item.id" must not contain "/"`)

	require.NoError(t, svc.CreateItem(ctx, editorUser, "checkbook", "demo", Item{"id": "i1", "amount": 5, "note": "keep"}))

	err = svc.CreateItem(ctx, editorUser, "checkbook", "demo", Item{"id": "i1"})
	assertDomainStatus(t, err, http.StatusConflict)

	// Patch merges shallowly into the stored item.
	require.NoError(t, svc.UpdateItem(ctx, editorUser, "checkbook", "demo", "i1", Item{"amount": 7}))
	item, err := svc.GetItem(ctx, viewerUser, "checkbook", "demo", "i1")
	require.NoError(t, err)
	assert.EqualValues(t, 7, item["amount"])
	assert.Equal(t, "keep", item["note"])

	err = svc.UpdateItem(ctx, editorUser, "checkbook", "demo", "i9", Item{"amount": 1})
	assertDomainStatus(t, err, http.StatusNotFound)

	require.NoError(t, svc.DeleteItem(ctx, editorUser, "checkbook", "demo", "i1"))
	_, err = svc.GetItem(ctx, viewerUser, "checkbook", "demo", "i1")
	assertDomainStatus(t, err, http.StatusNotFound)
	err = svc.DeleteItem(ctx, editorUser, "checkbook", "demo", "i1")
	assertDomainStatus(t, err, http.StatusNotFound)
}

func TestGetItemsQuery(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	seedList(t, svc, "checkbook", "demo")

	for i, amount := range []int{1, 9, 5} {
		require.NoError(t, svc.CreateItem(ctx, editorUser, "checkbook", "demo", Item{
			"id":     fmt.Sprintf("i%d", i+1),
			"amount": amount,
		}))
	}

	items, err := svc.GetItems(ctx, viewerUser, "checkbook", "demo", ItemQuery{
		Where:   []docstore.Filter{{Field: "amount", Op: ">", Value: 2}},
		OrderBy: "amount",
		Order:   "desc",
		Limit:   1,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.EqualValues(t, 9, items[0]["amount"])
}

func TestAddItemsBulk(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	seedList(t, svc, "checkbook", "demo")

	count := docstore.MaxBatchSize + 50
	items := make([]Item, count)
	for i := range items {
		items[i] = Item{"id": fmt.Sprintf("i%04d", i), "rank": i}
	}
	require.NoError(t, svc.AddItemsBulk(ctx, editorUser, "checkbook", "demo", items))

	fetched, err := svc.GetItems(ctx, viewerUser, "checkbook", "demo", ItemQuery{})
	require.NoError(t, err)
	assert.Len(t, fetched, count)

	item, err := svc.GetItem(ctx, viewerUser, "checkbook", "demo", "i0000")
	require.NoError(t, err)
	assert.EqualValues(t, 0, item["rank"])

	// Reruns overwrite by id instead of conflicting.
	require.NoError(t, svc.AddItemsBulk(ctx, editorUser, "checkbook", "demo", []Item{
		{"id": "i0000", "rank": 99},
	}))
	item, err = svc.GetItem(ctx, viewerUser, "checkbook", "demo", "i0000")
	require.NoError(t, err)
	assert.EqualValues(t, 99, item["rank"])

	err = svc.AddItemsBulk(ctx, editorUser, "checkbook", "demo", []Item{{"rank": 1}})
	assertDomainStatus(t, err, http.StatusBadRequest)
	err = svc.AddItemsBulk(ctx, editorUser, "checkbook", "demo", []Item{{"id": "a/b"}})
	assertDomainStatus(t, err, http.StatusBadRequest)
	err = svc.AddItemsBulk(ctx, viewerUser, "checkbook", "demo", []Item{{"id": "x"}})
	assertDomainStatus(t, err, http.StatusUnauthorized)
}

func TestDeleteListCascades(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	seedList(t, svc, "checkbook", "demo")
	require.NoError(t, svc.CreateItem(ctx, editorUser, "checkbook", "demo", Item{"id": "i1"}))

	err := svc.DeleteList(ctx, editorUser, "checkbook", "demo")
	assertDomainStatus(t, err, http.StatusUnauthorized)

	require.NoError(t, svc.DeleteList(ctx, superUser, "checkbook", "demo"))

	_, err = svc.GetList(ctx, superUser, "checkbook", "demo")
	assertDomainStatus(t, err, http.StatusNotFound)
	_, err = store.Get(ctx, "lists/checkbook!demo/items/i1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestListAllAndDeleteAllOwned(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	seedList(t, svc, "checkbook", "demo")
	seedList(t, svc, "read", "tri")
	require.NoError(t, svc.CreateItem(ctx, editorUser, "checkbook", "demo", Item{"id": "i1"}))

	lists, err := svc.ListAll(ctx, superUser)
	require.NoError(t, err)
	assert.Len(t, lists, 2)

	// Editor and viewer roles do not surface lists here.
	lists, err = svc.ListAll(ctx, editorUser)
	require.NoError(t, err)
	assert.Empty(t, lists)

	require.NoError(t, svc.DeleteAllOwned(ctx, superUser))
	lists, err = svc.ListAll(ctx, superUser)
	require.NoError(t, err)
	assert.Empty(t, lists)

	// Only the list documents go; item documents are left behind.
	_, err = store.Get(ctx, "lists/checkbook!demo/items/i1")
	assert.NoError(t, err)

	// Owning nothing is fine.
	assert.NoError(t, svc.DeleteAllOwned(ctx, strangeUsr))
}
