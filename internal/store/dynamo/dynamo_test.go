package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/store"
)

// fakeClient scripts the transactional calls and records their inputs.
type fakeClient struct {
	Client

	writes   []*dynamodb.TransactWriteItemsInput
	writeErr error
	getOut   *dynamodb.TransactGetItemsOutput

	// items answers GetItem with one item per table.
	items map[string]map[string]types.AttributeValue
	// writeErrs are returned by successive writes before writeErr applies.
	writeErrs []error
	onWrite   func(f *fakeClient)
}

func (f *fakeClient) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[aws.ToString(in.TableName)]}, nil
}

func (f *fakeClient) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.writes = append(f.writes, in)
	if f.onWrite != nil {
		f.onWrite(f)
	}
	if len(f.writeErrs) > 0 {
		err := f.writeErrs[0]
		f.writeErrs = f.writeErrs[1:]
		return nil, err
	}
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeClient) TransactGetItems(ctx context.Context, in *dynamodb.TransactGetItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error) {
	return f.getOut, nil
}

func canceled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		reasons[i] = types.CancellationReason{Code: aws.String(c)}
	}
	return &types.TransactionCanceledException{CancellationReasons: reasons}
}

func marshal(t *testing.T, v any) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(v)
	require.NoError(t, err)
	return av
}

func TestWriteCollection_ConditionsOnBaseRevision(t *testing.T) {
	f := &fakeClient{}
	s := New(f, DefaultTables())

	rev, err := s.WriteCollection(context.Background(), "w1", model.Links, 4, []model.Item{{ID: "a", Type: model.ItemLink, URL: "https://a"}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), rev)

	require.Len(t, f.writes, 1)
	items := f.writes[0].TransactItems
	require.Len(t, items, 2)
	update := items[0].Update
	require.NotNil(t, update)
	assert.Equal(t, "attribute_exists(workspace_id) AND revision = :base", aws.ToString(update.ConditionExpression))
	assert.Equal(t, &types.AttributeValueMemberN{Value: "4"}, update.ExpressionAttributeValues[":base"])
	assert.Equal(t, "WorkspaceCollections", aws.ToString(items[1].Put.TableName))
}

func TestWriteCollection_ConflictCarriesSnapshot(t *testing.T) {
	links := []model.Item{{ID: "a", Type: model.ItemLink, URL: "https://a"}}
	f := &fakeClient{
		writeErr: canceled("ConditionalCheckFailed", "None"),
		getOut: &dynamodb.TransactGetItemsOutput{Responses: []types.ItemResponse{
			{Item: marshal(t, model.Workspace{ID: "w1", Revision: 1})},
			{Item: marshal(t, collectionRecord{WorkspaceID: "w1", Collection: "links", Items: links})},
			{},
			{},
			{},
		}},
	}
	s := New(f, DefaultTables())

	_, err := s.WriteCollection(context.Background(), "w1", model.Links, 0, nil)
	require.ErrorIs(t, err, store.ErrRevisionConflict)

	var conflict *store.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(1), conflict.Current.Revision)
	assert.Equal(t, links, conflict.Current.Links)
	assert.NotNil(t, conflict.Current.Notes)
}

func TestWriteCollection_MissingWorkspace(t *testing.T) {
	f := &fakeClient{
		writeErr: canceled("ConditionalCheckFailed", "None"),
		getOut:   &dynamodb.TransactGetItemsOutput{Responses: make([]types.ItemResponse, 5)},
	}
	s := New(f, DefaultTables())

	_, err := s.WriteCollection(context.Background(), "gone", model.Notes, 0, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateWorkspace_SlugCollision(t *testing.T) {
	f := &fakeClient{writeErr: canceled("ConditionalCheckFailed", "None", "None")}
	s := New(f, DefaultTables())

	err := s.CreateWorkspace(context.Background(), model.Workspace{ID: "w1", Slug: "taken"}, model.Member{ID: "m1", WorkspaceID: "w1", UserID: "u1"}, model.Collections{})
	assert.ErrorIs(t, err, store.ErrSlugTaken)

	require.Len(t, f.writes, 1)
	assert.Len(t, f.writes[0].TransactItems, 3+len(model.CollectionKeys))
}

func TestCanceledAt(t *testing.T) {
	err := canceled("None", "ConditionalCheckFailed")
	assert.False(t, canceledAt(err, 0))
	assert.True(t, canceledAt(err, 1))
	assert.False(t, canceledAt(err, 5))
	assert.False(t, canceledAt(errors.New("boom"), 0))
	assert.False(t, canceledAt(nil, 0))
}

// itemSize follows DynamoDB's item size accounting.
func itemSize(item map[string]types.AttributeValue) int {
	n := 0
	for name, v := range item {
		n += len(name) + attrSize(v)
	}
	return n
}

func attrSize(v types.AttributeValue) int {
	switch v := v.(type) {
	case *types.AttributeValueMemberS:
		return len(v.Value)
	case *types.AttributeValueMemberN:
		return len(v.Value)
	case *types.AttributeValueMemberM:
		return 3 + len(v.Value) + itemSize(v.Value)
	case *types.AttributeValueMemberL:
		n := 3 + len(v.Value)
		for _, e := range v.Value {
			n += attrSize(e)
		}
		return n
	default:
		return 1
	}
}

func TestCollectionPut_LargestValidCollectionFitsOneItem(t *testing.T) {
	tests := []struct {
		name string
		key  model.CollectionKey
		item func(i int) model.Item
	}{
		{"large notes", model.Notes, func(i int) model.Item {
			return model.Item{ID: fmt.Sprintf("n%d", i), Type: model.ItemNote, Content: strings.Repeat("x", model.MaxItemContentBytes)}
		}},
		{"many small statuses", model.Statuses, func(i int) model.Item {
			return model.Item{ID: fmt.Sprintf("s%d", i), Type: model.ItemStatus, Title: "t", URL: "u", State: "s", Variant: "v"}
		}},
		{"many titled links", model.Links, func(i int) model.Item {
			return model.Item{ID: fmt.Sprintf("l%04d", i), Type: model.ItemLink, Title: strings.Repeat("t", 1000), Category: "c", URL: "https://example.com"}
		}},
	}
	s := New(&fakeClient{}, DefaultTables())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var items []model.Item
			for i := 0; ; i++ {
				next := append(model.CloneItems(items), tt.item(i))
				if model.ValidateItems(tt.key, next) != nil {
					break
				}
				items = next
			}
			require.NotEmpty(t, items)

			cp, err := s.collectionPut("w1", tt.key, items)
			require.NoError(t, err)
			assert.Less(t, itemSize(cp.Put.Item), 400*1024)
		})
	}
}

// raceClient serves one invite whose use count another redeemer bumps while
// the first consume is being committed.
func raceClient(t *testing.T, maxUses int) *fakeClient {
	t.Helper()
	tables := DefaultTables()
	inv := model.Invite{
		ID:          "inv1",
		WorkspaceID: "w1",
		Slug:        "race",
		CodeHash:    "hash",
		Role:        model.RoleEditor,
		ExpiresAt:   time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxUses:     maxUses,
	}
	f := &fakeClient{
		items: map[string]map[string]types.AttributeValue{
			tables.Slugs:      marshal(t, slugRecord{Slug: "race", Kind: slugInvite, WorkspaceID: "w1", InviteID: "inv1"}),
			tables.Invites:    marshal(t, inv),
			tables.Workspaces: marshal(t, model.Workspace{ID: "w1", Slug: "team"}),
		},
		writeErrs: []error{canceled("ConditionalCheckFailed", "None")},
	}
	f.onWrite = func(f *fakeClient) {
		if len(f.writes) == 1 {
			inv.UseCount = 1
			f.items[tables.Invites] = marshal(t, inv)
		}
	}
	return f
}

func consumeReq() store.ConsumeRequest {
	return store.ConsumeRequest{
		Slug:     "race",
		CodeHash: "hash",
		UserID:   "bob",
		MemberID: "m-bob",
		Now:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestConsumeInvite_LostUseCountRaceOnSpentInvite(t *testing.T) {
	f := raceClient(t, 1)
	s := New(f, DefaultTables())

	_, _, err := s.ConsumeInvite(context.Background(), consumeReq())
	assert.ErrorIs(t, err, store.ErrInviteInvalid)
	require.Len(t, f.writes, 1)
	use := f.writes[0].TransactItems[0].Update
	require.NotNil(t, use)
	assert.Equal(t, "use_count = :seen AND attribute_not_exists(revoked_at)", aws.ToString(use.ConditionExpression))
	assert.Equal(t, &types.AttributeValueMemberN{Value: "0"}, use.ExpressionAttributeValues[":seen"])
}

func TestConsumeInvite_LostUseCountRaceRetries(t *testing.T) {
	f := raceClient(t, 2)
	s := New(f, DefaultTables())

	ws, m, err := s.ConsumeInvite(context.Background(), consumeReq())
	require.NoError(t, err)
	assert.Equal(t, "w1", ws.ID)
	assert.Equal(t, model.RoleEditor, m.Role)

	require.Len(t, f.writes, 2)
	use := f.writes[1].TransactItems[0].Update
	assert.Equal(t, &types.AttributeValueMemberN{Value: "1"}, use.ExpressionAttributeValues[":seen"])
}
