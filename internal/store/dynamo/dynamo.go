// Package dynamo implements store.Store on DynamoDB. Revision checks are
// expressed as condition expressions inside TransactWriteItems so the
// revision bump and the collection replacement commit together.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jun/gophsync/internal/logutils"
	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/store"
)

// Client is the subset of *dynamodb.Client used by Store.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactGetItems(ctx context.Context, params *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Tables names the five tables the store uses.
//
//	Workspaces  pk workspace_id
//	Collections pk workspace_id, sk collection
//	Members     pk workspace_id, sk user_id, GSI user_id-index on user_id
//	Invites     pk workspace_id, sk invite_id
//	Slugs       pk slug
type Tables struct {
	Workspaces  string
	Collections string
	Members     string
	Invites     string
	Slugs       string
}

// DefaultTables returns the table names used when none are configured.
func DefaultTables() Tables {
	return Tables{
		Workspaces:  "Workspaces",
		Collections: "WorkspaceCollections",
		Members:     "WorkspaceMembers",
		Invites:     "WorkspaceInvites",
		Slugs:       "WorkspaceSlugs",
	}
}

const (
	userIndex      = "user_id-index"
	slugWorkspace  = "workspace"
	slugInvite     = "invite"
	consumeRetries = 3
)

type collectionRecord struct {
	WorkspaceID string       `dynamodbav:"workspace_id"`
	Collection  string       `dynamodbav:"collection"`
	Items       []model.Item `dynamodbav:"items"`
}

type slugRecord struct {
	Slug        string `dynamodbav:"slug"`
	Kind        string `dynamodbav:"kind"`
	WorkspaceID string `dynamodbav:"workspace_id"`
	InviteID    string `dynamodbav:"invite_id,omitempty"`
}

// Store implements store.Store.
type Store struct {
	client Client
	tables Tables
}

var _ store.Store = (*Store)(nil)

// New creates a Store backed by client.
func New(client Client, tables Tables) *Store {
	return &Store{client: client, tables: tables}
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func num(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func wsKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"workspace_id": str(id)}
}

// canceledAt reports whether a cancelled transaction failed its condition
// check on the item at index i.
func canceledAt(err error, i int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || i >= len(tce.CancellationReasons) {
		return false
	}
	return aws.ToString(tce.CancellationReasons[i].Code) == "ConditionalCheckFailed"
}

func conditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *Store) put(table string, v any, cond string) (types.TransactWriteItem, error) {
	av, err := attributevalue.MarshalMap(v)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("failed to marshal %s item: %w", table, err)
	}
	p := &types.Put{TableName: aws.String(table), Item: av}
	if cond != "" {
		p.ConditionExpression = aws.String(cond)
	}
	return types.TransactWriteItem{Put: p}, nil
}

func (s *Store) collectionPut(workspaceID string, key model.CollectionKey, items []model.Item) (types.TransactWriteItem, error) {
	if items == nil {
		items = []model.Item{}
	}
	return s.put(s.tables.Collections, collectionRecord{WorkspaceID: workspaceID, Collection: string(key), Items: items}, "")
}

func (s *Store) CreateWorkspace(ctx context.Context, ws model.Workspace, owner model.Member, seed model.Collections) error {
	ws.Revision = 0
	var writes []types.TransactWriteItem

	slugPut, err := s.put(s.tables.Slugs, slugRecord{Slug: ws.Slug, Kind: slugWorkspace, WorkspaceID: ws.ID}, "attribute_not_exists(slug)")
	if err != nil {
		return err
	}
	wsPut, err := s.put(s.tables.Workspaces, ws, "attribute_not_exists(workspace_id)")
	if err != nil {
		return err
	}
	memberPut, err := s.put(s.tables.Members, owner, "")
	if err != nil {
		return err
	}
	writes = append(writes, slugPut, wsPut, memberPut)
	for _, k := range model.CollectionKeys {
		cp, err := s.collectionPut(ws.ID, k, seed.Get(k))
		if err != nil {
			return err
		}
		writes = append(writes, cp)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if err != nil {
		if canceledAt(err, 0) {
			return store.ErrSlugTaken
		}
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

func (s *Store) GetWorkspace(ctx context.Context, workspaceID string) (*model.Workspace, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Workspaces),
		Key:            wsKey(workspaceID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	if out.Item == nil {
		return nil, store.ErrNotFound
	}
	var ws model.Workspace
	if err := attributevalue.UnmarshalMap(out.Item, &ws); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workspace: %w", err)
	}
	return &ws, nil
}

func (s *Store) ListWorkspacesForUser(ctx context.Context, userID string) ([]model.WorkspaceSummary, error) {
	var members []model.Member
	p := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Members),
		IndexName:              aws.String(userIndex),
		KeyConditionExpression: aws.String("user_id = :uid"),
		FilterExpression:       aws.String("attribute_not_exists(removed_at)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": str(userID),
		},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query memberships: %w", err)
		}
		var batch []model.Member
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal memberships: %w", err)
		}
		members = append(members, batch...)
	}

	out := []model.WorkspaceSummary{}
	for _, m := range members {
		ws, err := s.GetWorkspace(ctx, m.WorkspaceID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, model.WorkspaceSummary{
			ID:          ws.ID,
			Slug:        ws.Slug,
			DisplayName: ws.DisplayName,
			Role:        m.Role,
			CanInvite:   m.CanInvite,
			Revision:    ws.Revision,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

func (s *Store) ReadSnapshot(ctx context.Context, workspaceID string) (*model.Snapshot, error) {
	gets := []types.TransactGetItem{{Get: &types.Get{TableName: aws.String(s.tables.Workspaces), Key: wsKey(workspaceID)}}}
	for _, k := range model.CollectionKeys {
		gets = append(gets, types.TransactGetItem{Get: &types.Get{
			TableName: aws.String(s.tables.Collections),
			Key: map[string]types.AttributeValue{
				"workspace_id": str(workspaceID),
				"collection":   str(string(k)),
			},
		}})
	}

	out, err := s.client.TransactGetItems(ctx, &dynamodb.TransactGetItemsInput{TransactItems: gets})
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(out.Responses) != len(gets) || out.Responses[0].Item == nil {
		return nil, store.ErrNotFound
	}

	var ws model.Workspace
	if err := attributevalue.UnmarshalMap(out.Responses[0].Item, &ws); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workspace: %w", err)
	}
	snap := &model.Snapshot{Revision: ws.Revision}
	for i, k := range model.CollectionKeys {
		var rec collectionRecord
		if item := out.Responses[i+1].Item; item != nil {
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s: %w", k, err)
			}
		}
		snap.Set(k, rec.Items)
	}
	return snap, nil
}

func (s *Store) WriteCollection(ctx context.Context, workspaceID string, key model.CollectionKey, baseRevision int64, items []model.Item) (int64, error) {
	cp, err := s.collectionPut(workspaceID, key, items)
	if err != nil {
		return 0, err
	}
	bump := types.TransactWriteItem{Update: &types.Update{
		TableName:           aws.String(s.tables.Workspaces),
		Key:                 wsKey(workspaceID),
		UpdateExpression:    aws.String("SET revision = revision + :one"),
		ConditionExpression: aws.String("attribute_exists(workspace_id) AND revision = :base"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":  num(1),
			":base": num(baseRevision),
		},
	}}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{bump, cp},
	})
	if err == nil {
		return baseRevision + 1, nil
	}
	if !canceledAt(err, 0) {
		return 0, fmt.Errorf("failed to write collection: %w", err)
	}

	current, rerr := s.ReadSnapshot(ctx, workspaceID)
	if rerr != nil {
		return 0, rerr
	}
	logutils.Log.WithFields(logutils.Fields{
		"workspace_id": workspaceID,
		"collection":   key,
		"base":         baseRevision,
		"current":      current.Revision,
	}).Debug("collection write conflicted")
	return 0, &store.ConflictError{BaseRevision: baseRevision, Current: *current}
}

func (s *Store) GetMember(ctx context.Context, workspaceID, userID string) (*model.Member, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Members),
		Key: map[string]types.AttributeValue{
			"workspace_id": str(workspaceID),
			"user_id":      str(userID),
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	if out.Item == nil {
		return nil, store.ErrNotFound
	}
	var m model.Member
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal member: %w", err)
	}
	return &m, nil
}

func (s *Store) queryMembers(ctx context.Context, workspaceID, filter string, values map[string]types.AttributeValue) ([]model.Member, error) {
	values[":ws"] = str(workspaceID)
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tables.Members),
		KeyConditionExpression:    aws.String("workspace_id = :ws"),
		ExpressionAttributeValues: values,
		ConsistentRead:            aws.Bool(true),
	}
	if filter != "" {
		in.FilterExpression = aws.String(filter)
	}

	var members []model.Member
	p := dynamodb.NewQueryPaginator(s.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query members: %w", err)
		}
		var batch []model.Member
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal members: %w", err)
		}
		members = append(members, batch...)
	}
	return members, nil
}

func (s *Store) GetMemberByID(ctx context.Context, workspaceID, memberID string) (*model.Member, error) {
	members, err := s.queryMembers(ctx, workspaceID, "member_id = :mid", map[string]types.AttributeValue{
		":mid": str(memberID),
	})
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, store.ErrNotFound
	}
	return &members[0], nil
}

func (s *Store) ListMembers(ctx context.Context, workspaceID string) ([]model.Member, error) {
	if _, err := s.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	members, err := s.queryMembers(ctx, workspaceID, "attribute_not_exists(removed_at)", map[string]types.AttributeValue{})
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []model.Member{}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].JoinedAt.Before(members[j].JoinedAt) })
	return members, nil
}

func (s *Store) UpdateMember(ctx context.Context, m model.Member) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tables.Members),
		Key: map[string]types.AttributeValue{
			"workspace_id": str(m.WorkspaceID),
			"user_id":      str(m.UserID),
		},
		UpdateExpression:    aws.String("SET #role = :role, can_invite = :ci"),
		ConditionExpression: aws.String("member_id = :mid"),
		ExpressionAttributeNames: map[string]string{
			"#role": "role",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":role": str(string(m.Role)),
			":ci":   &types.AttributeValueMemberBOOL{Value: m.CanInvite},
			":mid":  str(m.ID),
		},
	})
	if conditionFailed(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, workspaceID, memberID string, at time.Time) error {
	m, err := s.GetMemberByID(ctx, workspaceID, memberID)
	if err != nil {
		return err
	}
	removedAt, err := attributevalue.Marshal(at)
	if err != nil {
		return fmt.Errorf("failed to marshal time: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tables.Members),
		Key: map[string]types.AttributeValue{
			"workspace_id": str(workspaceID),
			"user_id":      str(m.UserID),
		},
		UpdateExpression:    aws.String("SET removed_at = :at"),
		ConditionExpression: aws.String("member_id = :mid AND attribute_not_exists(removed_at)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at":  removedAt,
			":mid": str(memberID),
		},
	})
	if conditionFailed(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

func (s *Store) CreateInvite(ctx context.Context, inv model.Invite) error {
	slugPut, err := s.put(s.tables.Slugs, slugRecord{Slug: inv.Slug, Kind: slugInvite, WorkspaceID: inv.WorkspaceID, InviteID: inv.ID}, "attribute_not_exists(slug)")
	if err != nil {
		return err
	}
	invPut, err := s.put(s.tables.Invites, inv, "")
	if err != nil {
		return err
	}
	wsCheck := types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
		TableName:           aws.String(s.tables.Workspaces),
		Key:                 wsKey(inv.WorkspaceID),
		ConditionExpression: aws.String("attribute_exists(workspace_id)"),
	}}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{slugPut, invPut, wsCheck},
	})
	switch {
	case err == nil:
		return nil
	case canceledAt(err, 0):
		return store.ErrSlugTaken
	case canceledAt(err, 2):
		return store.ErrNotFound
	}
	return fmt.Errorf("failed to create invite: %w", err)
}

func (s *Store) ListInvites(ctx context.Context, workspaceID string) ([]model.Invite, error) {
	invites := []model.Invite{}
	p := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Invites),
		KeyConditionExpression: aws.String("workspace_id = :ws"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ws": str(workspaceID),
		},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query invites: %w", err)
		}
		var batch []model.Invite
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal invites: %w", err)
		}
		invites = append(invites, batch...)
	}
	sort.Slice(invites, func(i, j int) bool { return invites[i].CreatedAt.After(invites[j].CreatedAt) })
	return invites, nil
}

func inviteKey(workspaceID, inviteID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"workspace_id": str(workspaceID),
		"invite_id":    str(inviteID),
	}
}

func (s *Store) GetInvite(ctx context.Context, workspaceID, inviteID string) (*model.Invite, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Invites),
		Key:            inviteKey(workspaceID, inviteID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get invite: %w", err)
	}
	if out.Item == nil {
		return nil, store.ErrNotFound
	}
	var inv model.Invite
	if err := attributevalue.UnmarshalMap(out.Item, &inv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal invite: %w", err)
	}
	return &inv, nil
}

func (s *Store) RevokeInvite(ctx context.Context, workspaceID, inviteID string, at time.Time) (*model.Invite, error) {
	revokedAt, err := attributevalue.Marshal(at)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal time: %w", err)
	}
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tables.Invites),
		Key:                 inviteKey(workspaceID, inviteID),
		UpdateExpression:    aws.String("SET revoked_at = if_not_exists(revoked_at, :at)"),
		ConditionExpression: aws.String("attribute_exists(invite_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at": revokedAt,
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if conditionFailed(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke invite: %w", err)
	}
	var inv model.Invite
	if err := attributevalue.UnmarshalMap(out.Attributes, &inv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal invite: %w", err)
	}
	return &inv, nil
}

func (s *Store) lookupSlug(ctx context.Context, slug string) (*slugRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Slugs),
		Key:       map[string]types.AttributeValue{"slug": str(slug)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get slug: %w", err)
	}
	if out.Item == nil {
		return nil, store.ErrNotFound
	}
	var rec slugRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal slug: %w", err)
	}
	return &rec, nil
}

// ConsumeInvite reads the invite, decides the outcome with the shared
// redemption rules and commits it conditioned on the use count it observed.
// A lost race with another redeemer is retried a few times.
func (s *Store) ConsumeInvite(ctx context.Context, req store.ConsumeRequest) (*model.Workspace, *model.Member, error) {
	rec, err := s.lookupSlug(ctx, req.Slug)
	if errors.Is(err, store.ErrNotFound) || (err == nil && rec.Kind != slugInvite) {
		return nil, nil, store.ErrInviteInvalid
	}
	if err != nil {
		return nil, nil, err
	}

	for attempt := 0; attempt < consumeRetries; attempt++ {
		ws, m, err := s.tryConsume(ctx, rec, req)
		if !errors.Is(err, errRaced) {
			return ws, m, err
		}
	}
	return nil, nil, store.ErrInviteInvalid
}

var errRaced = errors.New("invite changed concurrently")

func (s *Store) tryConsume(ctx context.Context, rec *slugRecord, req store.ConsumeRequest) (*model.Workspace, *model.Member, error) {
	inv, err := s.GetInvite(ctx, rec.WorkspaceID, rec.InviteID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, store.ErrInviteInvalid
	}
	if err != nil {
		return nil, nil, err
	}
	if err := store.CheckRedeemable(inv, req.CodeHash, req.Now); err != nil {
		return nil, nil, err
	}
	ws, err := s.GetWorkspace(ctx, inv.WorkspaceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, store.ErrInviteInvalid
	}
	if err != nil {
		return nil, nil, err
	}
	existing, err := s.GetMember(ctx, inv.WorkspaceID, req.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}

	member, consumed := store.Redeem(inv, existing, req)
	if !consumed {
		return ws, &member, nil
	}

	memberCond := "attribute_not_exists(user_id)"
	if existing != nil {
		memberCond = "attribute_exists(removed_at)"
	}
	memberPut, err := s.put(s.tables.Members, member, memberCond)
	if err != nil {
		return nil, nil, err
	}
	use := types.TransactWriteItem{Update: &types.Update{
		TableName:           aws.String(s.tables.Invites),
		Key:                 inviteKey(inv.WorkspaceID, inv.ID),
		UpdateExpression:    aws.String("SET use_count = use_count + :one, used_by_user_id = :uid"),
		ConditionExpression: aws.String("use_count = :seen AND attribute_not_exists(revoked_at)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":  num(1),
			":uid":  str(req.UserID),
			":seen": num(int64(inv.UseCount)),
		},
	}}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{use, memberPut},
	})
	if canceledAt(err, 0) || canceledAt(err, 1) {
		return nil, nil, errRaced
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to consume invite: %w", err)
	}
	return ws, &member, nil
}
