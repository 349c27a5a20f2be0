package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/embedkit/trihard/checkpoint"
)

// DDBClient is the interface for the DynamoDB operations the commit log uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ErrConcurrentModification is returned when another writer committed a
// checkpoint pointer for the same run concurrently.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// The commit table uses base_uri (S) as partition key and version (N) as sort
// key. Each committed item records the checkpoint object it points at.
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name trihard-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST

// latestCommitted returns the checkpoint name of the newest committed version.
func (s *Store) latestCommitted(ctx context.Context) (string, error) {
	version, name, err := s.latestVersion(ctx)
	if err != nil {
		return "", err
	}
	if version == 0 {
		return "", checkpoint.ErrNoCheckpoint
	}
	return name, nil
}

func (s *Store) latestVersion(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI()},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commit table: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in commit table")
	}
	nameAttr, ok := item["checkpoint_name"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid checkpoint_name attribute in commit table")
	}

	var version uint64
	if _, err := fmt.Sscanf(versionAttr.Value, "%d", &version); err != nil {
		return 0, "", fmt.Errorf("parse commit version: %w", err)
	}

	return version, nameAttr.Value, nil
}

// commitLatest appends a new pointer version with a conditional write, so
// two writers racing on the same version fail instead of clobbering.
func (s *Store) commitLatest(ctx context.Context, name string) error {
	currentVersion, _, err := s.latestVersion(ctx)
	if err != nil {
		return err
	}

	newVersion := currentVersion + 1

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":        &types.AttributeValueMemberS{Value: s.baseURI()},
			"version":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", newVersion)},
			"checkpoint_name": &types.AttributeValueMemberS{Value: name},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("commit checkpoint pointer: %w", err)
	}

	return nil
}
