package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

type dynamoAPI interface {
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(context.Context, *dynamodb.TransactWriteItemsInput, ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// slotLock is one row of the slots table: the existence of the item is the
// lock on (resourceKey, date#time).
type slotLock struct {
	ResourceKey   string `dynamodbav:"resourceKey"`
	SlotKey       string `dynamodbav:"slotKey"`
	PatientID     string `dynamodbav:"patientId"`
	AppointmentID string `dynamodbav:"appointmentId"`
	CreatedAt     string `dynamodbav:"createdAt"`
}

// DynamoStore keeps slot locks and appointments in two DynamoDB tables and
// reserves them with TransactWriteItems.
type DynamoStore struct {
	client            dynamoAPI
	slotsTable        string
	appointmentsTable string
	logger            *logging.Logger
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, slotsTable, appointmentsTable string, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("bookings: dynamodb client cannot be nil")
	}
	if slotsTable == "" || appointmentsTable == "" {
		panic("bookings: table names cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStore{
		client:            client,
		slotsTable:        slotsTable,
		appointmentsTable: appointmentsTable,
		logger:            logger,
	}
}

func (s *DynamoStore) BookedSlots(ctx context.Context, ref resource.Ref, date slots.Date) ([]slots.TimeSlot, error) {
	var (
		out      []slots.TimeSlot
		startKey map[string]types.AttributeValue
	)
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.slotsTable),
			KeyConditionExpression: aws.String("resourceKey = :rk AND begins_with(slotKey, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":rk":     &types.AttributeValueMemberS{Value: ref.Key()},
				":prefix": &types.AttributeValueMemberS{Value: date.String() + "#"},
			},
			ProjectionExpression: aws.String("slotKey"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("bookings: failed to query slots: %w", err)
		}
		for _, item := range resp.Items {
			attr, ok := item["slotKey"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			ts, err := slotFromKey(attr.Value)
			if err != nil {
				s.logger.Warn("skipping malformed slot lock", "resource_key", ref.Key(), "slot_key", attr.Value)
				continue
			}
			out = append(out, ts)
		}
		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		startKey = resp.LastEvaluatedKey
	}
	return slots.NewSet(out...).Sorted(), nil
}

func (s *DynamoStore) Reserve(ctx context.Context, res Reservation, appts []*Appointment) error {
	if len(appts) == 0 {
		return errors.New("bookings: no appointments to reserve")
	}
	items := make([]types.TransactWriteItem, 0, 2*len(appts))
	for _, appt := range appts {
		lock, err := attributevalue.MarshalMap(slotLock{
			ResourceKey:   appt.ResourceKey,
			SlotKey:       appt.DateKey,
			PatientID:     appt.PatientID,
			AppointmentID: appt.AppointmentID,
			CreatedAt:     appt.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("bookings: failed to marshal slot lock: %w", err)
		}
		record, err := attributevalue.MarshalMap(appt)
		if err != nil {
			return fmt.Errorf("bookings: failed to marshal appointment: %w", err)
		}
		items = append(items,
			types.TransactWriteItem{Put: &types.Put{
				TableName:           aws.String(s.slotsTable),
				Item:                lock,
				ConditionExpression: aws.String("attribute_not_exists(slotKey)"),
			}},
			types.TransactWriteItem{Put: &types.Put{
				TableName:           aws.String(s.appointmentsTable),
				Item:                record,
				ConditionExpression: aws.String("attribute_not_exists(patientId) AND attribute_not_exists(appointmentId)"),
			}},
		)
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return fmt.Errorf("bookings: failed to reserve slots: %w", err)
	}

	// Cancellation reasons line up with TransactItems: even indexes are locks.
	conflict := &ConflictError{}
	for i, reason := range canceled.CancellationReasons {
		if i%2 != 0 || i/2 >= len(res.Slots) {
			continue
		}
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			conflict.Slots = append(conflict.Slots, res.Slots[i/2])
		}
	}
	if len(conflict.Slots) == 0 {
		conflict.Slots = append(conflict.Slots, res.Slots...)
	}
	return conflict
}

func (s *DynamoStore) ListForPatient(ctx context.Context, patientID string, limit int, cursor string) (Page, error) {
	after, err := decodeCursor(cursor)
	if err != nil {
		return Page{}, err
	}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.appointmentsTable),
		KeyConditionExpression: aws.String("patientId = :pid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pid": &types.AttributeValueMemberS{Value: patientID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(clampLimit(limit))),
	}
	if after != "" {
		in.ExclusiveStartKey = appointmentKey(patientID, after)
	}
	resp, err := s.client.Query(ctx, in)
	if err != nil {
		return Page{}, fmt.Errorf("bookings: failed to list appointments: %w", err)
	}
	page := Page{Items: []Appointment{}}
	if err := attributevalue.UnmarshalListOfMaps(resp.Items, &page.Items); err != nil {
		return Page{}, fmt.Errorf("bookings: failed to decode appointments: %w", err)
	}
	if attr, ok := resp.LastEvaluatedKey["appointmentId"].(*types.AttributeValueMemberS); ok {
		page.Cursor = encodeCursor(attr.Value)
	}
	return page, nil
}

func (s *DynamoStore) Get(ctx context.Context, patientID, appointmentID string) (*Appointment, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.appointmentsTable),
		Key:       appointmentKey(patientID, appointmentID),
	})
	if err != nil {
		return nil, fmt.Errorf("bookings: failed to fetch appointment: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var appt Appointment
	if err := attributevalue.UnmarshalMap(out.Item, &appt); err != nil {
		return nil, fmt.Errorf("bookings: failed to decode appointment: %w", err)
	}
	return &appt, nil
}

func (s *DynamoStore) AttachKiosk(ctx context.Context, patientID, appointmentID string, kiosk map[string]any, now time.Time) (*Appointment, error) {
	current, err := s.Get(ctx, patientID, appointmentID)
	if err != nil {
		return nil, err
	}
	merged := MergeKiosk(current.Kiosk, kiosk, now)
	mergedAttr, err := attributevalue.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("bookings: failed to marshal kiosk data: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.appointmentsTable),
		Key:                 appointmentKey(patientID, appointmentID),
		UpdateExpression:    aws.String("SET #k = :k, #u = :u"),
		ConditionExpression: aws.String("attribute_exists(patientId) AND attribute_exists(appointmentId)"),
		ExpressionAttributeNames: map[string]string{
			"#k": "kiosk",
			"#u": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": mergedAttr,
			":u": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bookings: failed to attach kiosk data: %w", err)
	}
	var appt Appointment
	if err := attributevalue.UnmarshalMap(out.Attributes, &appt); err != nil {
		return nil, fmt.Errorf("bookings: failed to decode appointment: %w", err)
	}
	return &appt, nil
}

func appointmentKey(patientID, appointmentID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"patientId":     &types.AttributeValueMemberS{Value: patientID},
		"appointmentId": &types.AttributeValueMemberS{Value: appointmentID},
	}
}
