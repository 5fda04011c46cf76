package bookings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
)

type mockDynamo struct {
	queryInputs  []*dynamodb.QueryInput
	queryOutputs []*dynamodb.QueryOutput
	transactIn   *dynamodb.TransactWriteItemsInput
	transactErr  error
	getItem      map[string]types.AttributeValue
	updateIn     *dynamodb.UpdateItemInput
	updateErr    error
}

func (m *mockDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.queryInputs = append(m.queryInputs, in)
	if len(m.queryOutputs) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := m.queryOutputs[0]
	m.queryOutputs = m.queryOutputs[1:]
	return out, nil
}

func (m *mockDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	m.transactIn = in
	if m.transactErr != nil {
		return nil, m.transactErr
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (m *mockDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: m.getItem}, nil
}

func (m *mockDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateIn = in
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	attrs := map[string]types.AttributeValue{}
	for k, v := range m.getItem {
		attrs[k] = v
	}
	attrs["kiosk"] = in.ExpressionAttributeValues[":k"]
	attrs["updatedAt"] = in.ExpressionAttributeValues[":u"]
	return &dynamodb.UpdateItemOutput{Attributes: attrs}, nil
}

func slotItem(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"slotKey": &types.AttributeValueMemberS{Value: key}}
}

func testReservation(t *testing.T, in ...string) (Reservation, []*Appointment) {
	t.Helper()
	res, err := bookReq(in...).Parse()
	require.NoError(t, err)
	return res, res.Appointments(testNow, sequentialIDs())
}

func TestDynamoBookedSlotsFollowsPages(t *testing.T) {
	client := &mockDynamo{queryOutputs: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{slotItem("2025-03-04#11:15"), slotItem("2025-03-04#bogus")},
			LastEvaluatedKey: map[string]types.AttributeValue{"resourceKey": &types.AttributeValueMemberS{Value: "doctor#1"}},
		},
		{Items: []map[string]types.AttributeValue{slotItem("2025-03-04#09:30")}},
	}}
	store := NewDynamoStore(client, "slots", "appts", nil)

	booked, err := store.BookedSlots(context.Background(), resource.Doctor("1"), slots.NewDate(2025, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, []string{"09:30", "11:15"}, slots.Strings(booked))

	require.Len(t, client.queryInputs, 2)
	first := client.queryInputs[0]
	assert.Equal(t, "slots", aws.ToString(first.TableName))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "doctor#1"}, first.ExpressionAttributeValues[":rk"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "2025-03-04#"}, first.ExpressionAttributeValues[":prefix"])
	assert.NotNil(t, client.queryInputs[1].ExclusiveStartKey)
}

func TestDynamoReserveBuildsConditionalTransaction(t *testing.T) {
	client := &mockDynamo{}
	store := NewDynamoStore(client, "slots", "appts", nil)
	res, appts := testReservation(t, "11:00", "11:15")

	require.NoError(t, store.Reserve(context.Background(), res, appts))
	require.NotNil(t, client.transactIn)
	items := client.transactIn.TransactItems
	require.Len(t, items, 4)

	lock := items[2].Put
	assert.Equal(t, "slots", aws.ToString(lock.TableName))
	assert.Equal(t, "attribute_not_exists(slotKey)", aws.ToString(lock.ConditionExpression))
	var decoded slotLock
	require.NoError(t, attributevalue.UnmarshalMap(lock.Item, &decoded))
	assert.Equal(t, "doctor#1", decoded.ResourceKey)
	assert.Equal(t, "2025-03-04#11:15", decoded.SlotKey)
	assert.Equal(t, "appt-02", decoded.AppointmentID)

	record := items[3].Put
	assert.Equal(t, "appts", aws.ToString(record.TableName))
	var appt Appointment
	require.NoError(t, attributevalue.UnmarshalMap(record.Item, &appt))
	assert.Equal(t, StatusBooked, appt.Status)
	assert.Equal(t, "11:15", appt.Details.TimeSlot)
	assert.Equal(t, "1", appt.DoctorID)
}

func TestDynamoReserveMapsCancellationReasons(t *testing.T) {
	reason := func(code string) types.CancellationReason { return types.CancellationReason{Code: aws.String(code)} }
	client := &mockDynamo{transactErr: &types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			reason("None"), reason("None"),
			reason("ConditionalCheckFailed"), reason("None"),
			reason("None"), reason("None"),
		},
	}}
	store := NewDynamoStore(client, "slots", "appts", nil)
	res, appts := testReservation(t, "11:00", "11:15", "11:30")

	err := store.Reserve(context.Background(), res, appts)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"11:15"}, slots.Strings(conflict.Slots))
}

func TestDynamoReserveWithoutReasonsConflictsAll(t *testing.T) {
	client := &mockDynamo{transactErr: &types.TransactionCanceledException{Message: aws.String("cancelled")}}
	store := NewDynamoStore(client, "slots", "appts", nil)
	res, appts := testReservation(t, "11:00", "11:15")

	err := store.Reserve(context.Background(), res, appts)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"11:00", "11:15"}, slots.Strings(conflict.Slots))
}

func TestDynamoReserveOtherErrors(t *testing.T) {
	client := &mockDynamo{transactErr: errors.New("throttled")}
	store := NewDynamoStore(client, "slots", "appts", nil)
	res, appts := testReservation(t, "11:00")

	err := store.Reserve(context.Background(), res, appts)
	require.Error(t, err)
	var conflict *ConflictError
	assert.False(t, errors.As(err, &conflict))
}

func TestDynamoListForPatient(t *testing.T) {
	item, err := attributevalue.MarshalMap(Appointment{PatientID: "pat-123456", AppointmentID: "appt-09", Status: StatusBooked})
	require.NoError(t, err)
	client := &mockDynamo{queryOutputs: []*dynamodb.QueryOutput{{
		Items:            []map[string]types.AttributeValue{item},
		LastEvaluatedKey: appointmentKey("pat-123456", "appt-09"),
	}}}
	store := NewDynamoStore(client, "slots", "appts", nil)

	page, err := store.ListForPatient(context.Background(), "pat-123456", 1000, encodeCursor("appt-10"))
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "appt-09", page.Items[0].AppointmentID)
	assert.Equal(t, encodeCursor("appt-09"), page.Cursor)

	in := client.queryInputs[0]
	assert.False(t, aws.ToBool(in.ScanIndexForward))
	assert.Equal(t, int32(MaxListLimit), aws.ToInt32(in.Limit))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "appt-10"}, in.ExclusiveStartKey["appointmentId"])

	_, err = store.ListForPatient(context.Background(), "pat-123456", 10, "!!not-base64")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDynamoAttachKiosk(t *testing.T) {
	existing, err := attributevalue.MarshalMap(Appointment{
		PatientID:     "pat-123456",
		AppointmentID: "appt-01",
		Kiosk:         map[string]any{"createdAt": "2025-03-04T08:00:00Z", "bp": "120/80"},
	})
	require.NoError(t, err)
	client := &mockDynamo{getItem: existing}
	store := NewDynamoStore(client, "slots", "appts", nil)

	now := time.Date(2025, 3, 4, 9, 30, 0, 0, time.UTC)
	appt, err := store.AttachKiosk(context.Background(), "pat-123456", "appt-01", map[string]any{"bp": "118/76"}, now)
	require.NoError(t, err)
	assert.Equal(t, "118/76", appt.Kiosk["bp"])
	assert.Equal(t, "2025-03-04T08:00:00Z", appt.Kiosk["createdAt"])
	assert.Equal(t, "2025-03-04T09:30:00Z", appt.Kiosk["updatedAt"])
	assert.Equal(t, "kiosk", appt.Kiosk["source"])

	in := client.updateIn
	assert.Equal(t, "SET #k = :k, #u = :u", aws.ToString(in.UpdateExpression))
	assert.Equal(t, types.ReturnValueAllNew, in.ReturnValues)
}

func TestDynamoAttachKioskNotFound(t *testing.T) {
	store := NewDynamoStore(&mockDynamo{}, "slots", "appts", nil)
	_, err := store.AttachKiosk(context.Background(), "pat-123456", "appt-01", map[string]any{}, testNow)
	assert.ErrorIs(t, err, ErrNotFound)

	existing, err := attributevalue.MarshalMap(Appointment{PatientID: "pat-123456", AppointmentID: "appt-01"})
	require.NoError(t, err)
	client := &mockDynamo{getItem: existing, updateErr: &types.ConditionalCheckFailedException{Message: aws.String("gone")}}
	store = NewDynamoStore(client, "slots", "appts", nil)
	_, err = store.AttachKiosk(context.Background(), "pat-123456", "appt-01", map[string]any{}, testNow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewDynamoStorePanics(t *testing.T) {
	assert.Panics(t, func() { NewDynamoStore(nil, "slots", "appts", nil) })
	assert.Panics(t, func() { NewDynamoStore(&mockDynamo{}, "", "appts", nil) })
}
