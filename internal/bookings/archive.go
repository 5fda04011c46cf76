package bookings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

// S3API is the subset of the S3 client used by Archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive copies booked appointments to S3 as JSON. It is best effort: a
// failed upload never undoes a booking.
type Archive struct {
	client S3API
	bucket string
	prefix string
	logger *logging.Logger
}

// NewArchive creates an Archive. If bucket is empty, all operations are no-ops.
func NewArchive(client S3API, bucket, prefix string, logger *logging.Logger) *Archive {
	if logger == nil {
		logger = logging.Default()
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "appointments"
	}
	return &Archive{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Enabled returns true if archival is configured.
func (a *Archive) Enabled() bool {
	return a != nil && a.bucket != "" && a.client != nil
}

// Key is the object key for an appointment.
func (a *Archive) Key(patientID, appointmentID string) string {
	return fmt.Sprintf("%s/%s/%s.json", a.prefix, patientID, appointmentID)
}

// Put uploads every appointment and sets S3Key on those that landed.
func (a *Archive) Put(ctx context.Context, appts []*Appointment) {
	if !a.Enabled() {
		return
	}
	for _, appt := range appts {
		key := a.Key(appt.PatientID, appt.AppointmentID)
		data, err := json.Marshal(appt)
		if err != nil {
			a.logger.Warn("archive marshal failed", "appointment_id", appt.AppointmentID, "error", err)
			continue
		}
		_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			a.logger.Warn("archive upload failed", "patient_id", appt.PatientID, "appointment_id", appt.AppointmentID, "error", err)
			continue
		}
		appt.S3Key = key
	}
}
