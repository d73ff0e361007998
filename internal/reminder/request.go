package reminder

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/event-reminders/backend/internal/storage/models"
	"github.com/event-reminders/backend/internal/validation"
)

// metadataTag is reported by the metadata check. The message travels as the
// tag parameter.
const metadataTag = "reminder_metadata"

func init() {
	validation.Validate.RegisterStructValidation(createRequestValidation, CreateRequest{})
	validation.RegisterCustomMessages(metadataTag)
}

// CreateRequest is the body of a reminder creation.
type CreateRequest struct {
	Type        string          `json:"type" validate:"required,oneof=email push sms"`
	TriggerTime *time.Time      `json:"trigger_time" validate:"required"`
	Metadata    models.Metadata `json:"metadata"`
}

func createRequestValidation(sl validator.StructLevel) {
	req := sl.Current().Interface().(CreateRequest)
	md := req.Metadata

	set := 0
	for _, present := range []bool{md.Email != nil, md.Push != nil, md.SMS != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		sl.ReportError(md, "metadata", "Metadata", metadataTag, "must carry a single delivery variant")
		return
	}
	if set == 1 && md.Channel() != req.Type {
		sl.ReportError(md, "metadata", "Metadata", metadataTag, "variant does not match the reminder type")
		return
	}
	if req.Type == models.ReminderSMS && md.SMS == nil {
		sl.ReportError(md.SMS, "metadata.sms", "SMS", metadataTag, "is required for sms reminders")
	}
}

// ListQuery filters and pages the caller's reminders for one event.
type ListQuery struct {
	Type   string     `json:"type" validate:"omitempty,oneof=email push sms"`
	Status string     `json:"status" validate:"omitempty,oneof=PENDING SENT FAILED CANCELED"`
	From   *time.Time `json:"from"`
	To     *time.Time `json:"to"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}
