package series

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/event-reminders/backend/internal/storage/models"
	"github.com/event-reminders/backend/internal/validation"
)

// seriesTag is reported by the struct-level validators of this package. The
// error message travels as the tag parameter.
const seriesTag = "series"

var weekdayCodes = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

func init() {
	validation.Validate.RegisterStructValidation(createRequestValidation, CreateRequest{})
	validation.Validate.RegisterStructValidation(ruleRequestValidation, RuleRequest{})
	validation.RegisterCustomMessages(seriesTag)
}

// CreateRequest is the body of a recurring series creation.
type CreateRequest struct {
	Title        string      `json:"title" validate:"required,notblank,max=200"`
	Description  string      `json:"description" validate:"max=5000"`
	StartDate    time.Time   `json:"start_date" validate:"required"`
	EndDate      time.Time   `json:"end_date" validate:"required,gtfield=StartDate"`
	Timezone     string      `json:"timezone" validate:"omitempty,iana_tz"`
	Mode         string      `json:"mode" validate:"required,oneof=in_person online hybrid"`
	Location     *string     `json:"location" validate:"omitempty,max=500"`
	VirtualLink  *string     `json:"virtual_link" validate:"omitempty,url"`
	Visibility   string      `json:"visibility" validate:"omitempty,oneof=public private"`
	AccessPolicy string      `json:"access_policy" validate:"omitempty,oneof=free paid tier"`
	Price        *float64    `json:"price"`
	Currency     *string     `json:"currency"`
	RequiredTier *string     `json:"required_tier"`
	Recurrence   RuleRequest `json:"recurrence"`
}

// RuleRequest is the recurrence rule of a series.
type RuleRequest struct {
	Frequency      string     `json:"frequency" validate:"required,oneof=DAILY WEEKLY MONTHLY YEARLY LUNAR"`
	Interval       int        `json:"interval" validate:"omitempty,min=1,max=365"`
	EndDate        *time.Time `json:"end_date"`
	MaxOccurrences *int       `json:"max_occurrences" validate:"omitempty,min=1,max=1000"`
	Weekdays       []string   `json:"weekdays" validate:"omitempty,max=7,dive,oneof=SU MO TU WE TH FR SA"`
	MonthDay       *int       `json:"month_day" validate:"omitempty,min=1,max=31"`
	LunarPhase     *string    `json:"lunar_phase" validate:"omitempty,oneof=new first_quarter full last_quarter"`
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func createRequestValidation(sl validator.StructLevel) {
	req := sl.Current().Interface().(CreateRequest)

	switch req.Mode {
	case models.ModeInPerson:
		if blank(req.Location) {
			sl.ReportError(req.Location, "location", "Location", seriesTag, "is required for in-person events")
		}
	case models.ModeOnline:
		if blank(req.VirtualLink) {
			sl.ReportError(req.VirtualLink, "virtual_link", "VirtualLink", seriesTag, "is required for online events")
		}
	case models.ModeHybrid:
		if blank(req.Location) {
			sl.ReportError(req.Location, "location", "Location", seriesTag, "is required for hybrid events")
		}
		if blank(req.VirtualLink) {
			sl.ReportError(req.VirtualLink, "virtual_link", "VirtualLink", seriesTag, "is required for hybrid events")
		}
	}

	switch req.AccessPolicy {
	case models.AccessPaid:
		if req.Price == nil || *req.Price <= 0 {
			sl.ReportError(req.Price, "price", "Price", seriesTag, "must be greater than zero for paid events")
		}
		if req.Currency == nil || len(*req.Currency) != 3 || strings.ToUpper(*req.Currency) != *req.Currency {
			sl.ReportError(req.Currency, "currency", "Currency", seriesTag, "must be a 3-letter uppercase currency code")
		}
	case models.AccessTier:
		if blank(req.RequiredTier) {
			sl.ReportError(req.RequiredTier, "required_tier", "RequiredTier", seriesTag, "is required for tier-gated events")
		}
	default:
		if req.Price != nil {
			sl.ReportError(req.Price, "price", "Price", seriesTag, "is only allowed for paid events")
		}
	}

	if req.Recurrence.EndDate != nil && !req.Recurrence.EndDate.After(req.StartDate) {
		sl.ReportError(req.Recurrence.EndDate, "recurrence.end_date", "EndDate", seriesTag, "must be after the start date")
	}
}

func ruleRequestValidation(sl validator.StructLevel) {
	rule := sl.Current().Interface().(RuleRequest)

	if len(rule.Weekdays) > 0 && rule.Frequency != models.FrequencyWeekly {
		sl.ReportError(rule.Weekdays, "weekdays", "Weekdays", seriesTag, "is only allowed for WEEKLY series")
	}
	if rule.MonthDay != nil && rule.Frequency != models.FrequencyMonthly {
		sl.ReportError(rule.MonthDay, "month_day", "MonthDay", seriesTag, "is only allowed for MONTHLY series")
	}
	if rule.Frequency == models.FrequencyLunar && rule.LunarPhase == nil {
		sl.ReportError(rule.LunarPhase, "lunar_phase", "LunarPhase", seriesTag, "is required for LUNAR series")
	}
	if rule.LunarPhase != nil && rule.Frequency != models.FrequencyLunar {
		sl.ReportError(rule.LunarPhase, "lunar_phase", "LunarPhase", seriesTag, "is only allowed for LUNAR series")
	}
}

// weekdays converts two-letter day codes.
func (r RuleRequest) weekdays() models.WeekdayList {
	if len(r.Weekdays) == 0 {
		return nil
	}
	out := make(models.WeekdayList, 0, len(r.Weekdays))
	for _, code := range r.Weekdays {
		if d, ok := weekdayCodes[code]; ok {
			out = append(out, d)
		}
	}
	return out
}

// InstancesQuery selects a page of occurrences. Nil bounds use the service
// defaults.
type InstancesQuery struct {
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// ExceptionRequest cancels or modifies one occurrence.
type ExceptionRequest struct {
	Action      string     `json:"action" validate:"required,oneof=cancel modify"`
	Date        string     `json:"date" validate:"required"`
	Title       *string    `json:"title" validate:"omitempty,notblank,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=5000"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
	Location    *string    `json:"location" validate:"omitempty,max=500"`
	VirtualLink *string    `json:"virtual_link" validate:"omitempty,url"`
}
