package intake

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/padel-scheduler/internal/slot"
)

// CreateRequest is the API payload for a new booking.
type CreateRequest struct {
	TargetDate     string `json:"target_date" validate:"required,datetime=2006-01-02"`
	OptionPrimary  string `json:"option_primary" validate:"required,clocktime"`
	OptionFallback string `json:"option_fallback" validate:"omitempty,clocktime"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// clocktime accepts the shorthand forms the selection policy parses,
	// e.g. "7pm", "7:30pm", "11am".
	_ = v.RegisterValidation("clocktime", func(fl validator.FieldLevel) bool {
		_, err := slot.ParseClockTime(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the payload and, on success, returns the parsed target date.
func (r *CreateRequest) Validate() (time.Time, error) {
	if err := validate.Struct(r); err != nil {
		return time.Time{}, err
	}
	return time.Parse("2006-01-02", r.TargetDate)
}
