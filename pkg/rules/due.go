package rules

import (
	"fmt"
	"time"

	"github.com/dukex/onboardflow/pkg/models"
)

// Basis holds the reference dates a due rule or schedule may be relative to.
type Basis struct {
	StartDate      *time.Time
	EndDate        *time.Time
	ActivationTime time.Time
}

// BasisFor builds the basis of a node activated at activationTime for subject.
func BasisFor(subject models.SubjectContext, activationTime time.Time) Basis {
	return Basis{
		StartDate:      subject.StartDate,
		EndDate:        subject.EndDate,
		ActivationTime: activationTime,
	}
}

// ComputeDueAt applies the rule's offset to its basis. It returns nil when the basis date is missing.
func ComputeDueAt(rule models.DueRuleConfig, basis Basis) *time.Time {
	var reference *time.Time

	switch rule.Basis {
	case models.DueBasisStartDate:
		reference = basis.StartDate
	case models.DueBasisEndDate:
		reference = basis.EndDate
	case models.DueBasisActivationTime:
		if !basis.ActivationTime.IsZero() {
			reference = &basis.ActivationTime
		}
	}

	if reference == nil {
		return nil
	}

	due := shift(*reference, rule.Offset, rule.Direction)

	return &due
}

// ComputeSendAt resolves an email schedule. The send time, when set, replaces the clock time
// of the shifted date in the basis's location.
func ComputeSendAt(schedule models.EmailSchedule, basis Basis) (*time.Time, error) {
	rule := models.DueRuleConfig{Offset: schedule.Offset, Direction: schedule.Direction}

	switch schedule.RelativeTo {
	case models.ScheduleBasisStartDate:
		rule.Basis = models.DueBasisStartDate
	case models.ScheduleBasisEndDate:
		rule.Basis = models.DueBasisEndDate
	case models.ScheduleBasisActivationTime:
		rule.Basis = models.DueBasisActivationTime
	default:
		return nil, fmt.Errorf("%w: schedule basis %q", ErrUnsupportedRule, schedule.RelativeTo)
	}

	sendAt := ComputeDueAt(rule, basis)
	if sendAt == nil || schedule.SendTime == "" {
		return sendAt, nil
	}

	clock, err := time.Parse("15:04", schedule.SendTime)
	if err != nil {
		return nil, fmt.Errorf("%w: send time %q", ErrUnsupportedRule, schedule.SendTime)
	}

	at := time.Date(sendAt.Year(), sendAt.Month(), sendAt.Day(), clock.Hour(), clock.Minute(), 0, 0, sendAt.Location())

	return &at, nil
}

func shift(reference time.Time, offset *models.Offset, direction models.Direction) time.Time {
	if offset == nil || offset.Value == 0 {
		return reference
	}

	value := offset.Value
	if direction == models.DirectionBefore {
		value = -value
	}

	switch offset.Unit {
	case models.OffsetUnitDays:
		return reference.AddDate(0, 0, value)
	case models.OffsetUnitWeeks:
		return reference.AddDate(0, 0, 7*value)
	case models.OffsetUnitMonths:
		return reference.AddDate(0, value, 0)
	default:
		return reference
	}
}
