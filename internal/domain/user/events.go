package user

import "time"

// Domain event names published by the user context. These four events are
// the only surface the scheduling core consumes from the outside.
const (
	EventCreated         = "UserCreated"
	EventBirthdayChanged = "UserBirthdayChanged"
	EventTimezoneChanged = "UserTimezoneChanged"
	EventDeleted         = "UserDeleted"
)

type Envelope struct {
	EventType   string    `json:"eventType"`
	Context     string    `json:"context"`
	OccurredAt  time.Time `json:"occurredAt"`
	AggregateID string    `json:"aggregateId"`
}

func newEnvelope(eventType, aggregateID string) Envelope {
	return Envelope{
		EventType:   eventType,
		Context:     "user",
		OccurredAt:  time.Now().UTC(),
		AggregateID: aggregateID,
	}
}

type Created struct {
	Envelope
	UserID      string `json:"userId"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DateOfBirth Date   `json:"dateOfBirth"`
	Timezone    string `json:"timezone"`
	WebhookURL  string `json:"webhookUrl"`
}

func NewCreated(u Info) Created {
	return Created{
		Envelope:    newEnvelope(EventCreated, u.ID),
		UserID:      u.ID,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		DateOfBirth: u.DateOfBirth,
		Timezone:    u.Timezone,
		WebhookURL:  u.WebhookURL,
	}
}

type BirthdayChanged struct {
	Envelope
	UserID         string `json:"userId"`
	NewDateOfBirth Date   `json:"newDateOfBirth"`
}

func NewBirthdayChanged(userID string, dob Date) BirthdayChanged {
	return BirthdayChanged{
		Envelope:       newEnvelope(EventBirthdayChanged, userID),
		UserID:         userID,
		NewDateOfBirth: dob,
	}
}

type TimezoneChanged struct {
	Envelope
	UserID      string `json:"userId"`
	NewTimezone string `json:"newTimezone"`
}

func NewTimezoneChanged(userID, tz string) TimezoneChanged {
	return TimezoneChanged{
		Envelope:    newEnvelope(EventTimezoneChanged, userID),
		UserID:      userID,
		NewTimezone: tz,
	}
}

type Deleted struct {
	Envelope
	UserID string `json:"userId"`
}

func NewDeleted(userID string) Deleted {
	return Deleted{
		Envelope: newEnvelope(EventDeleted, userID),
		UserID:   userID,
	}
}
