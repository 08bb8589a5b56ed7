package models

import (
	"encoding/json"
	"time"
)

type Reservation struct {
	ID          string       `json:"id"`
	RoomID      string       `json:"classroom_id"`
	OwnerID     string       `json:"user_id"`
	Interval    TimeInterval `json:"-"`
	Status      string       `json:"status"` // active, cancelled
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Kind        string       `json:"reservation_type"` // academico, no_academico
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CancelledAt *time.Time   `json:"cancelled_at,omitempty"`
	CancelledBy string       `json:"cancelled_by,omitempty"`
}

func (r *Reservation) IsActive() bool {
	return r.Status == StatusActive
}

// ReservationDetail is a reservation with its classroom and owner profile
// embedded, the shape the HTTP API returns.
type ReservationDetail struct {
	Reservation
	Classroom *Room
	User      *Profile
}

type reservationFields Reservation

type reservationWire struct {
	reservationFields
	StartDatetime time.Time `json:"start_datetime"`
	EndDatetime   time.Time `json:"end_datetime"`
	Classroom     *Room     `json:"classroom,omitempty"`
	User          *Profile  `json:"user,omitempty"`
}

func newReservationWire(r Reservation) reservationWire {
	return reservationWire{
		reservationFields: reservationFields(r),
		StartDatetime:     r.Interval.Start(),
		EndDatetime:       r.Interval.End(),
	}
}

func (r Reservation) MarshalJSON() ([]byte, error) {
	return json.Marshal(newReservationWire(r))
}

func (r *Reservation) UnmarshalJSON(data []byte) error {
	var w reservationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return w.into(r)
}

func (d ReservationDetail) MarshalJSON() ([]byte, error) {
	w := newReservationWire(d.Reservation)
	w.Classroom = d.Classroom
	w.User = d.User
	return json.Marshal(w)
}

func (d *ReservationDetail) UnmarshalJSON(data []byte) error {
	var w reservationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	d.Classroom = w.Classroom
	d.User = w.User
	return w.into(&d.Reservation)
}

// into copies the wire fields into r. Both bounds zero leave the interval unset.
func (w reservationWire) into(r *Reservation) error {
	*r = Reservation(w.reservationFields)
	if w.StartDatetime.IsZero() && w.EndDatetime.IsZero() {
		r.Interval = TimeInterval{}
		return nil
	}
	iv, err := NewTimeInterval(w.StartDatetime, w.EndDatetime)
	if err != nil {
		return err
	}
	r.Interval = iv
	return nil
}

// ReservationFilter narrows ListReservations. Zero values mean "no filter".
type ReservationFilter struct {
	UserID string
	RoomID string
	From   time.Time
	To     time.Time
	Kind   string
	Status string
	Limit  int
}

type Stats struct {
	TotalReservations  int            `json:"total_reservas"`
	ActiveReservations int            `json:"reservas_activas"`
	TotalTeachers      int            `json:"total_docentes"`
	ReservationsByKind map[string]int `json:"por_tipo"`
}

// ReservationRow is a reservation joined with the room and owner details
// that notifications, exports and the sheet mirror display.
type ReservationRow struct {
	Reservation  Reservation `json:"reservation"`
	RoomName     string      `json:"room_name"`
	RoomLocation string      `json:"room_location,omitempty"`
	OwnerName    string      `json:"owner_name"`
	OwnerEmail   string      `json:"owner_email,omitempty"`
}
